package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dianping/internal/cache"
	"dianping/internal/config"
	"dianping/internal/model"
	"dianping/internal/queue"
	"dianping/internal/router"
	"dianping/internal/seckill"
	rediskey "dianping/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// 1. 连接 SQLite，自动建表
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := db.AutoMigrate(&model.Shop{}, &model.SeckillVoucher{}, &model.VoucherOrder{}); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	// 2. 连接 Redis
	rdb := rd.NewClient(&rd.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelPing()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 3. 组装核心组件
	cc := cache.New(rdb, cfg.RebuildWorkers, cfg.RebuildQueueSize)
	defer cc.Close()

	idWorker := rediskey.NewIDWorker(rdb)
	svc := seckill.NewService(db, rdb, idWorker)

	var producer *queue.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}
	finalizer := seckill.NewFinalizer(db, rdb, cfg.SeckillLockTTL, producer)

	// 4. 启动订单落库 Worker
	workerCtx, stopWorker := context.WithCancel(context.Background())
	worker := seckill.NewWorker(rdb, finalizer, cfg.OrderConsumer)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(workerCtx)
	}()

	// 5. HTTP 服务
	r := gin.Default()
	router.Setup(r, db, rdb, cc, svc, cfg)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve: %v", err)
		}
	}()
	log.Printf("listening on %s", cfg.HTTPAddr)

	// 6. 优雅退出：先停收请求，再停 Worker
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	stopWorker()
	select {
	case <-workerDone:
	case <-time.After(5 * time.Second):
		log.Println("order worker did not stop in time")
	}
}
