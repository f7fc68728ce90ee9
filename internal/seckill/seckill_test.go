package seckill

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"dianping/internal/model"

	rd "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testClient 连接测试用 Redis（默认 localhost:6379 的 15 号库），
// 连不上时跳过测试而不是失败。
func testClient(t *testing.T) *rd.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := rd.NewClient(&rd.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

// testDB 每个测试独立的内存 SQLite。
// 命名共享缓存让 gorm 连接池里的多个连接看到同一份数据。
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:seckill_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&model.SeckillVoucher{}, &model.VoucherOrder{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// uniqueVoucherID 用纳秒时间戳当券 ID，避免共用 Redis 时的键冲突。
func uniqueVoucherID() uint64 {
	return uint64(time.Now().UnixNano())
}
