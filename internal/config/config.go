package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	RedisAddr string
	RedisDB   int

	// Kafka 订单事件导出（可选，brokers 为空时关闭）
	KafkaBrokers []string
	KafkaTopic   string

	// 订单 Stream 的消费者身份：同组内多个身份即可水平扩展
	OrderConsumer string

	// 商铺缓存：穿透策略的物理 TTL 与热点数据的逻辑 TTL
	ShopCacheTTL time.Duration
	HotShopTTL   time.Duration

	// 缓存重建协程池
	RebuildWorkers   int
	RebuildQueueSize int

	// 落库兜底锁的持有上限
	SeckillLockTTL time.Duration

	// 秒杀接口限流
	BuyRateLimit  int
	BuyRateWindow time.Duration
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DBPath:           getEnv("DB_PATH", "dianping.db"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:          0,
		KafkaBrokers:     splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "voucher-orders"),
		OrderConsumer:    getEnv("ORDER_CONSUMER", "c1"),
		ShopCacheTTL:     30 * time.Minute,
		HotShopTTL:       30 * time.Second,
		RebuildWorkers:   10,
		RebuildQueueSize: 128,
		SeckillLockTTL:   10 * time.Second,
		BuyRateLimit:     1000,
		BuyRateWindow:    time.Second,
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	shopTTLMin, err := getEnvInt("SHOP_CACHE_TTL_MIN", int(cfg.ShopCacheTTL.Minutes()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SHOP_CACHE_TTL_MIN: %w", err)
	}
	if shopTTLMin <= 0 {
		return AppConfig{}, fmt.Errorf("SHOP_CACHE_TTL_MIN must be > 0")
	}
	cfg.ShopCacheTTL = time.Duration(shopTTLMin) * time.Minute

	hotTTLSec, err := getEnvInt("HOT_SHOP_TTL_SEC", int(cfg.HotShopTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid HOT_SHOP_TTL_SEC: %w", err)
	}
	if hotTTLSec <= 0 {
		return AppConfig{}, fmt.Errorf("HOT_SHOP_TTL_SEC must be > 0")
	}
	cfg.HotShopTTL = time.Duration(hotTTLSec) * time.Second

	workers, err := getEnvInt("REBUILD_WORKERS", cfg.RebuildWorkers)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REBUILD_WORKERS: %w", err)
	}
	if workers <= 0 {
		return AppConfig{}, fmt.Errorf("REBUILD_WORKERS must be > 0")
	}
	cfg.RebuildWorkers = workers

	queueSize, err := getEnvInt("REBUILD_QUEUE_SIZE", cfg.RebuildQueueSize)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REBUILD_QUEUE_SIZE: %w", err)
	}
	if queueSize <= 0 {
		return AppConfig{}, fmt.Errorf("REBUILD_QUEUE_SIZE must be > 0")
	}
	cfg.RebuildQueueSize = queueSize

	lockTTLSec, err := getEnvInt("SECKILL_LOCK_TTL_SEC", int(cfg.SeckillLockTTL.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid SECKILL_LOCK_TTL_SEC: %w", err)
	}
	if lockTTLSec <= 0 {
		return AppConfig{}, fmt.Errorf("SECKILL_LOCK_TTL_SEC must be > 0")
	}
	cfg.SeckillLockTTL = time.Duration(lockTTLSec) * time.Second

	rateLimit, err := getEnvInt("BUY_RATE_LIMIT", cfg.BuyRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BUY_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("BUY_RATE_LIMIT must be > 0")
	}
	cfg.BuyRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("BUY_RATE_WINDOW_SEC", int(cfg.BuyRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BUY_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("BUY_RATE_WINDOW_SEC must be > 0")
	}
	cfg.BuyRateWindow = time.Duration(rateWindowSec) * time.Second

	if cfg.OrderConsumer == "" {
		return AppConfig{}, fmt.Errorf("ORDER_CONSUMER must not be empty")
	}
	// Kafka 为可选导出：只在配置了 brokers 时才要求 topic
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
