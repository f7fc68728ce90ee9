package redis

import (
	"context"
	"os"
	"testing"
	"time"

	rd "github.com/redis/go-redis/v9"
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
