package redis

import (
	"fmt"
	"time"
)

const (
	// CacheShopPrefix 商铺缓存键前缀（穿透策略使用）。
	CacheShopPrefix = "cache:shop:"
	// LockShopPrefix 商铺缓存重建互斥锁资源前缀（逻辑过期策略使用）。
	// 锁层会自动补上 lock: 前缀，最终键形如 lock:shop:{id}。
	LockShopPrefix = "shop:"

	// CacheNullTTL 空值标记的物理过期时间，防穿透的同时避免长期占用内存。
	CacheNullTTL = 2 * time.Minute

	// OrderStream 存放下单消息的 Stream 名称。
	OrderStream = "stream.orders"
	// OrderGroup 下单消息的消费组组名。
	OrderGroup = "g1"
)

// StockKey 秒杀优惠券的 Redis 库存键。
func StockKey(voucherID uint64) string {
	return fmt.Sprintf("seckill:stock:%d", voucherID)
}

// OrderUserSetKey 记录已抢购某优惠券的用户集合（一人一单快速判定）。
func OrderUserSetKey(voucherID uint64) string {
	return fmt.Sprintf("seckill:order:%d", voucherID)
}

// LockKey 分布式锁键名，resource 为业务自定义标识。
func LockKey(resource string) string {
	return "lock:" + resource
}

// IncrKey 全局 ID 生成器的按天计数键，date 形如 2024:05:01。
func IncrKey(business, date string) string {
	return fmt.Sprintf("incr:%s:%s", business, date)
}
