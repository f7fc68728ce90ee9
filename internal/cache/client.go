package cache

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	rediskey "dianping/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// expireField 保留的 Hash 字段，存放逻辑过期时间（RFC3339Nano）。
// 业务对象自身的字段不允许使用该名字。
const expireField = "_expire_at"

// rebuildLockTTL 缓存重建互斥锁的持有上限，重建耗时应远小于它。
const rebuildLockTTL = 10 * time.Second

// rebuildTimeout 单次异步重建（查库 + 回写）的超时。
const rebuildTimeout = 10 * time.Second

// Client 通用对象缓存层，以 Hash 结构存储对象的字段投影。
// 读路径提供两种策略：
//   - FetchWithPassThrough：缓存空值防穿透，物理 TTL 控制新鲜度；
//   - FetchWithLogicalExpire：逻辑过期 + 异步重建防击穿，过期期间返回旧值。
type Client struct {
	rdb  *rd.Client
	pool *rebuildPool
}

// New 创建缓存客户端。workers/queueSize 控制重建协程池的规模与积压上限。
func New(rdb *rd.Client, workers, queueSize int) *Client {
	return &Client{
		rdb:  rdb,
		pool: newRebuildPool(workers, queueSize),
	}
}

// Close 停止重建协程池，已入队的任务会执行完。
func (c *Client) Close() { c.pool.close() }

// Set 将对象按 redis tag 展平写入 Hash，并设置物理 TTL。
func (c *Client) Set(ctx context.Context, key string, obj any, ttl time.Duration) error {
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, obj)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// SetWithLogicalExpire 写入对象并打上逻辑过期时间戳，不设置物理 TTL。
// 该策略下 key 永不被 Redis 淘汰，过期与否由 expireField 判断。
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, obj any, logicalTTL time.Duration) error {
	expireAt := time.Now().Add(logicalTTL).Format(time.RFC3339Nano)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, obj)
	pipe.HSet(ctx, key, expireField, expireAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set logical %s: %w", key, err)
	}
	return nil
}

// Delete 删除缓存条目（更新数据库后失效缓存用）。
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache del %s: %w", key, err)
	}
	return nil
}

// isNullMarker 判断条目是否为空值标记：仅有一个空字段名、空值的字段。
func isNullMarker(m map[string]string) bool {
	if len(m) != 1 {
		return false
	}
	_, ok := m[""]
	return ok
}

// FetchWithPassThrough 带空值缓存的读取（防穿透）。
//  1. 查缓存：命中空值标记 → 续期后返回不存在；命中对象 → 续期后返回；
//  2. 未命中 → 回源 loader；
//  3. loader 查不到 → 写入空值标记（短 TTL）返回不存在；查到 → 写缓存返回。
func FetchWithPassThrough[T any](ctx context.Context, c *Client, keyPrefix string, id uint64,
	loader func(context.Context, uint64) (*T, error), ttl time.Duration) (*T, error) {
	key := keyPrefix + strconv.FormatUint(id, 10)

	res := c.rdb.HGetAll(ctx, key)
	m, err := res.Result()
	if err != nil {
		return nil, fmt.Errorf("cache read %s: %w", key, err)
	}

	if len(m) > 0 {
		if isNullMarker(m) {
			// 空值命中：续期，让重复的无效查询继续被挡在缓存层
			if err := c.rdb.Expire(ctx, key, rediskey.CacheNullTTL).Err(); err != nil {
				log.Printf("cache refresh null ttl %s: %v", key, err)
			}
			return nil, nil
		}
		obj := new(T)
		if err := res.Scan(obj); err != nil {
			return nil, fmt.Errorf("cache scan %s: %w", key, err)
		}
		// 逻辑过期条目不设物理 TTL，续期会破坏「永不被淘汰」的约定
		if _, logical := m[expireField]; !logical {
			if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
				log.Printf("cache refresh ttl %s: %v", key, err)
			}
		}
		return obj, nil
	}

	// 缓存未命中，回源
	obj, err := loader(ctx, id)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		// 数据源也不存在：缓存空值标记，防止穿透
		pipe := c.rdb.TxPipeline()
		pipe.HSet(ctx, key, "", "")
		pipe.Expire(ctx, key, rediskey.CacheNullTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("cache set null %s: %w", key, err)
		}
		return nil, nil
	}
	if err := c.Set(ctx, key, obj, ttl); err != nil {
		return nil, err
	}
	return obj, nil
}

// FetchWithLogicalExpire 逻辑过期读取（防击穿）。
// 该策略假设所有可缓存对象都已由预热流程写入，缓存查不到即视为不存在，
// 不回源数据库。命中后检查逻辑过期时间：
//   - 未过期：直接返回；
//   - 已过期：尝试获取重建锁。拿不到锁说明有人在重建，直接返回旧值；
//     拿到锁后 double check（别人可能刚重建完），仍过期则提交异步重建，
//     当前请求不等待，仍返回旧值。
func FetchWithLogicalExpire[T any](ctx context.Context, c *Client, keyPrefix, lockPrefix string, id uint64,
	loader func(context.Context, uint64) (*T, error), logicalTTL time.Duration) (*T, error) {
	key := keyPrefix + strconv.FormatUint(id, 10)

	res := c.rdb.HGetAll(ctx, key)
	m, err := res.Result()
	if err != nil {
		return nil, fmt.Errorf("cache read %s: %w", key, err)
	}
	// 未命中：热点数据默认已预热，查不到说明数据不存在。
	// 空值标记同样视为不存在：两种策略共用键前缀时，
	// 穿透路径写下的标记不能被当成真实对象解出来
	if len(m) == 0 || isNullMarker(m) {
		return nil, nil
	}

	obj := new(T)
	if err := res.Scan(obj); err != nil {
		return nil, fmt.Errorf("cache scan %s: %w", key, err)
	}
	if !logicallyExpired(m) {
		return obj, nil
	}

	// 已过期，尝试拿重建锁；lockPrefix+id 作为锁资源名
	lock := rediskey.NewLock(c.rdb, lockPrefix+strconv.FormatUint(id, 10))
	acquired, err := lock.TryLock(ctx, rebuildLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		// 有人在重建，用旧值顶着
		return obj, nil
	}

	// double check：拿锁前的瞬间可能已被其他任务重建完成
	res2 := c.rdb.HGetAll(ctx, key)
	m2, err := res2.Result()
	if err != nil {
		unlock(lock)
		return nil, fmt.Errorf("cache read %s: %w", key, err)
	}
	if len(m2) > 0 && !isNullMarker(m2) && !logicallyExpired(m2) {
		unlock(lock)
		fresh := new(T)
		if err := res2.Scan(fresh); err != nil {
			return nil, fmt.Errorf("cache scan %s: %w", key, err)
		}
		return fresh, nil
	}

	// 提交异步重建。锁由重建任务负责释放；任何失败路径都必须走到 unlock，
	// 否则该 key 在锁 TTL 内无法再被重建。
	submitted := c.pool.submit(func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
		defer cancel()
		defer unlock(lock)

		fresh, err := loader(jobCtx, id)
		if err != nil {
			log.Printf("cache rebuild %s: loader: %v", key, err)
			return
		}
		if fresh == nil {
			log.Printf("cache rebuild %s: loader returned nothing, keep stale entry", key)
			return
		}
		if err := c.SetWithLogicalExpire(jobCtx, key, fresh, logicalTTL); err != nil {
			log.Printf("cache rebuild %s: %v", key, err)
		}
	})
	if !submitted {
		// 池子满了：放弃这次重建并立刻还锁，等下一次过期访问再触发
		log.Printf("cache rebuild %s: pool full, dropped", key)
		unlock(lock)
	}

	return obj, nil
}

// logicallyExpired 根据保留字段判断条目是否逻辑过期。
// 没有该字段视为永久有效；字段损坏视为已过期，强制走一次重建修复。
func logicallyExpired(m map[string]string) bool {
	raw, ok := m[expireField]
	if !ok {
		return false
	}
	expireAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		log.Printf("cache: bad %s field %q: %v", expireField, raw, err)
		return true
	}
	return !expireAt.After(time.Now())
}

func unlock(l *rediskey.Lock) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := l.Unlock(ctx); err != nil {
		log.Printf("cache: release rebuild lock: %v", err)
	}
}
