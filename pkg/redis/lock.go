package redis

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// instanceID 标识当前进程，保证不同实例生成的锁 token 不会撞车。
var instanceID = strings.ReplaceAll(uuid.New().String(), "-", "")

// lockSeq 进程内递增序号，区分同一进程内的不同持锁任务。
var lockSeq atomic.Int64

// luaUnlockIfMatch 仅当锁值与 token 匹配时才删除，避免误删他人的锁。
// 非原子的「先 GET 再 DEL」存在竞态：比较通过后锁恰好 TTL 过期、
// 又被其他任务抢到，此时 DEL 会删掉新主人的锁，因此必须放进一个脚本执行。
const luaUnlockIfMatch = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// Lock 基于 Redis 的跨进程互斥锁，绑定单个资源。
// TTL 到期后锁自动释放（持有者崩溃时的自愈手段），代价是超出 TTL
// 窗口后不再保证互斥，持锁任务的预期时长应明显小于 TTL。
type Lock struct {
	rdb   *rd.Client
	key   string
	token string
}

// NewLock 创建针对 resource 的锁对象，token = 进程uuid-本地序号。
func NewLock(rdb *rd.Client, resource string) *Lock {
	return &Lock{
		rdb:   rdb,
		key:   LockKey(resource),
		token: fmt.Sprintf("%s-%d", instanceID, lockSeq.Add(1)),
	}
}

// TryLock 单次尝试获取锁（SET NX EX），不阻塞不重试，由调用方决定重试策略。
// 返回 false 属于正常分支而非错误。
func (l *Lock) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("try lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Unlock 原子比对 token 后删除锁；token 不匹配时不做任何事。
func (l *Lock) Unlock(ctx context.Context) error {
	if err := l.rdb.Eval(ctx, luaUnlockIfMatch, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.key, err)
	}
	return nil
}
