package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLockMutualExclusion(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	resource := fmt.Sprintf("test:mutex:%d", time.Now().UnixNano())

	a := NewLock(rdb, resource)
	b := NewLock(rdb, resource)

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i, l := range []*Lock{a, b} {
		wg.Add(1)
		go func(idx int, l *Lock) {
			defer wg.Done()
			ok, err := l.TryLock(ctx, 10*time.Second)
			if err != nil {
				t.Errorf("try lock: %v", err)
				return
			}
			results[idx] = ok
		}(i, l)
	}
	wg.Wait()

	if results[0] == results[1] {
		t.Fatalf("exactly one TryLock must win, got a=%v b=%v", results[0], results[1])
	}

	winner, loser := a, b
	if results[1] {
		winner, loser = b, a
	}

	// 非持有者解锁必须是 no-op：锁仍然在，失败方依旧拿不到
	if err := loser.Unlock(ctx); err != nil {
		t.Fatalf("foreign unlock: %v", err)
	}
	if ok, _ := loser.TryLock(ctx, 10*time.Second); ok {
		t.Fatal("lock acquired after foreign unlock, owner check is broken")
	}

	// 持有者解锁后资源重新可用
	if err := winner.Unlock(ctx); err != nil {
		t.Fatalf("owner unlock: %v", err)
	}
	ok, err := loser.TryLock(ctx, time.Second)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	if !ok {
		t.Fatal("lock not released by owner unlock")
	}
	_ = loser.Unlock(ctx)
}

func TestLockExpiresByTTL(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	resource := fmt.Sprintf("test:ttl:%d", time.Now().UnixNano())

	a := NewLock(rdb, resource)
	ok, err := a.TryLock(ctx, 100*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("try lock: ok=%v err=%v", ok, err)
	}

	time.Sleep(200 * time.Millisecond)

	// TTL 过期后锁应自动释放（持有者崩溃的自愈路径）
	b := NewLock(rdb, resource)
	ok, err = b.TryLock(ctx, time.Second)
	if err != nil {
		t.Fatalf("relock after ttl: %v", err)
	}
	if !ok {
		t.Fatal("lock did not expire by ttl")
	}
	_ = b.Unlock(ctx)
}
