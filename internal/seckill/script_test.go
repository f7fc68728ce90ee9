package seckill

import (
	"context"
	"sync"
	"testing"

	rediskey "dianping/pkg/redis"
)

func TestAdmissionNeverOversells(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	svc := NewService(nil, rdb, rediskey.NewIDWorker(rdb))

	voucherID := uniqueVoucherID()
	const stock = 5
	const users = 20
	if err := rdb.Set(ctx, rediskey.StockKey(voucherID), stock, 0).Err(); err != nil {
		t.Fatalf("preload stock: %v", err)
	}
	t.Cleanup(func() {
		rdb.Del(ctx, rediskey.StockKey(voucherID), rediskey.OrderUserSetKey(voucherID))
	})

	results := make([]AdmissionResult, users)
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			res, err := svc.SeckillVoucher(ctx, voucherID, uint64(idx+1))
			if err != nil {
				t.Errorf("seckill user %d: %v", idx+1, err)
				return
			}
			results[idx] = res
		}(i)
	}
	wg.Wait()

	admitted, exhausted := 0, 0
	for _, r := range results {
		switch r.Code {
		case Admitted:
			admitted++
			if r.OrderID <= 0 {
				t.Error("admitted result without order id")
			}
		case StockExhausted:
			exhausted++
		default:
			t.Errorf("unexpected code %d", r.Code)
		}
	}
	if admitted != stock {
		t.Fatalf("admitted %d, want exactly %d", admitted, stock)
	}
	if exhausted != users-stock {
		t.Fatalf("exhausted %d, want %d", exhausted, users-stock)
	}

	// 库存最终为 0，绝不为负
	left, err := rdb.Get(ctx, rediskey.StockKey(voucherID)).Int64()
	if err != nil {
		t.Fatalf("read stock: %v", err)
	}
	if left != 0 {
		t.Fatalf("remaining stock %d, want 0", left)
	}
}

func TestAdmissionOnePerUser(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	svc := NewService(nil, rdb, rediskey.NewIDWorker(rdb))

	voucherID := uniqueVoucherID()
	if err := rdb.Set(ctx, rediskey.StockKey(voucherID), 10, 0).Err(); err != nil {
		t.Fatalf("preload stock: %v", err)
	}
	t.Cleanup(func() {
		rdb.Del(ctx, rediskey.StockKey(voucherID), rediskey.OrderUserSetKey(voucherID))
	})

	const userID = 42
	first, err := svc.SeckillVoucher(ctx, voucherID, userID)
	if err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if first.Code != Admitted {
		t.Fatalf("first attempt code %d, want admitted", first.Code)
	}

	for i := 0; i < 3; i++ {
		again, err := svc.SeckillVoucher(ctx, voucherID, userID)
		if err != nil {
			t.Fatalf("repeat attempt: %v", err)
		}
		if again.Code != AlreadyPurchased {
			t.Fatalf("repeat attempt code %d, want already purchased", again.Code)
		}
	}

	// 重复请求不得扣库存
	left, err := rdb.Get(ctx, rediskey.StockKey(voucherID)).Int64()
	if err != nil {
		t.Fatalf("read stock: %v", err)
	}
	if left != 9 {
		t.Fatalf("remaining stock %d, want 9", left)
	}
}

func TestAdmissionMissingStockKeyIsExhausted(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	svc := NewService(nil, rdb, rediskey.NewIDWorker(rdb))

	// 未预热的券：脚本把缺失的库存 key 当 0 处理
	res, err := svc.SeckillVoucher(ctx, uniqueVoucherID(), 1)
	if err != nil {
		t.Fatalf("seckill: %v", err)
	}
	if res.Code != StockExhausted {
		t.Fatalf("code %d, want stock exhausted", res.Code)
	}
}
