package seckill

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"dianping/internal/model"
	rediskey "dianping/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// TestEndToEndSingleUnit 端到端场景：库存 1，两个用户并发抢购，
// 恰好一人通过准入；Worker 清空队列后数据库里恰好一条订单。
func TestEndToEndSingleUnit(t *testing.T) {
	rdb := testClient(t)
	db := testDB(t)
	ctx := context.Background()

	// 隔离共享 Stream，清掉历史残留
	rdb.XGroupDestroy(ctx, rediskey.OrderStream, rediskey.OrderGroup)
	rdb.Del(ctx, rediskey.OrderStream)

	voucherID := uniqueVoucherID()
	v := &model.SeckillVoucher{
		ID:        voucherID,
		Title:     "端到端测试券",
		PayValue:  1200,
		Stock:     1,
		BeginTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	}
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("create voucher: %v", err)
	}
	if err := rdb.Set(ctx, rediskey.StockKey(voucherID), v.Stock, 0).Err(); err != nil {
		t.Fatalf("preload stock: %v", err)
	}
	t.Cleanup(func() {
		rdb.Del(ctx, rediskey.StockKey(voucherID), rediskey.OrderUserSetKey(voucherID))
	})

	svc := NewService(db, rdb, rediskey.NewIDWorker(rdb))

	results := make([]AdmissionResult, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
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

	admitted := 0
	var orderID int64
	for _, r := range results {
		if r.Code == Admitted {
			admitted++
			orderID = r.OrderID
		}
	}
	if admitted != 1 {
		t.Fatalf("admitted %d users for 1 unit of stock", admitted)
	}

	// 启动 Worker 消费队列
	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker := NewWorker(rdb, NewFinalizer(db, rdb, 5*time.Second, nil), "c-test")
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(workerCtx)
	}()

	// 轮询等待异步落库完成
	deadline := time.Now().Add(3 * time.Second)
	var order model.VoucherOrder
	for time.Now().Before(deadline) {
		if err := db.First(&order, orderID).Error; err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if order.ID != orderID {
		t.Fatalf("order %d not persisted before deadline", orderID)
	}

	var count int64
	if err := db.Model(&model.VoucherOrder{}).Where("voucher_id = ?", voucherID).Count(&count).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if count != 1 {
		t.Fatalf("order count %d, want exactly 1", count)
	}

	var after model.SeckillVoucher
	if err := db.First(&after, voucherID).Error; err != nil {
		t.Fatalf("reload voucher: %v", err)
	}
	if after.Stock != 0 {
		t.Fatalf("db stock %d, want 0", after.Stock)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}

// TestWorkerRetriesGroupCreation 启动时建组失败不允许让 Worker 直接退出：
// 障碍清除后它必须自己恢复并继续消费。
func TestWorkerRetriesGroupCreation(t *testing.T) {
	rdb := testClient(t)
	db := testDB(t)
	ctx := context.Background()

	rdb.XGroupDestroy(ctx, rediskey.OrderStream, rediskey.OrderGroup)
	rdb.Del(ctx, rediskey.OrderStream)

	// 用错误类型占住 Stream 键，让 XGROUP CREATE 持续报 WRONGTYPE
	if err := rdb.Set(ctx, rediskey.OrderStream, "blocked", 0).Err(); err != nil {
		t.Fatalf("block stream key: %v", err)
	}

	voucherID := uniqueVoucherID()
	v := &model.SeckillVoucher{
		ID:        voucherID,
		Title:     "重试测试券",
		PayValue:  600,
		Stock:     1,
		BeginTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	}
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("create voucher: %v", err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker := NewWorker(rdb, NewFinalizer(db, rdb, 5*time.Second, nil), "c-retry")
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(workerCtx)
	}()

	// 建组失败期间 Worker 必须留在重试循环里而不是返回
	select {
	case <-done:
		t.Fatal("worker exited on group creation failure instead of retrying")
	case <-time.After(300 * time.Millisecond):
	}

	// 清除障碍并投递一条消息，Worker 应当自行恢复并落库
	if err := rdb.Del(ctx, rediskey.OrderStream).Err(); err != nil {
		t.Fatalf("unblock stream key: %v", err)
	}
	if err := rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: rediskey.OrderStream,
		Values: map[string]interface{}{
			"user_id":    "8",
			"voucher_id": strconv.FormatUint(voucherID, 10),
			"id":         "70001",
		},
	}).Err(); err != nil {
		t.Fatalf("enqueue ticket: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var order model.VoucherOrder
	for time.Now().Before(deadline) {
		if err := db.First(&order, 70001).Error; err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if order.ID != 70001 {
		t.Fatal("order not persisted after worker recovered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}

func TestParseTicket(t *testing.T) {
	cases := []struct {
		name   string
		values map[string]interface{}
		want   OrderTicket
		ok     bool
	}{
		{
			name:   "valid",
			values: map[string]interface{}{"user_id": "7", "voucher_id": "11", "id": "90001"},
			want:   OrderTicket{OrderID: 90001, UserID: 7, VoucherID: 11},
			ok:     true,
		},
		{
			name:   "missing field",
			values: map[string]interface{}{"user_id": "7", "id": "90001"},
			ok:     false,
		},
		{
			name:   "garbage id",
			values: map[string]interface{}{"user_id": "7", "voucher_id": "11", "id": "not-a-number"},
			ok:     false,
		},
		{
			name:   "zero user",
			values: map[string]interface{}{"user_id": "0", "voucher_id": "11", "id": "90001"},
			ok:     false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseTicket(tc.values)
			if tc.ok {
				if err != nil {
					t.Fatalf("parse: %v", err)
				}
				if got != tc.want {
					t.Fatalf("got %+v, want %+v", got, tc.want)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error, got %+v", got)
			}
		})
	}
}
