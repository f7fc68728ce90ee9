package seckill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"dianping/internal/model"
	"dianping/internal/queue"
	rediskey "dianping/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// OrderTicket 已通过准入的购买意向，由秒杀脚本写入 Stream。
type OrderTicket struct {
	OrderID   int64
	UserID    uint64
	VoucherID uint64
}

// Finalizer 把准入通过的订单落库。
// 准入脚本已经按券维度串行化了决定，这里按 用户+券 加的分布式锁是兜底：
// 落库发生在准入之后的另一个时间点，可能与重复投递的同一消息赛跑。
type Finalizer struct {
	db       *gorm.DB
	rdb      *rd.Client
	lockTTL  time.Duration
	producer *queue.Producer // 可为 nil，表示不导出订单事件
}

func NewFinalizer(db *gorm.DB, rdb *rd.Client, lockTTL time.Duration, producer *queue.Producer) *Finalizer {
	return &Finalizer{db: db, rdb: rdb, lockTTL: lockTTL, producer: producer}
}

// Finalize 在同一用户的分布式锁内执行落库事务：
// 1. 一人一单检查：已有订单 → 重复投递，按成功处理
// 2. 条件扣减数据库库存（stock > 0，权威的第二道库存校验）
// 3. 插入订单行；撞唯一索引同样按成功处理
// 消息的 at-least-once 语义要求整个方法可安全重复执行。
func (f *Finalizer) Finalize(ctx context.Context, t OrderTicket) error {
	// 锁按 用户+券 两个维度取名：同一用户对不同券的落库互不相干，
	// 只按用户加锁会让另一张券的消息被白白跳过
	lock := rediskey.NewLock(f.rdb, fmt.Sprintf("seckill:%d:%d", t.UserID, t.VoucherID))
	acquired, err := lock.TryLock(ctx, f.lockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		// 同一用户的落库正在别处进行，多半是同一消息的重复投递
		log.Printf("finalize order %d: user %d locked elsewhere, skip", t.OrderID, t.UserID)
		return nil
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			log.Printf("finalize order %d: release lock: %v", t.OrderID, err)
		}
	}()

	created := false
	var payValue int64
	err = f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.VoucherOrder{}).
			Where("user_id = ? AND voucher_id = ?", t.UserID, t.VoucherID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			log.Printf("finalize order %d: user %d already ordered voucher %d", t.OrderID, t.UserID, t.VoucherID)
			return nil
		}

		var v model.SeckillVoucher
		if err := tx.First(&v, t.VoucherID).Error; err != nil {
			return err
		}
		payValue = v.PayValue

		res := tx.Model(&model.SeckillVoucher{}).
			Where("id = ? AND stock > 0", t.VoucherID).
			UpdateColumn("stock", gorm.Expr("stock - 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			log.Printf("finalize order %d: voucher %d stock exhausted in db", t.OrderID, t.VoucherID)
			return nil
		}

		order := &model.VoucherOrder{
			ID:        t.OrderID,
			UserID:    t.UserID,
			VoucherID: t.VoucherID,
			PayValue:  payValue,
		}
		if err := tx.Create(order).Error; err != nil {
			if errorsLikeUnique(err) {
				// 另一条重复消息抢先落库。返回错误让事务回滚，
				// 把上面那次扣减还回去，再在外层按幂等成功处理
				return errDuplicateOrder
			}
			return err
		}
		created = true
		return nil
	})
	if errors.Is(err, errDuplicateOrder) {
		log.Printf("finalize order %d: duplicate for user %d voucher %d", t.OrderID, t.UserID, t.VoucherID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finalize order %d: %w", t.OrderID, err)
	}

	if created && f.producer != nil {
		// 事件导出失败不影响订单，记录后继续
		if err := f.producer.Publish(ctx, queue.OrderEvent{
			OrderID:   t.OrderID,
			UserID:    t.UserID,
			VoucherID: t.VoucherID,
			PayValue:  payValue,
		}); err != nil {
			log.Printf("finalize order %d: publish event: %v", t.OrderID, err)
		}
	}
	return nil
}

// errDuplicateOrder 标记撞唯一索引的落库，触发事务回滚后按成功收尾。
var errDuplicateOrder = errors.New("duplicate voucher order")

func errorsLikeUnique(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
