package seckill

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"dianping/internal/model"
	rediskey "dianping/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// AdmissionCode 秒杀准入结果码，与 lua 脚本返回值一一对应。
type AdmissionCode int

const (
	Admitted         AdmissionCode = 0 // 抢购成功，订单已入队
	StockExhausted   AdmissionCode = 1 // 库存不足
	AlreadyPurchased AdmissionCode = 2 // 同一用户重复下单
)

// AdmissionResult 准入决定。Code 为 Admitted 时 OrderID 为预生成的订单号，
// 此时订单尚未落库，调用方可凭它轮询异步结果。
type AdmissionResult struct {
	Code    AdmissionCode
	OrderID int64
}

// Service 秒杀业务门面：准入决定、优惠券维护、订单查询。
type Service struct {
	db       *gorm.DB
	rdb      *rd.Client
	idWorker *rediskey.IDWorker
}

func NewService(db *gorm.DB, rdb *rd.Client, idWorker *rediskey.IDWorker) *Service {
	return &Service{db: db, rdb: rdb, idWorker: idWorker}
}

// SeckillVoucher 秒杀下单入口。
// 1. 预生成订单号（先于准入，成功响应里要带给客户端）
// 2. 执行秒杀 lua 脚本，原子完成库存与一人一单判定，成功则写入订单消息
// 3. 将脚本返回值映射为结果码，落库由后台 Worker 异步完成
func (s *Service) SeckillVoucher(ctx context.Context, voucherID, userID uint64) (AdmissionResult, error) {
	orderID, err := s.idWorker.NextID(ctx, "seckillOrder")
	if err != nil {
		return AdmissionResult{}, err
	}

	code, err := s.rdb.Eval(ctx, luaSeckill,
		[]string{
			rediskey.StockKey(voucherID),
			rediskey.OrderUserSetKey(voucherID),
			rediskey.OrderStream,
		},
		strconv.FormatUint(userID, 10),
		strconv.FormatUint(voucherID, 10),
		strconv.FormatInt(orderID, 10),
	).Int()
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("seckill eval voucher %d: %w", voucherID, err)
	}

	switch AdmissionCode(code) {
	case Admitted:
		return AdmissionResult{Code: Admitted, OrderID: orderID}, nil
	case StockExhausted, AlreadyPurchased:
		return AdmissionResult{Code: AdmissionCode(code)}, nil
	default:
		return AdmissionResult{}, fmt.Errorf("seckill eval voucher %d: unexpected code %d", voucherID, code)
	}
}

// AddVoucher 新增秒杀券并把库存预热到 Redis。
// Redis 侧计数只被秒杀脚本扣减，预热不设 TTL，活动结束后由运营下线。
func (s *Service) AddVoucher(ctx context.Context, v *model.SeckillVoucher) error {
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("create voucher: %w", err)
	}
	if err := s.rdb.Set(ctx, rediskey.StockKey(v.ID), v.Stock, 0).Err(); err != nil {
		return fmt.Errorf("preload stock voucher %d: %w", v.ID, err)
	}
	return nil
}

// GetVoucher 查询优惠券，不存在时返回 (nil, nil)。
func (s *Service) GetVoucher(ctx context.Context, id uint64) (*model.SeckillVoucher, error) {
	var v model.SeckillVoucher
	err := s.db.WithContext(ctx).First(&v, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get voucher %d: %w", id, err)
	}
	return &v, nil
}

// GetOrder 按订单号查询已落库的订单，尚未落库（仍在队列中）返回 (nil, nil)。
func (s *Service) GetOrder(ctx context.Context, orderID int64) (*model.VoucherOrder, error) {
	var o model.VoucherOrder
	err := s.db.WithContext(ctx).First(&o, orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", orderID, err)
	}
	return &o, nil
}

// RedisStock 查询 Redis 侧实时库存，key 不存在视为 0。
func (s *Service) RedisStock(ctx context.Context, voucherID uint64) (int64, error) {
	val, err := s.rdb.Get(ctx, rediskey.StockKey(voucherID)).Int64()
	if errors.Is(err, rd.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get stock voucher %d: %w", voucherID, err)
	}
	return val, nil
}
