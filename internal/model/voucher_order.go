package model

import (
	"time"

	"gorm.io/gorm"
)

// VoucherOrder 秒杀订单。ID 由全局 ID 生成器预先分配，不用自增主键。
// (user_id, voucher_id) 上的唯一索引是「一人一单」的最终防线，
// 消息重复投递时靠它保证落库幂等。
type VoucherOrder struct {
	ID        int64          `gorm:"primarykey;autoIncrement:false" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID    uint64 `gorm:"not null;uniqueIndex:idx_user_voucher" json:"user_id"`
	VoucherID uint64 `gorm:"not null;uniqueIndex:idx_user_voucher" json:"voucher_id"`
	PayValue  int64  `gorm:"not null;default:0" json:"pay_value"`
	Status    int    `gorm:"not null;default:0" json:"status"` // 0 待支付 1 已支付 2 已取消
}

func (VoucherOrder) TableName() string { return "voucher_orders" }
