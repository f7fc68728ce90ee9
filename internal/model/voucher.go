package model

import (
	"time"

	"gorm.io/gorm"
)

// SeckillVoucher 秒杀优惠券。
// Stock 是数据库侧的权威库存；Redis 侧另有一份快速计数，
// 由预热写入、仅被秒杀脚本扣减。
type SeckillVoucher struct {
	ID        uint64         `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Title     string    `gorm:"size:128;not null" json:"title"`
	PayValue  int64     `gorm:"not null" json:"pay_value"` // 秒杀价，单位分
	Stock     int64     `gorm:"not null;default:0" json:"stock"`
	BeginTime time.Time `gorm:"not null" json:"begin_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`
}

func (SeckillVoucher) TableName() string { return "seckill_vouchers" }
