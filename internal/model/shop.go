package model

import (
	"time"

	"gorm.io/gorm"
)

// Shop 商铺信息，是缓存层的主要演示对象。
// redis tag 决定写入 Hash 时的字段名；时间戳列不进缓存投影。
type Shop struct {
	ID        uint64         `gorm:"primarykey" json:"id" redis:"id"`
	CreatedAt time.Time      `json:"created_at" redis:"-"`
	UpdatedAt time.Time      `json:"updated_at" redis:"-"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-" redis:"-"`

	Name     string `gorm:"size:128;not null" json:"name" redis:"name"`
	Address  string `gorm:"size:255" json:"address" redis:"address"`
	AvgPrice int64  `gorm:"not null;default:0" json:"avg_price" redis:"avg_price"` // 人均消费，单位分
	Sold     int64  `gorm:"not null;default:0" json:"sold" redis:"sold"`
	Score    int64  `gorm:"not null;default:0" json:"score" redis:"score"` // 评分 x10，如 47 表示 4.7
}

func (Shop) TableName() string { return "shops" }
