package model

import (
	"time"

	"gorm.io/gorm"
)

// Item 秒杀商品：名称、库存、秒杀价、秒杀时间段
type Item struct {
	ID        int64          `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Stock 为 DB 中的剩余库存：启动时用它预热 Redis，建单时在事务内条件扣减。
	Name      string    `gorm:"size:128;not null" json:"name"`
	Stock     int64     `gorm:"not null;default:0" json:"stock"`
	SalePrice int64     `gorm:"not null" json:"sale_price"` // 单位：分
	StartTime time.Time `gorm:"not null" json:"start_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`
}

func (Item) TableName() string { return "seckill_items" }

// SaleWindow 描述当前时刻相对秒杀时间段的位置。
type SaleWindow int

const (
	SaleNotStarted SaleWindow = iota
	SaleOpen
	SaleEnded
)

// WindowAt 判断 now 落在时间段的哪一侧，区间为闭区间 [StartTime, EndTime]。
func (it Item) WindowAt(now time.Time) SaleWindow {
	switch {
	case now.Before(it.StartTime):
		return SaleNotStarted
	case now.After(it.EndTime):
		return SaleEnded
	default:
		return SaleOpen
	}
}
