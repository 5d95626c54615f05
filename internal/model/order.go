package model

import "time"

// 订单状态
const (
	OrderStatusUnpaid    = 0 // 新建未支付
	OrderStatusPaid      = 1
	OrderStatusCancelled = 2
)

// Order 秒杀订单，ID 由 snowflake 生成。
type Order struct {
	ID        int64     `gorm:"primarykey;autoIncrement:false" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	UserID   int64  `gorm:"not null;index" json:"user_id"`
	ItemID   int64  `gorm:"not null;index" json:"item_id"`
	ItemName string `gorm:"size:128" json:"item_name"`
	Price    int64  `gorm:"not null" json:"price"` // 秒杀价，单位分
	Quantity int    `gorm:"not null;default:1" json:"quantity"`
	Status   int    `gorm:"not null;default:0" json:"status"`
}

// 显式实现结构，确定表名
func (Order) TableName() string { return "orders" }
