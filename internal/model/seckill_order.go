package model

// SeckillOrder 是 (user, item) -> order 的二级索引，用于判重。
// (user_id, item_id) 上的唯一索引是“一人一单”的最终保证。
type SeckillOrder struct {
	ID      int64 `gorm:"primarykey" json:"id"`
	UserID  int64 `gorm:"not null;uniqueIndex:idx_seckill_user_item,priority:1" json:"user_id"`
	ItemID  int64 `gorm:"not null;uniqueIndex:idx_seckill_user_item,priority:2" json:"item_id"`
	OrderID int64 `gorm:"not null;uniqueIndex" json:"order_id"`
}

func (SeckillOrder) TableName() string { return "seckill_orders" }
