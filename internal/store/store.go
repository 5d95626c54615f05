package store

import (
	"context"
	"errors"
	"fmt"

	"flash_sale/internal/model"

	"gorm.io/gorm"
)

var (
	ErrItemNotFound   = errors.New("item not found")
	ErrOrderNotFound  = errors.New("order not found")
	ErrSoldOut        = errors.New("item sold out")
	ErrDuplicateOrder = errors.New("duplicate seckill order")
)

// Store 是商品、订单与秒杀索引的持久化入口。
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{db: db} }

// DB 暴露底层连接，供健康检查等使用。
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) ListItems(ctx context.Context) ([]model.Item, error) {
	var list []model.Item
	if err := s.db.WithContext(ctx).Order("id").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return list, nil
}

func (s *Store) GetItem(ctx context.Context, id int64) (model.Item, error) {
	var it model.Item
	if err := s.db.WithContext(ctx).First(&it, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Item{}, ErrItemNotFound
		}
		return model.Item{}, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

func (s *Store) CreateItem(ctx context.Context, it *model.Item) error {
	if err := s.db.WithContext(ctx).Create(it).Error; err != nil {
		return fmt.Errorf("create item: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	var o model.Order
	if err := s.db.WithContext(ctx).First(&o, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Order{}, ErrOrderNotFound
		}
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// FindSeckillOrder 按 (user, item) 查索引，不存在返回 nil, nil。
func (s *Store) FindSeckillOrder(ctx context.Context, userID, itemID int64) (*model.SeckillOrder, error) {
	var so model.SeckillOrder
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND item_id = ?", userID, itemID).
		Limit(1).
		Find(&so).Error
	if err != nil {
		return nil, fmt.Errorf("find seckill order: %w", err)
	}
	if so.ID == 0 {
		return nil, nil
	}
	return &so, nil
}

// CreateSeckillOrder 在一个事务内：条件扣减 DB 库存、写订单、写 (user, item) 索引。
// 库存不足返回 ErrSoldOut；同一 (user, item) 第二次写入返回 ErrDuplicateOrder，事务整体回滚。
func (s *Store) CreateSeckillOrder(ctx context.Context, order model.Order) (model.SeckillOrder, error) {
	index := model.SeckillOrder{
		UserID:  order.UserID,
		ItemID:  order.ItemID,
		OrderID: order.ID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Item{}).
			Where("id = ? AND stock > 0", order.ItemID).
			UpdateColumn("stock", gorm.Expr("stock - ?", 1))
		if res.Error != nil {
			return fmt.Errorf("reduce stock: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrSoldOut
		}

		if err := tx.Create(&order).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := tx.Create(&index).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) || errorsLikeUnique(err) {
				return ErrDuplicateOrder
			}
			return fmt.Errorf("create seckill order: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.SeckillOrder{}, err
	}
	return index, nil
}
