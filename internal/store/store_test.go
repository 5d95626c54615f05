package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flash_sale/internal/model"
	"flash_sale/internal/store"
	"flash_sale/internal/testutil"
)

func newOrder(id, userID int64, it model.Item) model.Order {
	return model.Order{
		ID:        id,
		UserID:    userID,
		ItemID:    it.ID,
		ItemName:  it.Name,
		Price:     it.SalePrice,
		Quantity:  1,
		CreatedAt: time.Now(),
	}
}

func TestStore_CreateSeckillOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("creates order and index and reduces stock", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		s := store.New(db)
		it := testutil.InsertItem(t, db, "phone", 2)

		idx, err := s.CreateSeckillOrder(ctx, newOrder(1001, 7, it))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if idx.OrderID != 1001 || idx.UserID != 7 || idx.ItemID != it.ID {
			t.Fatalf("unexpected index %+v", idx)
		}

		got, err := s.GetItem(ctx, it.ID)
		if err != nil {
			t.Fatalf("get item: %v", err)
		}
		if got.Stock != 1 {
			t.Fatalf("expected stock 1, got %d", got.Stock)
		}
		found, err := s.FindSeckillOrder(ctx, 7, it.ID)
		if err != nil || found == nil || found.OrderID != 1001 {
			t.Fatalf("expected index lookup to find order 1001, got %+v err=%v", found, err)
		}
		o, err := s.GetOrder(ctx, 1001)
		if err != nil || o.UserID != 7 {
			t.Fatalf("expected order for user 7, got %+v err=%v", o, err)
		}
	})

	t.Run("second insert for same pair is rejected and rolled back", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		s := store.New(db)
		it := testutil.InsertItem(t, db, "phone", 5)

		if _, err := s.CreateSeckillOrder(ctx, newOrder(1, 7, it)); err != nil {
			t.Fatalf("first insert: %v", err)
		}
		_, err := s.CreateSeckillOrder(ctx, newOrder(2, 7, it))
		if !errors.Is(err, store.ErrDuplicateOrder) {
			t.Fatalf("expected ErrDuplicateOrder, got %v", err)
		}

		got, _ := s.GetItem(ctx, it.ID)
		if got.Stock != 4 {
			t.Fatalf("expected duplicate to leave stock at 4, got %d", got.Stock)
		}
		if _, err := s.GetOrder(ctx, 2); !errors.Is(err, store.ErrOrderNotFound) {
			t.Fatalf("expected rolled back order, got %v", err)
		}
	})

	t.Run("sold out", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		s := store.New(db)
		it := testutil.InsertItem(t, db, "phone", 1)

		if _, err := s.CreateSeckillOrder(ctx, newOrder(1, 1, it)); err != nil {
			t.Fatalf("first insert: %v", err)
		}
		_, err := s.CreateSeckillOrder(ctx, newOrder(2, 2, it))
		if !errors.Is(err, store.ErrSoldOut) {
			t.Fatalf("expected ErrSoldOut, got %v", err)
		}
	})

	t.Run("concurrent buyers never exceed stock", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		s := store.New(db)
		it := testutil.InsertItem(t, db, "phone", 3)

		var wg sync.WaitGroup
		var mu sync.Mutex
		created := 0
		for i := 1; i <= 20; i++ {
			wg.Add(1)
			go func(user int64) {
				defer wg.Done()
				if _, err := s.CreateSeckillOrder(ctx, newOrder(user, user, it)); err == nil {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}(int64(i))
		}
		wg.Wait()

		if created != 3 {
			t.Fatalf("expected 3 orders, got %d", created)
		}
		var count int64
		db.Model(&model.SeckillOrder{}).Where("item_id = ?", it.ID).Count(&count)
		if count != 3 {
			t.Fatalf("expected 3 index rows, got %d", count)
		}
	})
}

func TestStore_Lookups(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	s := store.New(db)

	if _, err := s.GetItem(ctx, 404); !errors.Is(err, store.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	found, err := s.FindSeckillOrder(ctx, 1, 1)
	if err != nil || found != nil {
		t.Fatalf("expected nil index, got %+v err=%v", found, err)
	}

	testutil.InsertItem(t, db, "a", 1)
	testutil.InsertItem(t, db, "b", 2)
	list, err := s.ListItems(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 items, got %d err=%v", len(list), err)
	}
}
