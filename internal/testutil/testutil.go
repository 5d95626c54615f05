package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"flash_sale/internal/config"
	"flash_sale/internal/model"
	"flash_sale/internal/store"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// NewTestRedis 启动一个进程内 Redis，测试结束自动关闭。
func NewTestRedis(t *testing.T) (*miniredis.Miniredis, *rd.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// NewTestDB 在临时目录下打开一个已迁移的 SQLite 库。
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open(config.DriverSQLite, filepath.Join(t.TempDir(), "flash_sale_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// InsertItem 写入一个正在秒杀中的商品。
func InsertItem(t *testing.T, db *gorm.DB, name string, stock int64) model.Item {
	t.Helper()
	now := time.Now()
	it := model.Item{
		Name:      name,
		Stock:     stock,
		SalePrice: 990,
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	}
	if err := store.New(db).CreateItem(context.Background(), &it); err != nil {
		t.Fatalf("insert item: %v", err)
	}
	return it
}
