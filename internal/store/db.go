package store

import (
	"fmt"
	"strings"

	"flash_sale/internal/config"
	"flash_sale/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 按驱动打开数据库。TranslateError 打开后唯一键冲突会被翻译为 gorm.ErrDuplicatedKey。
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(dsn)
	case config.DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	if driver == config.DriverSQLite {
		// SQLite 单写者，串行化连接避免 "database is locked"。
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate 自动建表，包含 (user_id, item_id) 唯一索引。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Item{}, &model.Order{}, &model.SeckillOrder{}); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	return nil
}

// errorsLikeUnique 兜底识别未被翻译的唯一约束冲突。
func errorsLikeUnique(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique") || strings.Contains(s, "duplicate key")
}
