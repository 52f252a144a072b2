package db

import (
	"fmt"
	"time"

	"wavedeck/config"
	"wavedeck/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB 是 GORM 数据库连接实例，用于播放历史持久化
var GormDB *gorm.DB

// ConnectGormDB 建立 GORM 数据库连接并迁移表结构
func ConnectGormDB(cfg *config.Config) error {
	var err error
	GormDB, err = gorm.Open(sqlite.Open(cfg.HistoryDBPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	sqlDB, err := GormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// sqlite单文件库，保持小连接池
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := GormDB.AutoMigrate(&model.PlaybackEvent{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	return nil
}

// CloseGormDB 关闭 GORM 数据库连接
func CloseGormDB() error {
	if GormDB == nil {
		return nil
	}

	sqlDB, err := GormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
