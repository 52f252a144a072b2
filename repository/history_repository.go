package repository

import (
	"fmt"

	"wavedeck/db"
	"wavedeck/model"

	"gorm.io/gorm"
)

// HistoryRepository defines the interface for playback history operations.
type HistoryRepository interface {
	RecordEvent(event *model.PlaybackEvent) error
	RecentEvents(limit int) ([]*model.PlaybackEvent, error)
}

// gormHistoryRepository implements HistoryRepository with GORM.
type gormHistoryRepository struct {
	db *gorm.DB
}

// NewGormHistoryRepository creates a new instance of gormHistoryRepository.
func NewGormHistoryRepository() HistoryRepository {
	return &gormHistoryRepository{db: db.GormDB}
}

// RecordEvent 记录一次共享输出上的播放事件
func (r *gormHistoryRepository) RecordEvent(event *model.PlaybackEvent) error {
	if r.db == nil {
		return nil // 历史库不可用时不阻塞播放
	}
	if err := r.db.Create(event).Error; err != nil {
		return fmt.Errorf("failed to record playback event: %w", err)
	}
	return nil
}

// RecentEvents 按时间倒序返回最近的播放事件
func (r *gormHistoryRepository) RecentEvents(limit int) ([]*model.PlaybackEvent, error) {
	if r.db == nil {
		return []*model.PlaybackEvent{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var events []*model.PlaybackEvent
	err := r.db.Order("created_at DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query playback events: %w", err)
	}
	return events, nil
}
