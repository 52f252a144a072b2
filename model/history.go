package model

import "time"

// PlaybackEvent 共享播放输出上发生的一次播放记录
type PlaybackEvent struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ClientID  string    `json:"clientId" gorm:"index;size:64"`
	Filepath  string    `json:"filepath" gorm:"size:1024"`
	Action    string    `json:"action" gorm:"size:32"` // play, queue_advance
	Position  float64   `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName gorm表名
func (PlaybackEvent) TableName() string {
	return "playback_events"
}
