package repository

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"wavedeck/db"
	"wavedeck/model"
)

func setupTestDB(t *testing.T) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "history.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&model.PlaybackEvent{}))

	db.GormDB = gdb
	t.Cleanup(func() {
		_ = db.CloseGormDB()
		db.GormDB = nil
	})
}

func TestRecordAndQueryEvents(t *testing.T) {
	setupTestDB(t)
	repo := NewGormHistoryRepository()

	base := time.Now().Add(-time.Minute)
	for i, track := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		require.NoError(t, repo.RecordEvent(&model.PlaybackEvent{
			ClientID:  "c1",
			Filepath:  track,
			Action:    "play",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	events, err := repo.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// 时间倒序
	assert.Equal(t, "c.mp3", events[0].Filepath)
	assert.Equal(t, "a.mp3", events[2].Filepath)
}

func TestRecentEventsLimit(t *testing.T) {
	setupTestDB(t)
	repo := NewGormHistoryRepository()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.RecordEvent(&model.PlaybackEvent{
			ClientID: "c1",
			Filepath: "a.mp3",
			Action:   "play",
		}))
	}

	events, err := repo.RecentEvents(2)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// 非法limit落回默认值
	events, err = repo.RecentEvents(-1)
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestRepositoryWithoutDatabase(t *testing.T) {
	db.GormDB = nil
	repo := NewGormHistoryRepository()

	// 历史库不可用时全部静默降级
	assert.NoError(t, repo.RecordEvent(&model.PlaybackEvent{ClientID: "c1"}))

	events, err := repo.RecentEvents(10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
