package queue

import (
	"fmt"
	"sync"

	"wavedeck/logger"
	"wavedeck/model"
	"wavedeck/protocol"
)

// clientQueue 单个客户端的队列状态
type clientQueue struct {
	tracks        []string
	currentIndex  int
	autoAdvance   bool
	tracklistData interface{} // 原样透传的歌单元数据
}

// Store 每客户端独立的队列存储。任何操作只影响单个 client_id 的队列。
type Store struct {
	mu     sync.RWMutex
	queues map[string]*clientQueue
}

// NewStore 创建队列存储
func NewStore() *Store {
	return &Store{
		queues: make(map[string]*clientQueue),
	}
}

// getOrCreate 需要持有锁
func (s *Store) getOrCreate(clientID string) *clientQueue {
	q, ok := s.queues[clientID]
	if !ok {
		q = &clientQueue{}
		s.queues[clientID] = q
	}
	return q
}

// SetQueue 整体替换队列并重置当前索引。非空队列的越界起始索引返回 InvalidIndex。
func (s *Store) SetQueue(clientID string, tracks []string, startIndex int, tracklistData interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tracks) > 0 && (startIndex < 0 || startIndex >= len(tracks)) {
		return protocol.NewCommandError(protocol.CodeInvalidIndex,
			fmt.Sprintf("start index %d out of range for %d tracks", startIndex, len(tracks)))
	}

	q := s.getOrCreate(clientID)
	q.tracks = append([]string(nil), tracks...)
	if len(tracks) == 0 {
		q.currentIndex = 0
	} else {
		q.currentIndex = startIndex
	}
	q.tracklistData = tracklistData
	q.autoAdvance = true // 设置队列即启用自动续播

	logger.Info("queue set",
		logger.String("clientId", clientID),
		logger.Int("tracks", len(tracks)),
		logger.Int("startIndex", q.currentIndex))

	return nil
}

// Next 前进到下一首。到达末尾时不回绕，返回 false。
func (s *Store) Next(clientID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.getOrCreate(clientID)
	if len(q.tracks) == 0 || q.currentIndex >= len(q.tracks)-1 {
		return "", false
	}
	q.currentIndex++
	return q.tracks[q.currentIndex], true
}

// Previous 后退到上一首。位于开头时不回绕，返回 false。
func (s *Store) Previous(clientID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.getOrCreate(clientID)
	if len(q.tracks) == 0 || q.currentIndex <= 0 {
		return "", false
	}
	q.currentIndex--
	return q.tracks[q.currentIndex], true
}

// Jump 直接跳转到指定索引
func (s *Store) Jump(clientID string, index int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.getOrCreate(clientID)
	if index < 0 || index >= len(q.tracks) {
		return "", protocol.NewCommandError(protocol.CodeInvalidIndex,
			fmt.Sprintf("queue index %d out of range for %d tracks", index, len(q.tracks)))
	}
	q.currentIndex = index
	return q.tracks[q.currentIndex], nil
}

// CurrentTrack 当前曲目。队列为空时返回 false。
func (s *Store) CurrentTrack(clientID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.queues[clientID]
	if !ok || len(q.tracks) == 0 {
		return "", false
	}
	return q.tracks[q.currentIndex], true
}

// SetAutoAdvance 设置自动续播开关
func (s *Store) SetAutoAdvance(clientID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getOrCreate(clientID).autoAdvance = enabled
}

// AutoAdvance 查询自动续播开关
func (s *Store) AutoAdvance(clientID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.queues[clientID]
	return ok && q.autoAdvance
}

// Status 队列状态快照
func (s *Store) Status(clientID string) model.QueueStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.queues[clientID]
	if !ok {
		return model.QueueStatus{Queue: []string{}}
	}

	return model.QueueStatus{
		Queue:         append([]string(nil), q.tracks...),
		CurrentIndex:  q.currentIndex,
		TotalTracks:   len(q.tracks),
		AutoAdvance:   q.autoAdvance,
		TracklistData: q.tracklistData,
	}
}

// Remove 删除客户端的队列（断连清理）
func (s *Store) Remove(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.queues, clientID)
}
