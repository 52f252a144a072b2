package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavedeck/protocol"
)

func TestSetQueueAndCurrent(t *testing.T) {
	s := NewStore()

	err := s.SetQueue("c1", []string{"a.mp3", "b.mp3", "c.mp3"}, 1, nil)
	require.NoError(t, err)

	track, ok := s.CurrentTrack("c1")
	require.True(t, ok)
	assert.Equal(t, "b.mp3", track)

	status := s.Status("c1")
	assert.Equal(t, 3, status.TotalTracks)
	assert.Equal(t, 1, status.CurrentIndex)
	assert.True(t, status.AutoAdvance)
}

func TestSetQueueInvalidStartIndex(t *testing.T) {
	s := NewStore()

	err := s.SetQueue("c1", []string{"a.mp3"}, 5, nil)
	require.Error(t, err)
	assert.True(t, protocol.HasCode(err, protocol.CodeInvalidIndex))

	err = s.SetQueue("c1", []string{"a.mp3"}, -1, nil)
	assert.True(t, protocol.HasCode(err, protocol.CodeInvalidIndex))

	// 空队列忽略起始索引
	require.NoError(t, s.SetQueue("c1", nil, 7, nil))
}

func TestNextPreviousNoWraparound(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetQueue("c1", []string{"a.mp3", "b.mp3"}, 0, nil))

	track, ok := s.Next("c1")
	require.True(t, ok)
	assert.Equal(t, "b.mp3", track)

	// 末尾不回绕，索引保持不变
	_, ok = s.Next("c1")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Status("c1").CurrentIndex)

	track, ok = s.Previous("c1")
	require.True(t, ok)
	assert.Equal(t, "a.mp3", track)

	// 开头同样不回绕
	_, ok = s.Previous("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Status("c1").CurrentIndex)
}

func TestJump(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetQueue("c1", []string{"a.mp3", "b.mp3", "c.mp3"}, 0, nil))

	track, err := s.Jump("c1", 2)
	require.NoError(t, err)
	assert.Equal(t, "c.mp3", track)

	_, err = s.Jump("c1", 3)
	require.Error(t, err)
	assert.True(t, protocol.HasCode(err, protocol.CodeInvalidIndex))
	// 失败的跳转不改变索引
	assert.Equal(t, 2, s.Status("c1").CurrentIndex)
}

func TestQueueIsolationBetweenClients(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetQueue("c1", []string{"a.mp3", "b.mp3"}, 0, nil))
	require.NoError(t, s.SetQueue("c2", []string{"x.mp3", "y.mp3", "z.mp3"}, 2, nil))

	_, ok := s.Next("c1")
	require.True(t, ok)

	// c1 的前进不影响 c2
	assert.Equal(t, 2, s.Status("c2").CurrentIndex)
	assert.Equal(t, 1, s.Status("c1").CurrentIndex)
}

func TestAutoAdvanceToggle(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetQueue("c1", []string{"a.mp3"}, 0, nil))
	assert.True(t, s.AutoAdvance("c1"))

	s.SetAutoAdvance("c1", false)
	assert.False(t, s.AutoAdvance("c1"))

	// 未知客户端视为关闭
	assert.False(t, s.AutoAdvance("ghost"))
}

func TestRemove(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetQueue("c1", []string{"a.mp3"}, 0, nil))

	s.Remove("c1")

	_, ok := s.CurrentTrack("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Status("c1").TotalTracks)
}

func TestTracklistDataPassthrough(t *testing.T) {
	s := NewStore()
	meta := map[string]interface{}{"playlist": "evening"}
	require.NoError(t, s.SetQueue("c1", []string{"a.mp3"}, 0, meta))

	status := s.Status("c1")
	assert.Equal(t, meta, status.TracklistData)
}
