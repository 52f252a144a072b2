package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavedeck/core/authority"
	"wavedeck/core/hls"
	"wavedeck/core/player"
	"wavedeck/core/queue"
	"wavedeck/core/session"
	"wavedeck/model"
)

func newTestBroadcaster(t *testing.T) (*Broadcaster, *session.Registry, *queue.Store, *authority.Controller, *hls.Supervisor) {
	t.Helper()

	factory := &stubFactory{}
	supervisor := hls.NewSupervisor(hls.NewPool(4), factory.new, hls.Options{
		TempDir: t.TempDir(),
		BaseURL: "/streams",
	})

	registry := session.NewRegistry()
	queues := queue.NewStore()
	auth := authority.NewController(time.Hour)
	b := NewBroadcaster(time.Second, NewHub(), registry, queues,
		supervisor, player.NewPlayer("ffplay", "ffmpeg"), auth)

	return b, registry, queues, auth, supervisor
}

func TestSnapshotContainsOwnQueueOnly(t *testing.T) {
	b, registry, queues, _, _ := newTestBroadcaster(t)

	alice := registry.Register(model.RoleController, nil)
	bob := registry.Register(model.RoleController, nil)

	require.NoError(t, queues.SetQueue(alice.ID, []string{"a.mp3", "b.mp3"}, 1, nil))
	require.NoError(t, queues.SetQueue(bob.ID, []string{"x.mp3"}, 0, nil))

	snapshot := b.Snapshot(alice)
	assert.Equal(t, 2, snapshot.ServerStatus.QueueStatus.TotalTracks)
	assert.Equal(t, 1, snapshot.ServerStatus.QueueStatus.CurrentIndex)

	snapshot = b.Snapshot(bob)
	assert.Equal(t, 1, snapshot.ServerStatus.QueueStatus.TotalTracks)
}

func TestSnapshotHLSSectionPerRole(t *testing.T) {
	b, registry, _, _, supervisor := newTestBroadcaster(t)

	controller := registry.Register(model.RoleController, nil)
	streamer := registry.Register(model.RoleHLSStreaming, nil)

	// 非流客户端没有hls_stream段
	assert.Nil(t, b.Snapshot(controller).HLSStream)

	// 流客户端即使没有活跃流也带Idle状态
	snapshot := b.Snapshot(streamer)
	require.NotNil(t, snapshot.HLSStream)
	assert.False(t, snapshot.HLSStream.IsActive)

	_, err := supervisor.Start(streamer.ID, "/music/a.mp3", 0)
	require.NoError(t, err)

	snapshot = b.Snapshot(streamer)
	require.NotNil(t, snapshot.HLSStream)
	assert.True(t, snapshot.HLSStream.IsActive)
	assert.Contains(t, snapshot.HLSStream.HLSURL, streamer.ID)

	// 别的客户端看不到这条流
	assert.Nil(t, b.Snapshot(controller).HLSStream)
}

func TestSnapshotAuthorityView(t *testing.T) {
	b, registry, _, auth, _ := newTestBroadcaster(t)

	alice := registry.Register(model.RoleServerPlayback, nil)
	bob := registry.Register(model.RoleServerPlayback, nil)

	assert.Equal(t, string(authority.StateUnowned), b.Snapshot(alice).Authority.State)

	require.NoError(t, auth.Claim(alice.ID))

	snapshot := b.Snapshot(alice)
	assert.Equal(t, string(authority.StateOwned), snapshot.Authority.State)
	assert.True(t, snapshot.Authority.IsHolder)

	snapshot = b.Snapshot(bob)
	assert.Equal(t, string(authority.StateOwned), snapshot.Authority.State)
	assert.False(t, snapshot.Authority.IsHolder)
}

func TestPushToUnknownClientIsQuiet(t *testing.T) {
	b, _, _, _, _ := newTestBroadcaster(t)

	// 已注销客户端的推送静默跳过
	b.Push("ghost")
	b.PushAll()
}
