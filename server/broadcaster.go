package server

import (
	"context"
	"time"

	"wavedeck/core/authority"
	"wavedeck/core/hls"
	"wavedeck/core/player"
	"wavedeck/core/queue"
	"wavedeck/core/session"
	"wavedeck/model"
	"wavedeck/protocol"
)

// Broadcaster 状态广播器。定期向所有已注册客户端推送状态快照，
// 也可在状态变更后立即推送。快照按客户端定制：各自只看到
// 自己的队列和自己的HLS流，共享输出状态对所有客户端一致。
type Broadcaster struct {
	interval   time.Duration
	hub        *Hub
	registry   *session.Registry
	queues     *queue.Store
	supervisor *hls.Supervisor
	player     *player.Player
	authority  *authority.Controller
}

// NewBroadcaster 创建广播器
func NewBroadcaster(
	interval time.Duration,
	hub *Hub,
	registry *session.Registry,
	queues *queue.Store,
	supervisor *hls.Supervisor,
	p *player.Player,
	auth *authority.Controller,
) *Broadcaster {
	return &Broadcaster{
		interval:   interval,
		hub:        hub,
		registry:   registry,
		queues:     queues,
		supervisor: supervisor,
		player:     p,
		authority:  auth,
	}
}

// Run 周期广播循环，ctx取消后退出
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.PushAll()
		}
	}
}

// Snapshot 构建指定客户端视角的状态快照
func (b *Broadcaster) Snapshot(client *model.Client) model.StatusSnapshot {
	server := b.player.Status()
	server.QueueStatus = b.queues.Status(client.ID)

	state, _, _ := b.authority.Snapshot()
	snapshot := model.StatusSnapshot{
		ServerStatus: server,
		CurrentTrack: server.Filepath,
		Authority: model.AuthorityStatus{
			State:    string(state),
			IsHolder: b.authority.IsHolder(client.ID),
		},
	}

	if client.Role == model.RoleHLSStreaming {
		hlsStatus := b.supervisor.Status(client.ID)
		snapshot.HLSStream = &hlsStatus
	}

	return snapshot
}

// Push 向单个客户端推送一次状态快照
func (b *Broadcaster) Push(clientID string) {
	client, err := b.registry.Lookup(clientID)
	if err != nil {
		return // 客户端已注销
	}

	push := protocol.NewPush(protocol.TypeStatusUpdate, clientID, b.Snapshot(client))
	_ = b.hub.SendToClient(clientID, push)
}

// PushAll 向所有已注册客户端各推送一次
func (b *Broadcaster) PushAll() {
	for _, clientID := range b.hub.ClientIDs() {
		b.Push(clientID)
	}
}
