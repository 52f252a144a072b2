package server

import (
	"encoding/json"
	"time"

	"wavedeck/core/authority"
	"wavedeck/core/hls"
	"wavedeck/core/player"
	"wavedeck/core/queue"
	"wavedeck/logger"
	"wavedeck/model"
	"wavedeck/protocol"
	"wavedeck/repository"
)

// Router 命令路由器：校验身份与角色，分发到各组件，并把结果原样回给调用方
type Router struct {
	queues      *queue.Store
	supervisor  *hls.Supervisor
	authority   *authority.Controller
	player      *player.Player
	hub         *Hub
	history     repository.HistoryRepository
	broadcaster *Broadcaster
}

// NewRouter 创建路由器
func NewRouter(
	queues *queue.Store,
	supervisor *hls.Supervisor,
	auth *authority.Controller,
	p *player.Player,
	hub *Hub,
	history repository.HistoryRepository,
	broadcaster *Broadcaster,
) *Router {
	return &Router{
		queues:      queues,
		supervisor:  supervisor,
		authority:   auth,
		player:      p,
		hub:         hub,
		history:     history,
		broadcaster: broadcaster,
	}
}

// 命令载荷

type requestHLSStreamData struct {
	TrackID       string  `json:"track_id"`
	StartPosition float64 `json:"start_position"`
}

type hlsSeekData struct {
	SeekPosition float64 `json:"seek_position"`
}

type playData struct {
	Filepath        string `json:"filepath"`
	PlayImmediately *bool  `json:"play_immediately"`
}

type seekData struct {
	PositionMs int `json:"position_ms"`
}

type volumeData struct {
	Level int `json:"level"`
}

type keepAliveData struct {
	Enabled bool `json:"enabled"`
}

type setQueueData struct {
	Filepaths       []string    `json:"filepaths"`
	StartIndex      int         `json:"startIndex"`
	TracklistData   interface{} `json:"tracklistData"`
	PlayImmediately *bool       `json:"play_immediately"`
}

type queueJumpData struct {
	Index int `json:"index"`
}

// Dispatch 处理一条已注册客户端的命令，返回响应。
// 校验顺序：信封身份 -> 命令识别 -> 角色/控制权 -> 组件执行。
func (rt *Router) Dispatch(client *model.Client, msg *protocol.Message) *protocol.Reply {
	// 信封中的client_id必须与连接绑定的身份一致
	if msg.ClientID != "" && msg.ClientID != client.ID {
		return protocol.Failure(msg.Command,
			protocol.NewCommandError(protocol.CodeNotRegistered,
				"client_id does not match this connection"))
	}

	switch msg.Command {
	case protocol.CmdRequestHLSStream:
		return rt.handleRequestHLSStream(client, msg)
	case protocol.CmdStopHLSStream:
		return rt.handleStopHLSStream(client, msg)
	case protocol.CmdGetHLSURL:
		return rt.handleGetHLSURL(client, msg)
	case protocol.CmdHLSSeek:
		return rt.handleHLSSeek(client, msg)
	case protocol.CmdHLSStatus:
		return rt.handleHLSStatus(client, msg)

	case protocol.CmdPlay:
		return rt.handlePlay(client, msg)
	case protocol.CmdPause:
		return rt.handlePause(client, msg)
	case protocol.CmdStop:
		return rt.handleStop(client, msg)
	case protocol.CmdSeek:
		return rt.handleSeek(client, msg)
	case protocol.CmdSetVolume:
		return rt.handleSetVolume(client, msg)
	case protocol.CmdSetKeepAlive:
		return rt.handleSetKeepAlive(client, msg)

	case protocol.CmdSetQueue:
		return rt.handleSetQueue(client, msg)
	case protocol.CmdQueueNext:
		return rt.handleQueueStep(client, msg, true)
	case protocol.CmdQueuePrevious:
		return rt.handleQueueStep(client, msg, false)
	case protocol.CmdQueueJump:
		return rt.handleQueueJump(client, msg)

	case protocol.CmdClaimPlayback:
		return rt.handleAuthorityOp(client, msg, rt.authority.Claim)
	case protocol.CmdTakeoverPlayback:
		return rt.handleAuthorityOp(client, msg, rt.authority.Takeover)
	case protocol.CmdAcknowledgeTakeover:
		return rt.handleAuthorityOp(client, msg, rt.authority.Acknowledge)
	case protocol.CmdReleasePlayback:
		return rt.handleAuthorityOp(client, msg, rt.authority.Release)

	case protocol.CmdGetStatus:
		return protocol.Success(msg.Command, rt.broadcaster.Snapshot(client))
	case protocol.CmdPing:
		return protocol.Success(msg.Command, map[string]string{"type": protocol.TypePong})
	case protocol.CmdGetConnectionsCount:
		return protocol.Success(msg.Command, map[string]int{"count": rt.hub.Count()})

	default:
		return protocol.Failure(msg.Command,
			protocol.NewCommandError(protocol.CodeUnknownCommand,
				"unknown command: "+string(msg.Command)))
	}
}

// requireHLSRole HLS专属命令的角色检查
func requireHLSRole(client *model.Client) error {
	if client.Role != model.RoleHLSStreaming {
		return protocol.NewCommandError(protocol.CodeRoleMismatch,
			"command requires hls_streaming role, client is "+string(client.Role))
	}
	return nil
}

// requirePlaybackRole 控制权相关命令的角色检查
func requirePlaybackRole(client *model.Client) error {
	if client.Role != model.RoleServerPlayback {
		return protocol.NewCommandError(protocol.CodeRoleMismatch,
			"command requires server_playback role, client is "+string(client.Role))
	}
	return nil
}

// ========== HLS 命令 ==========

func (rt *Router) handleRequestHLSStream(client *model.Client, msg *protocol.Message) *protocol.Reply {
	if err := requireHLSRole(client); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	var data requestHLSStreamData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.TrackID == "" {
		return protocol.Failure(msg.Command,
			protocol.NewCommandError(protocol.CodeUnknownCommand, "track_id is required"))
	}

	locator, err := rt.supervisor.Start(client.ID, data.TrackID, data.StartPosition)
	if err != nil {
		return protocol.Failure(msg.Command, err)
	}

	rt.broadcaster.Push(client.ID)
	return protocol.Success(msg.Command, map[string]string{"hls_url": locator})
}

func (rt *Router) handleStopHLSStream(client *model.Client, msg *protocol.Message) *protocol.Reply {
	if err := requireHLSRole(client); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	rt.supervisor.Stop(client.ID)
	rt.broadcaster.Push(client.ID)
	return protocol.Success(msg.Command, map[string]string{"message": "HLS stream stopped"})
}

func (rt *Router) handleGetHLSURL(client *model.Client, msg *protocol.Message) *protocol.Reply {
	if err := requireHLSRole(client); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	url, ok := rt.supervisor.URL(client.ID)
	if !ok {
		return protocol.Failure(msg.Command,
			protocol.NewCommandError(protocol.CodeNotActive, "no active stream for this client"))
	}
	return protocol.Success(msg.Command, map[string]string{"hls_url": url})
}

func (rt *Router) handleHLSSeek(client *model.Client, msg *protocol.Message) *protocol.Reply {
	if err := requireHLSRole(client); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	var data hlsSeekData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return protocol.Failure(msg.Command,
			protocol.NewCommandError(protocol.CodeUnknownCommand, "seek_position is required"))
	}

	locator, err := rt.supervisor.Seek(client.ID, data.SeekPosition)
	if err != nil {
		return protocol.Failure(msg.Command, err)
	}

	rt.broadcaster.Push(client.ID)
	return protocol.Success(msg.Command, map[string]string{"hls_url": locator})
}

func (rt *Router) handleHLSStatus(client *model.Client, msg *protocol.Message) *protocol.Reply {
	if err := requireHLSRole(client); err != nil {
		return protocol.Failure(msg.Command, err)
	}
	return protocol.Success(msg.Command, rt.supervisor.Status(client.ID))
}

// ========== 共享播放输出命令 ==========

func (rt *Router) handlePlay(client *model.Client, msg *protocol.Message) *protocol.Reply {
	if err := rt.authority.Authorize(client.ID); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	var data playData
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return protocol.Failure(msg.Command,
				protocol.NewCommandError(protocol.CodeUnknownCommand, "invalid play data"))
		}
	}

	if data.Filepath != "" {
		immediately := data.PlayImmediately == nil || *data.PlayImmediately
		if err := rt.player.PlayNew(data.Filepath, immediately); err != nil {
			return protocol.Failure(msg.Command, err)
		}
		rt.recordHistory(client.ID, data.Filepath, "play", 0)
	} else {
		if err := rt.player.Resume(); err != nil {
			return protocol.Failure(msg.Command, err)
		}
	}

	rt.broadcaster.PushAll()
	return protocol.Success(msg.Command, nil)
}

func (rt *Router) handlePause(client *model.Client, msg *protocol.Message) *protocol.Reply {
	if err := rt.authority.Authorize(client.ID); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	rt.player.Pause()
	rt.broadcaster.PushAll()
	return protocol.Success(msg.Command, nil)
}

func (rt *Router) handleStop(client *model.Client, msg *protocol.Message) *protocol.Reply {
	if err := rt.authority.Authorize(client.ID); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	rt.player.Stop()
	rt.broadcaster.PushAll()
	return protocol.Success(msg.Command, nil)
}

func (rt *Router) handleSeek(client *model.Client, msg *protocol.Message) *protocol.Reply {
	if err := rt.authority.Authorize(client.ID); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	var data seekData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return protocol.Failure(msg.Command,
			protocol.NewCommandError(protocol.CodeUnknownCommand, "position_ms is required"))
	}

	if err := rt.player.Seek(data.PositionMs); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	rt.broadcaster.PushAll()
	return protocol.Success(msg.Command, nil)
}

func (rt *Router) handleSetVolume(client *model.Client, msg *protocol.Message) *protocol.Reply {
	if err := rt.authority.Authorize(client.ID); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	var data volumeData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return protocol.Failure(msg.Command,
			protocol.NewCommandError(protocol.CodeUnknownCommand, "level is required"))
	}

	if err := rt.player.SetVolume(data.Level); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	rt.broadcaster.PushAll()
	return protocol.Success(msg.Command, nil)
}

func (rt *Router) handleSetKeepAlive(client *model.Client, msg *protocol.Message) *protocol.Reply {
	if err := rt.authority.Authorize(client.ID); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	var data keepAliveData
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return protocol.Failure(msg.Command,
				protocol.NewCommandError(protocol.CodeUnknownCommand, "invalid keep_alive data"))
		}
	}

	rt.player.SetKeepAlive(data.Enabled)
	rt.broadcaster.PushAll()
	return protocol.Success(msg.Command, nil)
}

// ========== 队列命令 ==========

func (rt *Router) handleSetQueue(client *model.Client, msg *protocol.Message) *protocol.Reply {
	var data setQueueData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return protocol.Failure(msg.Command,
			protocol.NewCommandError(protocol.CodeUnknownCommand, "invalid set_queue data"))
	}

	if err := rt.queues.SetQueue(client.ID, data.Filepaths, data.StartIndex, data.TracklistData); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	immediately := data.PlayImmediately == nil || *data.PlayImmediately
	if immediately && len(data.Filepaths) > 0 {
		if track, ok := rt.queues.CurrentTrack(client.ID); ok {
			rt.applyQueueChange(client, track)
		}
	}

	rt.broadcaster.Push(client.ID)
	return protocol.Success(msg.Command, rt.queues.Status(client.ID))
}

func (rt *Router) handleQueueStep(client *model.Client, msg *protocol.Message, forward bool) *protocol.Reply {
	var track string
	var advanced bool
	if forward {
		track, advanced = rt.queues.Next(client.ID)
	} else {
		track, advanced = rt.queues.Previous(client.ID)
	}

	if advanced {
		rt.applyQueueChange(client, track)
	}

	rt.broadcaster.Push(client.ID)

	status := rt.queues.Status(client.ID)
	return protocol.Success(msg.Command, map[string]interface{}{
		"advanced":     advanced,
		"currentIndex": status.CurrentIndex,
	})
}

func (rt *Router) handleQueueJump(client *model.Client, msg *protocol.Message) *protocol.Reply {
	var data queueJumpData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return protocol.Failure(msg.Command,
			protocol.NewCommandError(protocol.CodeUnknownCommand, "index is required"))
	}

	track, err := rt.queues.Jump(client.ID, data.Index)
	if err != nil {
		return protocol.Failure(msg.Command, err)
	}

	rt.applyQueueChange(client, track)
	rt.broadcaster.Push(client.ID)
	return protocol.Success(msg.Command, rt.queues.Status(client.ID))
}

// applyQueueChange 队列变更后的联动：持有者驱动共享输出播放新曲目，
// 拥有活跃流的HLS客户端在新曲目上重启自己的流。其他客户端只更新队列。
func (rt *Router) applyQueueChange(client *model.Client, track string) {
	switch {
	case rt.authority.IsHolder(client.ID):
		if err := rt.player.PlayNew(track, true); err != nil {
			logger.Warn("failed to play queue track",
				logger.String("clientId", client.ID),
				logger.String("track", track),
				logger.ErrorField(err))
			return
		}
		rt.recordHistory(client.ID, track, "queue_advance", 0)
		rt.broadcaster.PushAll()

	case client.Role == model.RoleHLSStreaming:
		if _, active := rt.supervisor.URL(client.ID); active {
			rt.supervisor.Stop(client.ID)
			if _, err := rt.supervisor.Start(client.ID, track, 0); err != nil {
				logger.Warn("failed to restart stream on queue change",
					logger.String("clientId", client.ID),
					logger.String("track", track),
					logger.ErrorField(err))
			}
		}
	}
}

// ========== 控制权命令 ==========

func (rt *Router) handleAuthorityOp(client *model.Client, msg *protocol.Message, op func(string) error) *protocol.Reply {
	if err := requirePlaybackRole(client); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	if err := op(client.ID); err != nil {
		return protocol.Failure(msg.Command, err)
	}

	state, holder, challenger := rt.authority.Snapshot()
	return protocol.Success(msg.Command, map[string]string{
		"state":      string(state),
		"holder":     holder,
		"challenger": challenger,
	})
}

// recordHistory 异步记录播放事件，失败只打日志
func (rt *Router) recordHistory(clientID, filepath, action string, position float64) {
	if rt.history == nil {
		return
	}

	event := &model.PlaybackEvent{
		ClientID:  clientID,
		Filepath:  filepath,
		Action:    action,
		Position:  position,
		CreatedAt: time.Now(),
	}

	go func() {
		if err := rt.history.RecordEvent(event); err != nil {
			logger.Warn("failed to record playback history", logger.ErrorField(err))
		}
	}()
}
