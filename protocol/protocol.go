package protocol

import (
	"encoding/json"
	"time"
)

// Command WebSocket 命令
type Command string

const (
	// 注册握手
	CmdRegisterRequest Command = "REGISTER_REQUEST" // 服务端 -> 客户端
	CmdRegister        Command = "REGISTER"         // 客户端 -> 服务端
	CmdRegisterSuccess Command = "REGISTER_SUCCESS" // 服务端 -> 客户端

	// HLS 流命令（仅 hls_streaming 角色）
	CmdRequestHLSStream Command = "REQUEST_HLS_STREAM"
	CmdStopHLSStream    Command = "STOP_HLS_STREAM"
	CmdGetHLSURL        Command = "GET_HLS_URL"
	CmdHLSSeek          Command = "HLS_SEEK"
	CmdHLSStatus        Command = "HLS_STATUS"

	// 共享播放输出命令（需要控制权）
	CmdPlay         Command = "play"
	CmdPause        Command = "pause"
	CmdStop         Command = "stop"
	CmdSeek         Command = "seek"
	CmdSetVolume    Command = "set_volume"
	CmdSetKeepAlive Command = "set_keep_alive"

	// 队列命令（作用于发送者自己的队列）
	CmdSetQueue      Command = "set_queue"
	CmdQueueNext     Command = "queue_next"
	CmdQueuePrevious Command = "queue_previous"
	CmdQueueJump     Command = "queue_jump"

	// 控制权命令
	CmdClaimPlayback       Command = "claim_playback"
	CmdTakeoverPlayback    Command = "takeover_playback"
	CmdAcknowledgeTakeover Command = "acknowledge_takeover"
	CmdReleasePlayback     Command = "release_playback"

	// 查询命令
	CmdGetStatus            Command = "get_status"
	CmdPing                 Command = "ping"
	CmdGetConnectionsCount  Command = "get_connections_count"
)

// 服务端推送消息类型
const (
	TypeStatusUpdate     = "status_update"
	TypeTakeoverWarning  = "takeover_warning"
	TypeStreamError      = "stream_error"
	TypePong             = "pong"
	TypeConnectionsCount = "connections_count"
)

// Message 入站消息信封；注册握手是例外，不携带 client_id
type Message struct {
	ClientID string          `json:"client_id,omitempty"`
	Command  Command         `json:"command"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// RegisterData REGISTER 命令的数据
type RegisterData struct {
	ClientType string            `json:"client_type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Reply 命令响应信封
type Reply struct {
	Status  string      `json:"status"` // success | error
	Command Command     `json:"command"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Push 服务端主动推送信封
type Push struct {
	Type        string      `json:"type"`
	RecipientID string      `json:"recipient_client_id,omitempty"`
	Data        interface{} `json:"data,omitempty"`
	Timestamp   int64       `json:"timestamp"`
}

// Success 构造成功响应
func Success(cmd Command, data interface{}) *Reply {
	return &Reply{Status: "success", Command: cmd, Data: data}
}

// Failure 根据错误构造失败响应
func Failure(cmd Command, err error) *Reply {
	reply := &Reply{Status: "error", Command: cmd, Message: err.Error()}
	if ce, ok := AsCommandError(err); ok {
		reply.Code = string(ce.Code)
	}
	return reply
}

// NewPush 构造推送消息
func NewPush(pushType, recipientID string, data interface{}) *Push {
	return &Push{
		Type:        pushType,
		RecipientID: recipientID,
		Data:        data,
		Timestamp:   time.Now().UnixMilli(),
	}
}
