package model

import (
	"fmt"
	"time"
)

// ClientRole 客户端角色，注册后不可变更
type ClientRole string

const (
	RoleServerPlayback ClientRole = "server_playback" // 可申请共享播放输出的控制权
	RoleController     ClientRole = "controller"      // 仅发送命令，无独立流
	RoleHLSStreaming   ClientRole = "hls_streaming"   // 拥有独立的HLS流
)

// ParseClientRole validates the client_type value from a REGISTER message.
func ParseClientRole(s string) (ClientRole, error) {
	switch ClientRole(s) {
	case RoleServerPlayback, RoleController, RoleHLSStreaming:
		return ClientRole(s), nil
	default:
		return "", fmt.Errorf("unknown client_type: %q", s)
	}
}

// Client represents a registered client session.
type Client struct {
	ID       string            `json:"clientId"`
	Role     ClientRole        `json:"role"`
	Metadata map[string]string `json:"metadata,omitempty"`
	LastSeen time.Time         `json:"lastSeen"`
}
