package model

// QueueStatus 单个客户端队列的状态快照
type QueueStatus struct {
	Queue         []string    `json:"queue"`
	CurrentIndex  int         `json:"currentIndex"`
	TotalTracks   int         `json:"totalTracks"`
	AutoAdvance   bool        `json:"autoAdvance"`
	TracklistData interface{} `json:"tracklistData,omitempty"`
}

// ServerStatus 共享播放输出的状态快照
type ServerStatus struct {
	State       string      `json:"state"` // Playing, Paused, Stopped, Ended
	CurrentTime float64     `json:"currentTime"`
	Duration    float64     `json:"duration"`
	Volume      int         `json:"volume"`
	Filepath    string      `json:"filepath,omitempty"`
	KeepAlive   bool        `json:"keepAlive"`
	QueueStatus QueueStatus `json:"queueStatus"`
}

// HLSStreamStatus 客户端自己的HLS流状态，绝不包含其他客户端的流
type HLSStreamStatus struct {
	IsActive    bool    `json:"is_active"`
	State       string  `json:"state"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	Bitrate     string  `json:"bitrate,omitempty"`
	HLSURL      string  `json:"hls_url,omitempty"`
}

// AuthorityStatus 共享输出控制权的对外视图
type AuthorityStatus struct {
	State    string `json:"state"` // Unowned, Owned, TakeoverPending
	IsHolder bool   `json:"is_holder"`
}

// StatusSnapshot 发送给单个客户端的完整状态
type StatusSnapshot struct {
	ServerStatus ServerStatus     `json:"server_status"`
	CurrentTrack string           `json:"current_track,omitempty"`
	Authority    AuthorityStatus  `json:"playback_authority"`
	HLSStream    *HLSStreamStatus `json:"hls_stream,omitempty"`
}
