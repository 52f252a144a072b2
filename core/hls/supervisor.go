package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"wavedeck/cache"
	"wavedeck/logger"
	"wavedeck/model"
	"wavedeck/protocol"
)

// StreamState 每客户端HLS流的状态
type StreamState string

const (
	StateIdle     StreamState = "Idle"
	StateStarting StreamState = "Starting"
	StateActive   StreamState = "Active"
	StateSeeking  StreamState = "Seeking"
	StateStopping StreamState = "Stopping"
	StateFailed   StreamState = "Failed"
)

// ErrorHandler 流异常时通知所属客户端
type ErrorHandler func(clientID string, message string)

// stream 单个客户端的流状态。所有字段由 mu 保护；
// 一个客户端的操作绝不阻塞其他客户端。
type stream struct {
	mu       sync.Mutex
	clientID string
	state    StreamState
	gen      uint64 // 每次(重)启动递增，用于识别被取代的旧播放列表
	encoder  Encoder
	track    string
	basePos  float64 // 当前代编码的起始位置（秒）
	activeAt time.Time
	duration float64
	locator  string
	restarts int
}

// Options 监督器配置
type Options struct {
	TempDir     string // 每客户端输出命名空间的根目录
	BaseURL     string // 例如 "/streams"
	Bitrate     string
	SegmentTime string
	MaxRestart  int // 异常退出后的自动重启上限
}

// Supervisor 管理所有客户端的HLS流生命周期。
// 每个 client_id 至多一条流，每条流独占一个编码进程。
type Supervisor struct {
	mu      sync.RWMutex
	streams map[string]*stream

	pool    *Pool
	factory EncoderFactory
	opts    Options
	onError ErrorHandler
}

// NewSupervisor 创建流监督器
func NewSupervisor(pool *Pool, factory EncoderFactory, opts Options) *Supervisor {
	return &Supervisor{
		streams: make(map[string]*stream),
		pool:    pool,
		factory: factory,
		opts:    opts,
	}
}

// SetErrorHandler 设置流异常通知回调
func (sv *Supervisor) SetErrorHandler(h ErrorHandler) {
	sv.onError = h
}

// getOrCreate 获取或创建客户端的流条目
func (sv *Supervisor) getOrCreate(clientID string) *stream {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	st, ok := sv.streams[clientID]
	if !ok {
		st = &stream{clientID: clientID, state: StateIdle}
		sv.streams[clientID] = st
	}
	return st
}

// lookup 查找流条目，不创建
func (sv *Supervisor) lookup(clientID string) *stream {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return sv.streams[clientID]
}

// outputDir 客户端独占的输出目录，以 client_id 隔离命名空间
func (sv *Supervisor) outputDir(clientID string) string {
	return filepath.Join(sv.opts.TempDir, clientID)
}

// Start 为客户端启动HLS流。已有非Idle流时返回 AlreadyActive；
// 资源池饱和时返回 ResourceExhausted。成功后返回客户端专属的播放地址。
func (sv *Supervisor) Start(clientID, trackRef string, startPosition float64) (string, error) {
	st := sv.getOrCreate(clientID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.state != StateIdle && st.state != StateFailed {
		return "", protocol.NewCommandError(protocol.CodeAlreadyActive,
			fmt.Sprintf("stream already %s for client %s", st.state, clientID))
	}

	if err := sv.pool.Acquire(); err != nil {
		return "", err
	}

	st.state = StateStarting
	st.gen++
	st.track = trackRef
	st.basePos = startPosition
	st.restarts = 0

	if err := sv.launchLocked(st, startPosition); err != nil {
		sv.pool.Release()
		st.state = StateFailed
		logger.Error("流启动失败",
			logger.String("clientId", clientID),
			logger.String("track", trackRef),
			logger.ErrorField(err))
		return "", protocol.NewCommandError(protocol.CodeStreamFailed, err.Error())
	}

	st.locator = fmt.Sprintf("%s/%s/playlist.m3u8?g=%d", sv.opts.BaseURL, clientID, st.gen)

	logger.Info("流已启动",
		logger.String("clientId", clientID),
		logger.String("track", trackRef),
		logger.String("locator", st.locator))

	return st.locator, nil
}

// launchLocked 启动编码进程并等待首个分片。需要持有 st.mu。
// 成功后流进入 Active 并挂起退出监视。
func (sv *Supervisor) launchLocked(st *stream, position float64) error {
	enc := sv.factory(EncoderSpec{
		ClientID:      st.clientID,
		InputPath:     st.track,
		StartPosition: position,
		OutputDir:     sv.outputDir(st.clientID),
		Generation:    st.gen,
		Bitrate:       sv.opts.Bitrate,
		SegmentTime:   sv.opts.SegmentTime,
	})

	if err := enc.Start(); err != nil {
		return err
	}

	st.encoder = enc
	st.duration = enc.Duration()
	st.basePos = position
	st.activeAt = time.Now()
	st.state = StateActive

	go sv.watch(st, enc, st.gen)
	return nil
}

// watch 监视编码进程退出。旧代的退出事件被忽略。
func (sv *Supervisor) watch(st *stream, enc Encoder, gen uint64) {
	err := <-enc.Done()

	st.mu.Lock()
	defer st.mu.Unlock()

	// 已被新一代取代或已被主动停止
	if st.gen != gen || st.state != StateActive {
		return
	}

	if err == nil {
		// 编码自然结束：曲目播完，流回到Idle并释放槽位
		st.state = StateIdle
		st.encoder = nil
		sv.pool.Release()
		logger.Info("流自然结束",
			logger.String("clientId", st.clientID),
			logger.String("track", st.track))
		return
	}

	logger.Warn("编码进程异常退出",
		logger.String("clientId", st.clientID),
		logger.Int("restarts", st.restarts),
		logger.ErrorField(err))

	// 有界自动重启，超限后进入Failed
	if st.restarts < sv.opts.MaxRestart {
		st.restarts++
		position := sv.positionLocked(st)
		st.gen++
		st.state = StateStarting
		if lerr := sv.launchLocked(st, position); lerr == nil {
			logger.Info("流已自动重启",
				logger.String("clientId", st.clientID),
				logger.Int("attempt", st.restarts))
			return
		}
	}

	st.state = StateFailed
	st.encoder = nil
	sv.pool.Release()

	if sv.onError != nil {
		sv.onError(st.clientID, fmt.Sprintf("encoder failed for %s: %v", st.track, err))
	}
}

// Stop 停止客户端的流。停止Idle流是空操作，不报错。
func (sv *Supervisor) Stop(clientID string) {
	st := sv.lookup(clientID)
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.state {
	case StateIdle:
		return
	case StateFailed:
		// 失败时槽位已释放，只需回到Idle
		st.state = StateIdle
		return
	}

	st.state = StateStopping
	st.gen++ // 使退出监视失效
	enc := st.encoder
	st.encoder = nil

	if enc != nil {
		enc.Stop()
	}

	sv.pool.Release()
	sv.cleanupDir(clientID)

	st.state = StateIdle
	st.locator = ""

	logger.Info("流已停止", logger.String("clientId", clientID))
}

// Seek 重新定位流。仅在Active状态有效。
func (sv *Supervisor) Seek(clientID string, position float64) (string, error) {
	st := sv.lookup(clientID)
	if st == nil {
		return "", protocol.NewCommandError(protocol.CodeNotActive,
			"no active stream for client "+clientID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.state != StateActive {
		return "", protocol.NewCommandError(protocol.CodeNotActive,
			fmt.Sprintf("stream is %s, seek requires Active", st.state))
	}

	if position < 0 {
		position = 0
	}
	if st.duration > 0 && position > st.duration {
		position = st.duration
	}

	st.state = StateSeeking
	old := st.encoder
	st.gen++ // 正在途中的旧播放列表请求由此识别为已被取代

	if old != nil {
		old.Stop()
	}

	if err := sv.launchLocked(st, position); err != nil {
		st.state = StateFailed
		st.encoder = nil
		sv.pool.Release()
		logger.Error("seek后重启编码进程失败",
			logger.String("clientId", clientID),
			logger.ErrorField(err))
		return "", protocol.NewCommandError(protocol.CodeStreamFailed, err.Error())
	}

	st.locator = fmt.Sprintf("%s/%s/playlist.m3u8?g=%d", sv.opts.BaseURL, clientID, st.gen)

	logger.Info("流已重新定位",
		logger.String("clientId", clientID),
		logger.Float64("position", position))

	return st.locator, nil
}

// Status 流状态快照。对已注册客户端永不报错，无流时返回Idle状态。
func (sv *Supervisor) Status(clientID string) model.HLSStreamStatus {
	st := sv.lookup(clientID)
	if st == nil {
		return model.HLSStreamStatus{State: string(StateIdle)}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	status := model.HLSStreamStatus{
		State:    string(st.state),
		Duration: st.duration,
		Bitrate:  sv.opts.Bitrate,
	}

	if st.state == StateActive || st.state == StateSeeking {
		status.IsActive = true
		status.CurrentTime = sv.positionLocked(st)
		status.HLSURL = st.locator
	}

	return status
}

// URL 当前播放地址。流非Active时返回 false。
func (sv *Supervisor) URL(clientID string) (string, bool) {
	st := sv.lookup(clientID)
	if st == nil {
		return "", false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.state != StateActive {
		return "", false
	}
	return st.locator, true
}

// HandleDisconnect 断连时强制停止流并移除状态
func (sv *Supervisor) HandleDisconnect(clientID string) {
	sv.Stop(clientID)

	sv.mu.Lock()
	delete(sv.streams, clientID)
	sv.mu.Unlock()
}

// positionLocked 估算当前播放位置。需要持有 st.mu。
func (sv *Supervisor) positionLocked(st *stream) float64 {
	position := st.basePos + time.Since(st.activeAt).Seconds()
	if st.duration > 0 && position > st.duration {
		position = st.duration
	}
	return position
}

// cleanupDir 删除客户端的输出命名空间及其分片缓存
func (sv *Supervisor) cleanupDir(clientID string) {
	_ = cache.DeleteSegmentPattern("hls:segment:" + clientID + ":*")

	dir := sv.outputDir(clientID)
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("清理输出目录失败",
			logger.String("clientId", clientID),
			logger.String("dir", dir),
			logger.ErrorField(err))
	}
}
