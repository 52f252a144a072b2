package player

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"wavedeck/logger"
	"wavedeck/model"
)

// TrackEndFunc 曲目自然播完时的回调（用于队列自动续播）
type TrackEndFunc func()

// Player 驱动服务端物理音频输出的播放引擎，封装 ffplay 进程。
// 进程内单例，所有命令经过控制权校验后到达这里。
type Player struct {
	mu         sync.Mutex
	ffplayPath string
	ffmpegPath string

	cmd *exec.Cmd
	gen uint64 // 每次启动进程递增，旧进程的退出事件由此忽略

	currentTrack string
	duration     float64
	basePos      float64 // 累计播放位置（秒）
	startedAt    time.Time
	playing      bool
	paused       bool
	volume       int
	keepAlive    bool

	onTrackEnd TrackEndFunc
}

// NewPlayer 创建播放引擎
func NewPlayer(ffplayPath, ffmpegPath string) *Player {
	return &Player{
		ffplayPath: ffplayPath,
		ffmpegPath: ffmpegPath,
		volume:     100,
	}
}

// SetTrackEndHandler 设置曲目结束回调
func (p *Player) SetTrackEndHandler(fn TrackEndFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrackEnd = fn
}

// PlayNew 加载新曲目，可选立即播放
func (p *Player) PlayNew(filepath string, playImmediately bool) error {
	if _, err := os.Stat(filepath); err != nil {
		return fmt.Errorf("track file not found: %s", filepath)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	p.currentTrack = filepath
	p.basePos = 0

	if duration, err := p.probeDuration(filepath); err != nil {
		logger.Warn("无法探测曲目时长",
			logger.String("filepath", filepath),
			logger.ErrorField(err))
		p.duration = 0
	} else {
		p.duration = duration
	}

	if playImmediately {
		if err := p.startProcessLocked(0); err != nil {
			return err
		}
		logger.Info("playing new track", logger.String("filepath", filepath))
	} else {
		p.paused = true
		logger.Info("track loaded and paused", logger.String("filepath", filepath))
	}

	return nil
}

// Resume 从暂停位置恢复播放
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.playing {
		return nil
	}
	if !p.paused || p.currentTrack == "" {
		return fmt.Errorf("no paused track to resume")
	}

	return p.startProcessLocked(p.basePos)
}

// Pause 暂停播放并记录当前位置
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing {
		return
	}

	p.basePos += time.Since(p.startedAt).Seconds()
	p.terminateLocked()
	p.playing = false
	p.paused = true

	logger.Info("playback paused", logger.Float64("position", p.basePos))
}

// Stop 停止播放并清空状态
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// stopLocked 需要持有锁
func (p *Player) stopLocked() {
	p.terminateLocked()
	p.currentTrack = ""
	p.duration = 0
	p.basePos = 0
	p.playing = false
	p.paused = false
}

// Seek 跳转到指定毫秒位置
func (p *Player) Seek(positionMs int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentTrack == "" {
		return fmt.Errorf("no track loaded to seek")
	}

	position := float64(positionMs) / 1000.0
	if position < 0 {
		position = 0
	}
	if p.duration > 0 && position > p.duration {
		position = p.duration
	}

	wasPlaying := p.playing
	p.terminateLocked()
	p.basePos = position
	p.playing = false

	if wasPlaying {
		return p.startProcessLocked(position)
	}

	p.paused = true
	return nil
}

// SetVolume 设置音量0-100。播放中需要重启进程以生效。
func (p *Player) SetVolume(level int) error {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.volume = level

	if p.playing && p.currentTrack != "" {
		position := p.basePos + time.Since(p.startedAt).Seconds()
		p.terminateLocked()
		p.basePos = position
		return p.startProcessLocked(position)
	}

	return nil
}

// SetKeepAlive 设置保活开关：最后一个客户端断开后是否继续播放
func (p *Player) SetKeepAlive(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.keepAlive = enabled
	logger.Info("keep-alive updated", logger.Bool("enabled", enabled))
}

// KeepAlive 查询保活开关
func (p *Player) KeepAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keepAlive
}

// Status 播放状态快照（队列信息由上层合并）
func (p *Player) Status() model.ServerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	currentTime := p.basePos
	if p.playing {
		currentTime += time.Since(p.startedAt).Seconds()
		if p.duration > 0 && currentTime > p.duration {
			currentTime = p.duration
		}
	}

	state := "Stopped"
	switch {
	case p.playing && p.duration > 0 && p.duration-currentTime < 0.5:
		state = "Ended"
	case p.playing:
		state = "Playing"
	case p.paused:
		state = "Paused"
	}

	return model.ServerStatus{
		State:       state,
		CurrentTime: currentTime,
		Duration:    p.duration,
		Volume:      p.volume,
		Filepath:    p.currentTrack,
		KeepAlive:   p.keepAlive,
	}
}

// startProcessLocked 启动 ffplay 进程。需要持有锁。
func (p *Player) startProcessLocked(startPosition float64) error {
	p.terminateLocked()

	// ffplay 音量范围是0-256
	ffplayVolume := int(float64(p.volume) * 2.56)

	args := []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "quiet",
		"-volume", strconv.Itoa(ffplayVolume),
		"-ss", strconv.FormatFloat(startPosition, 'f', 3, 64),
		p.currentTrack,
	}

	cmd := exec.Command(p.ffplayPath, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffplay 启动失败: %w", err)
	}

	p.cmd = cmd
	p.gen++
	p.startedAt = time.Now()
	p.basePos = startPosition
	p.playing = true
	p.paused = false

	go p.watchProcess(cmd, p.gen)
	return nil
}

// watchProcess 监视进程退出，识别自然播完并触发续播回调
func (p *Player) watchProcess(cmd *exec.Cmd, gen uint64) {
	err := cmd.Wait()

	p.mu.Lock()
	if p.gen != gen || !p.playing {
		// 被新进程取代或已被暂停/停止
		p.mu.Unlock()
		return
	}

	position := p.basePos + time.Since(p.startedAt).Seconds()
	nearEnd := p.duration > 0 && p.duration-position < 1.0

	p.playing = false
	p.cmd = nil
	onEnd := p.onTrackEnd

	if err == nil && nearEnd {
		p.basePos = p.duration
		p.mu.Unlock()

		logger.Info("track ended naturally")
		if onEnd != nil {
			onEnd()
		}
		return
	}

	p.paused = false
	p.mu.Unlock()

	if err != nil {
		logger.Warn("ffplay exited unexpectedly",
			logger.Float64("position", position),
			logger.ErrorField(err))
	}
}

// terminateLocked 终止当前进程。需要持有锁。
func (p *Player) terminateLocked() {
	if p.cmd != nil && p.cmd.Process != nil {
		p.gen++ // 使监视协程失效
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}
	p.cmd = nil
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probeDuration 通过 ffprobe 获取媒体时长（秒）
func (p *Player) probeDuration(inputFile string) (float64, error) {
	ffprobePath := strings.Replace(p.ffmpegPath, "ffmpeg", "ffprobe", 1)

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		inputFile,
	}

	cmd := exec.Command(ffprobePath, args...)
	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe execution failed for %s: %w", inputFile, err)
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}

	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output for %s", inputFile)
	}

	return strconv.ParseFloat(probeData.Format.Duration, 64)
}
