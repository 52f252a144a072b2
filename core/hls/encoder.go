package hls

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"wavedeck/logger"

	"github.com/fsnotify/fsnotify"
)

// EncoderSpec 一次编码进程的启动参数
type EncoderSpec struct {
	ClientID      string
	InputPath     string
	StartPosition float64 // 秒
	OutputDir     string  // 客户端独占的输出命名空间
	Generation    uint64  // 分片文件名前缀，用于区分被取代的旧播放列表
	Bitrate       string
	SegmentTime   string
}

// Encoder 封装一个编码进程的完整生命周期
type Encoder interface {
	// Start 启动进程并阻塞等待首个可播放分片写入
	Start() error
	// Stop 优雅终止进程，超过宽限时间后强杀。可重复调用。
	Stop()
	// Done 进程退出后关闭；非正常退出时携带错误
	Done() <-chan error
	// Duration 输入文件总时长（秒），Start 成功后可用
	Duration() float64
}

// EncoderFactory 创建编码进程，测试中可替换
type EncoderFactory func(spec EncoderSpec) Encoder

// ffmpegEncoder 基于 ffmpeg 的编码进程
type ffmpegEncoder struct {
	spec       EncoderSpec
	ffmpegPath string
	stopGrace  time.Duration
	waitLimit  time.Duration

	cmd      *exec.Cmd
	duration float64
	done     chan error
	stopped  chan struct{}
}

// NewFFmpegFactory 创建基于 ffmpeg 的编码器工厂
func NewFFmpegFactory(ffmpegPath string, stopGrace, waitLimit time.Duration) EncoderFactory {
	return func(spec EncoderSpec) Encoder {
		return &ffmpegEncoder{
			spec:       spec,
			ffmpegPath: ffmpegPath,
			stopGrace:  stopGrace,
			waitLimit:  waitLimit,
			done:       make(chan error, 1),
			stopped:    make(chan struct{}),
		}
	}
}

// Start 启动 ffmpeg 并等待首个分片确认写入
func (e *ffmpegEncoder) Start() error {
	if err := os.MkdirAll(e.spec.OutputDir, 0755); err != nil {
		return fmt.Errorf("创建输出目录失败 %s: %w", e.spec.OutputDir, err)
	}

	// 时长探测失败不阻止编码，仅状态中缺少duration
	if duration, err := probeDuration(e.ffmpegPath, e.spec.InputPath); err != nil {
		logger.Warn("无法探测音频时长",
			logger.String("input", e.spec.InputPath),
			logger.ErrorField(err))
	} else {
		e.duration = duration
	}

	playlistPath := filepath.Join(e.spec.OutputDir, "playlist.m3u8")
	segmentPattern := filepath.Join(e.spec.OutputDir, fmt.Sprintf("g%d_segment_%%03d.ts", e.spec.Generation))

	args := []string{
		"-nostdin",
		"-re",
	}
	if e.spec.StartPosition > 0 {
		args = append(args, "-ss", strconv.FormatFloat(e.spec.StartPosition, 'f', 3, 64))
	}
	args = append(args,
		"-i", e.spec.InputPath,
		"-vn",
		"-c:a", "aac",
		"-b:a", e.spec.Bitrate,
		"-hls_time", e.spec.SegmentTime,
		"-hls_list_size", "5",
		"-hls_flags", "delete_segments+independent_segments",
		"-y",
		"-hls_segment_filename", segmentPattern,
		playlistPath,
	)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监视器失败: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(e.spec.OutputDir); err != nil {
		return fmt.Errorf("监视输出目录失败: %w", err)
	}

	e.cmd = exec.Command(e.ffmpegPath, args...)
	var stderr bytes.Buffer
	e.cmd.Stderr = &stderr

	logger.Info("启动编码进程",
		logger.String("clientId", e.spec.ClientID),
		logger.String("input", e.spec.InputPath),
		logger.Float64("startPosition", e.spec.StartPosition))

	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg 启动失败: %w", err)
	}

	exited := make(chan error, 1)
	go func() {
		err := e.cmd.Wait()
		if err != nil && stderr.Len() > 0 {
			err = fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		exited <- err
	}()

	// 等待首个 .ts 分片出现，之后流才算 Active
	if err := e.waitFirstSegment(watcher, exited); err != nil {
		e.terminate()
		<-exited
		return err
	}

	go func() {
		err := <-exited
		select {
		case <-e.stopped:
			// 主动停止，退出错误不再上报
			e.done <- nil
		default:
			e.done <- err
		}
		close(e.done)
	}()

	return nil
}

// waitFirstSegment 等待首个分片或进程提前退出
func (e *ffmpegEncoder) waitFirstSegment(watcher *fsnotify.Watcher, exited <-chan error) error {
	// 分片可能在watcher建立前已写入
	if e.hasSegment() {
		return nil
	}

	deadline := time.NewTimer(e.waitLimit)
	defer deadline.Stop()

	for {
		select {
		case event := <-watcher.Events:
			if event.Op&fsnotify.Create == fsnotify.Create && strings.HasSuffix(event.Name, ".ts") {
				return nil
			}
		case err := <-watcher.Errors:
			logger.Warn("文件监视器错误", logger.ErrorField(err))
		case err := <-exited:
			if err == nil {
				// 极短输入可能在首分片事件前就正常结束
				if e.hasSegment() {
					return nil
				}
				err = fmt.Errorf("ffmpeg exited before producing segments")
			}
			return fmt.Errorf("编码进程启动失败: %w", err)
		case <-deadline.C:
			return fmt.Errorf("等待首个分片超时（%s）", e.waitLimit)
		}
	}
}

// hasSegment 检查输出目录中是否已有本代分片
func (e *ffmpegEncoder) hasSegment() bool {
	pattern := filepath.Join(e.spec.OutputDir, fmt.Sprintf("g%d_segment_*.ts", e.spec.Generation))
	files, err := filepath.Glob(pattern)
	return err == nil && len(files) > 0
}

// Stop 优雅停止编码进程
func (e *ffmpegEncoder) Stop() {
	select {
	case <-e.stopped:
		return
	default:
		close(e.stopped)
	}

	e.terminate()
}

// terminate 先SIGTERM，宽限期后SIGKILL
func (e *ffmpegEncoder) terminate() {
	if e.cmd == nil || e.cmd.Process == nil {
		return
	}

	if err := e.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return // 进程已退出
	}

	timer := time.NewTimer(e.stopGrace)
	defer timer.Stop()

	probe := time.NewTicker(100 * time.Millisecond)
	defer probe.Stop()

	for {
		select {
		case <-timer.C:
			logger.Warn("编码进程未在宽限期内退出，强制终止",
				logger.String("clientId", e.spec.ClientID))
			_ = e.cmd.Process.Kill()
			return
		case <-probe.C:
			// Signal(0) 探测进程是否仍然存活
			if err := e.cmd.Process.Signal(syscall.Signal(0)); err != nil {
				return
			}
		}
	}
}

func (e *ffmpegEncoder) Done() <-chan error {
	return e.done
}

func (e *ffmpegEncoder) Duration() float64 {
	return e.duration
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probeDuration uses ffprobe to get the duration of an audio file in seconds.
func probeDuration(ffmpegPath, inputFile string) (float64, error) {
	ffprobePath := strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1)

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		inputFile,
	}

	cmd := exec.Command(ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", inputFile, err, stderr.String())
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}

	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output for %s", inputFile)
	}

	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration string %q: %w", probeData.Format.Duration, err)
	}

	return duration, nil
}
