package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	WSPort  string // WebSocket 控制端口
	HLSPort string // HLS 文件服务端口

	FFmpegPath string // HLS 编码器路径
	FFplayPath string // 服务端播放器路径

	HLSTempDir     string // 每客户端HLS输出的根目录
	AudioBitrate   string // e.g., "192k"
	HLSSegmentTime string // 分片时长（秒）

	MaxConcurrentStreams int // 并发编码进程上限

	RegisterTimeout   time.Duration // 注册握手超时
	TakeoverTimeout   time.Duration // 接管等待当前持有者确认的超时
	EncoderStopGrace  time.Duration // 编码进程优雅停止等待时间
	SegmentWaitLimit  time.Duration // 等待首个可播放分片的超时
	StatusInterval    time.Duration // 状态广播周期
	MaxRestartAttempt int           // 编码进程异常退出后的自动重启上限

	// Redis配置（分片缓存，可选）
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	HistoryDBPath string // 播放历史SQLite文件

	LogLevel  string
	LogOutput string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvDuration 以秒为单位读取时长配置
func getEnvDuration(key string, fallbackSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackSeconds)) * time.Second
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		WSPort:  getEnv("WS_PORT", "1971"),
		HLSPort: getEnv("HLS_PORT", "8000"),

		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),
		FFplayPath: getEnv("FFPLAY_PATH", "ffplay"),

		HLSTempDir:     getEnv("HLS_TEMP_DIR", filepath.Join(os.TempDir(), "hls_streams")),
		AudioBitrate:   getEnv("AUDIO_BITRATE", "192k"),
		HLSSegmentTime: getEnv("HLS_SEGMENT_TIME", "4"),

		MaxConcurrentStreams: getEnvInt("MAX_CONCURRENT_STREAMS", 8),

		RegisterTimeout:   getEnvDuration("REGISTER_TIMEOUT", 10),
		TakeoverTimeout:   getEnvDuration("TAKEOVER_TIMEOUT", 10),
		EncoderStopGrace:  getEnvDuration("ENCODER_STOP_GRACE", 5),
		SegmentWaitLimit:  getEnvDuration("SEGMENT_WAIT_LIMIT", 15),
		StatusInterval:    time.Duration(getEnvInt("STATUS_INTERVAL_MS", 1000)) * time.Millisecond,
		MaxRestartAttempt: getEnvInt("MAX_RESTART_ATTEMPTS", 2),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),

		HistoryDBPath: getEnv("HISTORY_DB_PATH", "wavedeck.db"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogOutput: getEnv("LOG_OUTPUT", ""),
	}
}
