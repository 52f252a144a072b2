package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wavedeck/cache"
	"wavedeck/config"
	"wavedeck/core/authority"
	"wavedeck/core/hls"
	"wavedeck/core/player"
	"wavedeck/core/queue"
	"wavedeck/core/session"
	"wavedeck/db"
	"wavedeck/logger"
	"wavedeck/model"
	"wavedeck/protocol"
	"wavedeck/repository"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

// Server 组装所有组件：WebSocket控制面、HLS文件服务、
// 会话注册表、队列存储、流监督器、控制权仲裁和共享播放引擎。
type Server struct {
	cfg *config.Config

	hub        *Hub
	registry   *session.Registry
	queues     *queue.Store
	supervisor *hls.Supervisor
	authority  *authority.Controller
	player     *player.Player
	history    repository.HistoryRepository

	router      *Router
	broadcaster *Broadcaster
}

// New 构建服务器并完成组件间接线
func New(cfg *config.Config) *Server {
	pool := hls.NewPool(cfg.MaxConcurrentStreams)
	factory := hls.NewFFmpegFactory(cfg.FFmpegPath, cfg.EncoderStopGrace, cfg.SegmentWaitLimit)
	supervisor := hls.NewSupervisor(pool, factory, hls.Options{
		TempDir:     cfg.HLSTempDir,
		BaseURL:     "/streams",
		Bitrate:     cfg.AudioBitrate,
		SegmentTime: cfg.HLSSegmentTime,
		MaxRestart:  cfg.MaxRestartAttempt,
	})

	s := &Server{
		cfg:        cfg,
		hub:        NewHub(),
		registry:   session.NewRegistry(),
		queues:     queue.NewStore(),
		supervisor: supervisor,
		authority:  authority.NewController(cfg.TakeoverTimeout),
		player:     player.NewPlayer(cfg.FFplayPath, cfg.FFmpegPath),
		history:    repository.NewGormHistoryRepository(),
	}

	s.broadcaster = NewBroadcaster(cfg.StatusInterval, s.hub, s.registry,
		s.queues, s.supervisor, s.player, s.authority)
	s.router = NewRouter(s.queues, s.supervisor, s.authority, s.player,
		s.hub, s.history, s.broadcaster)

	s.wire()
	return s
}

// wire 组件间回调接线
func (s *Server) wire() {
	// 流异常：通知所属客户端并刷新其状态
	s.supervisor.SetErrorHandler(func(clientID, message string) {
		_ = s.hub.SendToClient(clientID, protocol.NewPush(
			protocol.TypeStreamError, clientID,
			map[string]string{"message": message}))
		s.broadcaster.Push(clientID)
	})

	// 控制权事件：接管警告推给当前持有者，持有者变更后全员刷新
	s.authority.SetCallbacks(
		func(holderID, challengerID string, timeout time.Duration) {
			_ = s.hub.SendToClient(holderID, protocol.NewPush(
				protocol.TypeTakeoverWarning, holderID,
				map[string]interface{}{
					"challenger_id": challengerID,
					"timeout_ms":    timeout.Milliseconds(),
				}))
		},
		func(newHolder, prevHolder string) {
			s.broadcaster.PushAll()
		},
	)

	// 曲目自然播完：持有者队列自动续播
	s.player.SetTrackEndHandler(func() {
		holder := s.authority.Holder()
		if holder == "" || !s.queues.AutoAdvance(holder) {
			s.broadcaster.PushAll()
			return
		}

		track, ok := s.queues.Next(holder)
		if !ok {
			// 队列播完后自动续播关闭，等待下一次set_queue重新打开
			s.queues.SetAutoAdvance(holder, false)
			logger.Info("queue exhausted, playback stays stopped",
				logger.String("clientId", holder))
			s.broadcaster.PushAll()
			return
		}

		if err := s.player.PlayNew(track, true); err != nil {
			logger.Warn("auto-advance failed",
				logger.String("clientId", holder),
				logger.String("track", track),
				logger.ErrorField(err))
		} else if s.history != nil {
			_ = s.history.RecordEvent(&model.PlaybackEvent{
				ClientID:  holder,
				Filepath:  track,
				Action:    "auto_advance",
				CreatedAt: time.Now(),
			})
		}
		s.broadcaster.PushAll()
	})

	// 断连清理：顺序固定，全部执行到底
	s.registry.OnDeregister(func(client *model.Client) {
		s.supervisor.HandleDisconnect(client.ID)
		s.authority.HandleDisconnect(client.ID)
		s.queues.Remove(client.ID)
	})

	// 最后一个客户端断开后，除非开启保活，停止共享输出
	s.registry.OnDeregister(func(client *model.Client) {
		if s.registry.Count() == 0 && !s.player.KeepAlive() {
			s.player.Stop()
			logger.Info("last client disconnected, playback stopped")
		}
	})
}

// Start 加载配置、初始化基础设施并运行服务器，阻塞到收到退出信号
func Start() {
	cfg := config.Load()

	logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogOutput,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})

	// 缓存与历史库都是可选依赖，连不上只降级不退出
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis不可用，分片直接从磁盘提供", logger.ErrorField(err))
	} else {
		defer cache.CloseRedis()
		logger.Info("Redis已连接",
			logger.String("host", cfg.RedisHost),
			logger.String("port", cfg.RedisPort))
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Warn("历史库不可用，播放历史不记录", logger.ErrorField(err))
	} else {
		defer db.CloseGormDB()
	}

	if err := os.MkdirAll(cfg.HLSTempDir, 0755); err != nil {
		logger.Fatal("无法创建HLS输出目录",
			logger.String("dir", cfg.HLSTempDir),
			logger.ErrorField(err))
	}

	srv := New(cfg)
	if err := srv.Run(); err != nil {
		logger.Error("server exited with error", logger.ErrorField(err))
	}
}

// Run 启动WebSocket控制服务和HLS文件服务，直到收到退出信号
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wsRouter := mux.NewRouter()
	wsRouter.HandleFunc("/ws/player", s.HandleWS)

	hlsRouter := mux.NewRouter()
	hlsRouter.HandleFunc("/streams/{client_id}/{filename}", s.HandleHLSFile).Methods("GET")
	hlsRouter.HandleFunc("/api/history", s.HandleHistory).Methods("GET")

	wsServer := &http.Server{Addr: ":" + s.cfg.WSPort, Handler: wsRouter}
	hlsServer := &http.Server{Addr: ":" + s.cfg.HLSPort, Handler: hlsRouter}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("WebSocket控制服务启动", logger.String("port", s.cfg.WSPort))
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("HLS文件服务启动", logger.String("port", s.cfg.HLSPort))
		if err := hlsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		s.broadcaster.Run(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = wsServer.Shutdown(shutdownCtx)
		_ = hlsServer.Shutdown(shutdownCtx)

		// 停掉全部编码进程和共享输出
		for _, client := range s.registry.List() {
			s.registry.Deregister(client.ID)
		}
		s.player.Stop()
		return nil
	})

	return g.Wait()
}
