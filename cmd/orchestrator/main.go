package main

import (
	"context"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"
	"officemesh/internal/core/services"
	httphandlers "officemesh/internal/handlers/http"
	"officemesh/internal/infrastructure/distributed"
	"officemesh/internal/infrastructure/middleware"
	"officemesh/internal/infrastructure/monitoring"
	"officemesh/internal/infrastructure/repositories/memory"
	redisrepo "officemesh/internal/infrastructure/repositories/redis"
	"officemesh/internal/infrastructure/signal"
	webrtcinfra "officemesh/internal/infrastructure/webrtc"
	"officemesh/pkg/config"
	"officemesh/pkg/logger"
	"officemesh/pkg/tracing"
	"officemesh/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	// Tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "officemesh",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Repositories: in-memory by default, Redis queue plus event bus when a
	// cluster address is configured.
	peerRepo := memory.NewMemoryPeerStateRepository()
	proximityRepo := memory.NewMemoryProximityRepository()
	meetingRepo := memory.NewMemoryMeetingRepository()

	var queue ports.ActionQueue = memory.NewMemoryActionQueue()
	var eventBus *distributed.EventBus
	healthChecker := monitoring.NewHealthChecker()

	if cfg.Redis.Enabled {
		redisClient, err := redisrepo.NewRedisClient(
			cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer redisrepo.CloseRedisClient(redisClient)

		queue = redisrepo.NewActionQueue(redisClient, log)
		eventBus = distributed.NewEventBus(redisClient, utils.GenerateID("instance"), log)
		healthChecker.AddRedisCheck(redisClient, 2*time.Second)
	}

	// Services
	proximityService := services.NewProximityService(proximityRepo, log)
	meetingService := services.NewMeetingService(meetingRepo, peerRepo, proximityRepo, queue, services.MeetingConfig{
		PromptTTL: cfg.Meeting.PromptTTL,
		Cooldown:  cfg.Meeting.Cooldown,
	}, log)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// Media engine
	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	engineCfg := webrtcinfra.EngineConfig{ICEServers: iceServers}
	engineCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	engineCfg.PortRange.Max = cfg.WebRTC.PortRange.Max

	engine, err := webrtcinfra.NewEngine(engineCfg, log)
	if err != nil {
		log.Fatalw("failed to initialize media engine", "error", err)
	}
	defer engine.Close()

	sessionService := services.NewSessionService(
		peerRepo, proximityService, meetingService, queue, engine, log)

	// Signal plane, wired as the push notifier.
	wsServer := signal.NewWebSocketServer(
		sessionService, authService,
		cfg.RateLimiting.WebSocket.MessagesPerSecond,
		cfg.RateLimiting.WebSocket.Burst,
		cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		log,
	)
	wsServer.SetPingInterval(cfg.Signal.PingInterval)

	if eventBus != nil {
		sessionService.SetNotifier(notifierChain{wsServer, eventBus})
	} else {
		sessionService.SetNotifier(wsServer)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Cross-instance nudges land on the local connection if we hold it.
	if eventBus != nil {
		go func() {
			err := eventBus.Subscribe(rootCtx, func(ev *distributed.Event) error {
				if ev.Type == distributed.EventActionsPending {
					wsServer.NotifyPending(rootCtx, ev.UserID)
				}
				return nil
			})
			if err != nil && err != context.Canceled {
				log.Warnw("event bus subscription ended", "error", err)
			}
		}()
	}

	// Monitoring
	collector := monitoring.NewPrometheusCollector()
	go sampleStats(rootCtx, sessionService, collector, cfg.Monitoring.StatsInterval, log)

	// HTTP API
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	sessionHandler := httphandlers.NewSessionHandler(sessionService)
	sessionHandler.SetupRoutes(router, middleware.AuthMiddleware(authService))

	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("starting officemesh orchestrator on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Infow("shutting down", "uptime", time.Since(startTime).String())
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server shutdown failed", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("server force close failed", "error", closeErr)
		}
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("tracer shutdown failed", "error", err)
	}

	log.Info("officemesh orchestrator stopped")
}

// notifierChain fans a pending nudge out to every notifier.
type notifierChain []ports.PendingNotifier

func (n notifierChain) NotifyPending(ctx context.Context, user domain.UserID) {
	for _, notifier := range n {
		notifier.NotifyPending(ctx, user)
	}
}

func sampleStats(ctx context.Context, sessions ports.SessionService, collector *monitoring.PrometheusCollector, interval time.Duration, log *zap.SugaredLogger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := sessions.Stats(ctx)
			if err != nil {
				log.Warnw("stats sampling failed", "error", err)
				continue
			}
			collector.RecordStats(stats)
		}
	}
}
