package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edulive/internal/core/services"
	httphandlers "edulive/internal/handlers/http"
	"edulive/internal/infrastructure/middleware"
	"edulive/internal/infrastructure/monitoring"
	"edulive/internal/infrastructure/realtime"
	"edulive/internal/infrastructure/repositories"
	signalgw "edulive/internal/infrastructure/signal"
	"edulive/pkg/circuitbreaker"
	"edulive/pkg/config"
	"edulive/pkg/logger"
	"edulive/pkg/retry"
	"edulive/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/edulive/config.yaml",
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
		ServiceName: "edulive",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Repositories
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	messageRepo := repoFactory.CreateMessageRepository()
	roomDirectory := repoFactory.CreateRoomDirectory()
	sessionDirectory := repoFactory.CreateSessionDirectory()
	moderator := repoFactory.CreateModerator()

	// Monitoring
	collector := monitoring.NewPrometheusCollector()

	// Realtime core
	registry := realtime.NewRegistry(log)
	presence := realtime.NewPresence()
	router := realtime.NewRouter(registry, collector, log)
	typing := services.NewTypingDebouncer(cfg.Typing.Window, router)

	// ICE servers from config, STUN fallback otherwise
	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	// Services
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	moderationBreaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
	chatService := services.NewChatService(
		registry, presence, router, typing,
		messageRepo, roomDirectory, moderator,
		retry.DefaultConfig(), moderationBreaker, collector, log,
	)
	sessionService := services.NewSessionService(
		registry, presence, router, sessionDirectory,
		iceServers, retry.DefaultConfig(), collector, log,
	)

	// Websocket gateway
	wsOpts := signalgw.Options{
		PingInterval:      cfg.Gateway.PingInterval,
		PongTimeout:       cfg.Gateway.PongTimeout,
		WriteTimeout:      cfg.Gateway.WriteTimeout,
		SendQueueSize:     cfg.Gateway.SendQueueSize,
		MessagesPerSecond: cfg.RateLimiting.WebSocket.MessagesPerSecond,
		MessageBurst:      cfg.RateLimiting.WebSocket.Burst,
		MaxMessageSize:    cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
	}
	wsServer := signalgw.NewWebSocketServer(
		authService, registry, presence, router, typing,
		chatService, sessionService, wsOpts, collector, log,
	)

	gatewayMux := http.NewServeMux()
	gatewayMux.HandleFunc("/ws", wsServer.HandleWebSocket)
	gatewaySrv := &http.Server{
		Addr:    cfg.Gateway.Address,
		Handler: gatewayMux,
	}

	// HTTP API
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	apiRouter := gin.New()
	apiRouter.Use(middleware.RecoveryMiddleware(log))
	apiRouter.Use(middleware.ErrorHandlerMiddleware(log))
	apiRouter.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		apiRouter.Use(middleware.TracingMiddleware())
	}

	authHandler := httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL)
	authHandler.SetupRoutes(apiRouter)

	healthHandler := httphandlers.NewHealthHandler(registry, presence, repoFactory)
	healthHandler.SetupRoutes(apiRouter)

	statsHandler := httphandlers.NewStatsHandler(registry, presence)
	statsHandler.SetupRoutes(apiRouter, middleware.AuthMiddleware(authService))

	if cfg.Monitoring.PrometheusEnabled {
		apiRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	apiSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      apiRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 2)
	go func() {
		log.Infof("Starting EduLive API server on %s", cfg.Server.Address)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	go func() {
		log.Infof("Starting EduLive gateway on %s", cfg.Gateway.Address)
		if err := gatewaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down EduLive gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer cancel()

	// Stop accepting new handshakes first, then run disconnect cascades
	// for the connections still open.
	if err := gatewaySrv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("gateway http shutdown", "error", err)
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("websocket shutdown", "error", err)
	}
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("api shutdown", "error", err)
	}
	typing.Close()

	if tracerProvider != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := tracerProvider.Shutdown(flushCtx); err != nil {
			log.Warnw("tracer shutdown", "error", err)
		}
	}

	log.Info("shutdown complete")
}
