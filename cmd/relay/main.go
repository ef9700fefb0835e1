package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"chatrelay/internal/core/ports"
	"chatrelay/internal/core/services"
	httphandlers "chatrelay/internal/handlers/http"
	"chatrelay/internal/infrastructure/middleware"
	"chatrelay/internal/infrastructure/monitoring"
	"chatrelay/internal/infrastructure/registry"
	"chatrelay/internal/infrastructure/relay"
	redisrepo "chatrelay/internal/infrastructure/repositories/redis"
	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Try multiple config paths
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
		log.Fatalf("could not load config: %v", err)
	}

	zlog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zlog.Sync()
	sugar := zlog.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		sugar.Fatalw("failed to initialize tracing", "error", err)
	}
	defer tp.Shutdown(context.Background())

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	// The registry is the single shared mutable resource: constructed here,
	// handed explicitly to every component that needs it.
	reg := registry.NewMemoryRegistry(collector, sugar)

	var mirror ports.PresenceMirror
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, sugar)
		if err != nil {
			sugar.Fatalw("failed to connect to redis", "error", err)
		}
		defer client.Close()
		mirror = redisrepo.NewPresenceMirror(client, cfg.Redis.OnlineSetKey, cfg.Redis.WriteTimeout, sugar)
	}

	publisher := services.NewPresencePublisher(reg, mirror, collector, cfg.Presence.DebounceWindow, sugar)
	reg.SetListener(publisher)
	publisher.Start()
	defer publisher.Stop()

	authService := services.NewAuthService(cfg.Auth.JWTSecret)
	deliveryRouter := services.NewDeliveryRouter(reg, collector, sugar)

	wsOpts := relay.Options{
		PingInterval:  cfg.Relay.PingInterval,
		PongTimeout:   cfg.Relay.PongTimeout,
		WriteTimeout:  cfg.Relay.WriteTimeout,
		PushTimeout:   cfg.Relay.PushTimeout,
		SendQueueSize: cfg.Relay.SendQueueSize,
		IdleTimeout:   cfg.Relay.IdleTimeout,
	}
	if cfg.RateLimiting.Enabled {
		wsOpts.ConnectionsPerMinute = cfg.RateLimiting.WebSocket.ConnectionsPerMinute
		wsOpts.ConnectionBurst = cfg.RateLimiting.WebSocket.Burst
	}
	wsServer := relay.NewWebSocketServer(reg, authService, collector, wsOpts, sugar)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(sugar))
	router.Use(middleware.RequestLoggerMiddleware(sugar))
	router.Use(middleware.ErrorHandlerMiddleware(sugar))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	notifyHandler := httphandlers.NewNotifyHandler(deliveryRouter, reg)
	notifyHandler.SetupRoutes(router, middleware.InternalAuthMiddleware(cfg.Auth.InternalAPIToken))

	healthHandler := httphandlers.NewHealthHandler(reg)
	healthHandler.SetupRoutes(router)

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	go func() {
		sugar.Infow("starting chatrelay server", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Info("shutting down")

	wsServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		sugar.Errorw("graceful shutdown failed", "error", err)
	}
}
