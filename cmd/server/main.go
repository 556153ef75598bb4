package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/yourorg/derivatives-dashboard/internal/config"
	"github.com/yourorg/derivatives-dashboard/internal/handler"
	"github.com/yourorg/derivatives-dashboard/internal/kafka"
	"github.com/yourorg/derivatives-dashboard/internal/middleware"
	"github.com/yourorg/derivatives-dashboard/internal/model"
	"github.com/yourorg/derivatives-dashboard/internal/repository"
	"github.com/yourorg/derivatives-dashboard/internal/service"
	"github.com/yourorg/derivatives-dashboard/internal/simulator"
	"github.com/yourorg/derivatives-dashboard/internal/stream"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logger
	logger, err := createLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Optional Kafka event publication
	var producer *kafka.Producer
	engineOpts := []service.Option{
		service.WithTickInterval(cfg.Engine.TickInterval),
		service.WithProgressSource(func() simulator.Source {
			return simulator.NewRamp(100, cfg.Engine.MaxProgressStep, time.Now().UnixNano())
		}),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID, logger)
		defer producer.Close()
		engineOpts = append(engineOpts,
			service.WithPublisher(producer, cfg.Kafka.Topics["backtestevents"]))
	}

	// Backtest engine
	runRepo := repository.NewRunRepository(logger)
	backtestService := service.NewBacktestService(runRepo, logger, engineOpts...)

	// Stream registry over the configured transport
	var transport stream.Transport
	if cfg.Stream.Simulated {
		transport = stream.NewSimTransport(cfg.Stream.SimInterval, logger)
	} else {
		transport = stream.NewWebSocketTransport(logger)
	}
	registry := stream.NewRegistry(transport, stream.Config{
		BaseURL:              cfg.Stream.BaseURL,
		BufferCapacity:       cfg.Stream.BufferCapacity,
		BackoffInitial:       cfg.Stream.BackoffInitial,
		BackoffMax:           cfg.Stream.BackoffMax,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
	}, logger)

	// Fan risk alerts out to Kafka when a producer is configured
	var alertHandle *stream.Handle
	if producer != nil {
		topic := cfg.Kafka.Topics["riskalertevents"]
		alertHandle, err = registry.Subscribe(model.ChannelRiskAlerts, "default", func(ev model.StreamEvent) {
			if ev.Alert == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := producer.Publish(ctx, topic, ev.Alert.ID, ev.Alert); err != nil {
				logger.Warn("Failed to publish risk alert", zap.Error(err))
			}
		})
		if err != nil {
			logger.Fatal("Failed to subscribe alert fan-out", zap.Error(err))
		}
	}

	// Optional Redis-backed rate limiting
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	// Initialize handlers
	backtestHandler := handler.NewBacktestHandler(backtestService, logger)
	streamHandler := handler.NewStreamHandler(registry, cfg.Stream.PushInterval, logger)

	// Set up HTTP server with Gin
	router := setupRouter(backtestHandler, streamHandler, redisClient, cfg, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	if alertHandle != nil {
		registry.Unsubscribe(alertHandle)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited properly")
}

func createLogger(level string) (*zap.Logger, error) {
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config := zap.Config{
		Level:            zapLevel,
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}

func setupRouter(
	backtestHandler *handler.BacktestHandler,
	streamHandler *handler.StreamHandler,
	redisClient *redis.Client,
	cfg *config.Config,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.RateLimit(redisClient, middleware.RateLimitConfig{
		Enabled:           cfg.Redis.RateLimitEnabled,
		RequestsPerMinute: cfg.Redis.RequestsPerMinute,
	}, logger))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// API routes
	v1 := router.Group("/api/v1")
	{
		backtests := v1.Group("/backtests")
		{
			backtests.POST("", backtestHandler.CreateBacktest)
			backtests.GET("", backtestHandler.ListBacktests)
			backtests.GET("/:id", backtestHandler.GetBacktest)
			backtests.GET("/:id/result", backtestHandler.GetBacktestResult)
			backtests.POST("/:id/start", backtestHandler.StartBacktest)
			backtests.POST("/:id/stop", backtestHandler.StopBacktest)
		}

		v1.GET("/strategies", backtestHandler.ListStrategies)

		channels := v1.Group("/channels")
		{
			channels.GET("", streamHandler.ListChannels)
			channels.POST("", streamHandler.Subscribe)
			channels.DELETE("/:token", streamHandler.Unsubscribe)
			channels.GET("/status", streamHandler.Status)
			channels.GET("/snapshot", streamHandler.Snapshot)
			channels.POST("/clear", streamHandler.Clear)
			channels.POST("/toggle", streamHandler.Toggle)
			channels.GET("/overflows", streamHandler.Overflows)
		}
	}

	// Live snapshot push for the dashboard
	router.GET("/ws", streamHandler.PushSnapshots)

	return router
}
