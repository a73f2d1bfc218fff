package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/typing-arena/internal/anticheat"
	"github.com/typing-arena/internal/config"
	"github.com/typing-arena/internal/handler"
	"github.com/typing-arena/internal/kafka"
	"github.com/typing-arena/internal/leaderboard"
	"github.com/typing-arena/internal/matchmaking"
	"github.com/typing-arena/internal/postgres"
	"github.com/typing-arena/internal/presence"
	"github.com/typing-arena/internal/redis"
	"github.com/typing-arena/internal/room"
	"github.com/typing-arena/internal/session"
	"github.com/typing-arena/internal/websocket"
	"github.com/typing-arena/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	roomStore := redis.NewRoomStore(redisClient, &cfg.Room, logger)
	presenceStore := redis.NewPresenceStore(redisClient, logger)
	queueStore := redis.NewQueueStore(redisClient, logger)
	boardStore := redis.NewLeaderboardStore(redisClient, logger)

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	postgresRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer postgresRepo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := postgresRepo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize services
	validator := anticheat.NewValidator(&cfg.AntiCheat, logger)
	leaderboardService := leaderboard.NewService(boardStore, postgresRepo, validator, &cfg.Leaderboard, logger)
	roomManager := room.NewManager(roomStore, postgresRepo, &cfg.Room, logger)
	matchService := matchmaking.NewService(queueStore, roomManager, &cfg.Matchmaking, logger)
	ratingStrategy := matchmaking.NewElo(cfg.Matchmaking.EloKFactor)
	sessionCoordinator := session.NewCoordinator(
		roomManager, leaderboardService, matchService, ratingStrategy, &cfg.Session, logger,
	)
	lobby := presence.NewRegistry(presenceStore, roomManager, &cfg.Presence, logger)

	// Initialize realtime gateway and WebSocket hub
	gateway := handler.NewGateway(roomManager, matchService, lobby, sessionCoordinator, logger)
	wsHub := websocket.NewHub(gateway, logger)
	gateway.SetHub(wsHub)
	leaderboardService.SetHub(wsHub)
	sessionCoordinator.SetHub(wsHub)
	matchService.SetNotifier(gateway)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize sync worker
	syncWorker := worker.NewSyncWorker(roomStore, boardStore, postgresRepo, lobby, &cfg.Sync, logger)

	// Rebuild ranking windows from the durable record (recovery)
	logger.Info("restoring leaderboards from database")
	if err := syncWorker.RestoreLeaderboards(ctx); err != nil {
		logger.Warn("failed to restore leaderboards on startup", "error", err)
	}

	// Start sync worker
	if cfg.Sync.Enabled {
		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("failed to start sync worker", "error", err)
			os.Exit(1)
		}
	}

	// Start the matchmaking loop
	go matchService.Run(ctx)

	// Initialize Kafka consumer for high-load score ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, leaderboardService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(roomManager, matchService, lobby, leaderboardService, wsHub, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting new realtime traffic, then drain session actors
	wsHub.Stop()
	sessionCoordinator.Shutdown()

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop sync worker
	if err := syncWorker.Stop(); err != nil {
		logger.Error("failed to stop sync worker", "error", err)
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
