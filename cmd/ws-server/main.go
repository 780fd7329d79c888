package main

import (
	"context"
	"log"
	"strconv"

	"support-chat-backend/internal/api"
	"support-chat-backend/internal/api/router"
	"support-chat-backend/internal/attachment"
	"support-chat-backend/internal/auth"
	"support-chat-backend/internal/broadcast"
	"support-chat-backend/internal/database"
	"support-chat-backend/internal/env"
	"support-chat-backend/internal/observability"
	"support-chat-backend/internal/presence"
	"support-chat-backend/internal/queue"
	"support-chat-backend/internal/service/chat"
	"support-chat-backend/internal/service/ticket"
	"support-chat-backend/internal/websocket"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	env.Validate()

	logger, err := observability.NewLogger(env.GetOrDefault(env.LogLevel, "info"))
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewDatabase()
	if err != nil {
		logger.Fatal("db init failed", zap.Error(err))
	}

	uploader, err := attachment.NewS3Uploader()
	if err != nil {
		logger.Fatal("s3 init failed", zap.Error(err))
	}

	queueSize := mustAtoi(env.GetOrDefault(env.QueueSize, "10"))
	workers := mustAtoi(env.GetOrDefault(env.QueueWorkers, "10"))
	queueManager := queue.NewRequestQueueManager(queueSize, workers)
	defer queueManager.Shutdown()

	chatRedis := redis.NewClient(&redis.Options{
		Addr:     env.Get(env.ChatRedisURL),
		Password: env.Get(env.ChatRedisPass),
		DB:       0,
	})

	tickets := ticket.New(db)
	registry := presence.NewRegistry(tickets, logger)
	broadcaster := broadcast.New(registry, chatRedis, "support-chat-events", logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go broadcaster.Run(ctx)

	ingestor := attachment.NewIngestor(uploader, queueManager, 0, logger)
	scratchDir := env.GetOrDefault(env.ScratchDir, "/tmp/support-chat")
	messageRouter := chat.NewRouter(tickets, broadcaster, ingestor, scratchDir, logger)

	gateway := websocket.NewGateway(auth.NewGuard(), registry, messageRouter, tickets, logger)

	server := api.NewAPIServer(
		":83",
		queueManager,
		db,
		gateway,
		logger,
		router.UtilsRoutes("/api/ws/v1"),
		router.AccountRoutes("/api/ws/v1"),
		router.WebsocketRoutes("/api/ws/v1"),
	)

	server.Run()
}

func mustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid numeric env value %q: %v", s, err)
	}
	return n
}
