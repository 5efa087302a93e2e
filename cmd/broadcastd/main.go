package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aaronwang/auction-house/internal/config"
	"github.com/aaronwang/auction-house/internal/redisfan"
	"github.com/aaronwang/auction-house/internal/websocket"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	log := logger.With("service", "broadcastd")

	cfg := loadConfig()

	log.Info("connecting to Redis", "addr", cfg.RedisAddr)
	subscriber, err := redisfan.NewSubscriber(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer subscriber.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := subscriber.Subscribe(ctx); err != nil {
		log.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}

	manager := websocket.NewManager(log)
	go manager.Run()

	messageChan := make(chan *redisfan.Message, 256)
	go func() {
		if err := subscriber.Listen(ctx, messageChan); err != nil && ctx.Err() == nil {
			log.Error("redis listener error", "error", err)
		}
	}()

	// Forward Redis Pub/Sub messages into the WebSocket rooms.
	go func() {
		for msg := range messageChan {
			manager.Broadcast(msg.Room, msg.Payload)
		}
	}()

	handler := websocket.NewHandler(manager, log)
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler.SetupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("broadcastd listening", "addr", cfg.ServerAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	log.Info("stopped")
}

// Config holds application configuration.
type Config struct {
	ServerAddr    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// loadConfig loads configuration from environment variables.
func loadConfig() *Config {
	return &Config{
		ServerAddr:    config.GetEnv("SERVER_ADDR", ":8081"),
		RedisAddr:     config.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: config.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       config.GetEnvInt("REDIS_DB", 0),
	}
}
