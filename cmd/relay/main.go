package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/xaenox/line-relay/internal/assistant"
	"github.com/xaenox/line-relay/internal/line"
	"github.com/xaenox/line-relay/internal/metrics"
	"github.com/xaenox/line-relay/internal/relay"
	"github.com/xaenox/line-relay/internal/server"
	"github.com/xaenox/line-relay/internal/storage"
	"github.com/xaenox/line-relay/internal/webhook"
	"github.com/xaenox/line-relay/pkg/config"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to an optional YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// The logger level depends on config, so fall back to production here.
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	// Initialize logger
	logger, _ := zap.NewProduction()
	if cfg.Log.Development {
		logger, _ = zap.NewDevelopment()
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err), zap.String("driver", cfg.Database.Driver))
	}
	defer store.Close()

	client := line.NewHTTPClient(line.Options{
		ChannelAccessToken: cfg.Line.ChannelAccessToken,
		Endpoint:           cfg.Line.APIEndpoint,
		Timeout:            cfg.Line.PushTimeout,
		RateLimit:          cfg.Line.RateLimit,
	})

	svc := relay.NewService(
		webhook.NewVerifier(cfg.Line.ChannelSecret),
		store,
		client,
		relay.NewDispatcher(client, cfg.Line.PushTimeout, logger),
		relay.Config{
			AckText:      cfg.Line.AckText,
			ReplyTimeout: cfg.Line.ReplyTimeout,
		},
		logger,
	)

	drafts := cfg.OpenAI.APIKey != ""
	if drafts {
		logger.Info("Reply drafting enabled", zap.String("model", cfg.OpenAI.Model))
		svc.WithDrafter(assistant.NewDrafter(assistant.Options{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		}, logger))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	srv := server.New(svc, server.Options{
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Gatherer:     reg,
	}, drafts, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.Database.Driver {
	case "memory":
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	case "postgres":
		logger.Info("Using PostgreSQL storage")
		s, err := storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		logger.Info("Using Redis storage")
		s, err := storage.NewRedisStorage(ctx, storage.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		logger.Info("Using SQLite storage", zap.String("path", cfg.Database.SQLitePath))
		s, err := storage.NewSQLiteStorage(cfg.Database.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
