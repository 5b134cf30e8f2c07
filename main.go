package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	clts "polyhawk/clients"
	"polyhawk/config"
	"polyhawk/internal/app"
	"polyhawk/internal/storage"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const connectTimeout = 15 * time.Second

func main() {
	// Local development convenience; production uses real env vars
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("starting", zap.Bool("isProd", cfg.IsProd))

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, cfg)
	defer clients.Close()

	var kv storage.Store
	var subs storage.SubscriptionSource
	if cfg.Database.URL != "" {
		connectCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		pool, err := storage.Connect(connectCtx, cfg.Database.URL)
		cancel()
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()

		pg := storage.NewPostgresStore(logger, pool)
		schemaCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		err = pg.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			logger.Fatal("schema setup failed", zap.Error(err))
		}

		kv = pg
		subs = pg
		logger.Info("using postgres storage")
	} else {
		logger.Info("DATABASE_URL not set, using in-memory storage")
		kv = storage.NewMemoryStore()
		subs = storage.NewMemorySubscriptions()
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(clients, cfg, kv, subs)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}
