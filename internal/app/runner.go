package app

import (
	"context"
	"runtime/debug"
	"time"

	clts "polyhawk/clients"
	"polyhawk/config"
	"polyhawk/internal/storage"

	"go.uber.org/zap"
)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// Runner wires the pipeline together and drives the polling loop.
type Runner struct {
	clients    *clts.Clients
	cfg        *config.Config
	fetcher    *WhaleFetcher
	store      *AlertStore
	dispatcher *Dispatcher
	server     *Server
	poller     *Poller
	startTime  time.Time
}

func NewRunner(clients *clts.Clients, cfg *config.Config, kv storage.Store, subs storage.SubscriptionSource) *Runner {
	r := &Runner{
		clients:   clients,
		cfg:       cfg,
		startTime: time.Now(),
	}

	logger := clients.Logger
	r.fetcher = NewWhaleFetcher(logger, clients.Polymarket, cfg.Whale)
	r.store = NewAlertStore(logger, kv, cfg.Whale.HistoryLimit)
	r.dispatcher = NewDispatcher(logger, clients.Notifiers, subs, cfg.Notify.MaxConcurrent)
	r.server = NewServer(logger, cfg, r.fetcher, r.store, clients.Notifiers, clients.Polymarket, subs, r.cycle)
	r.poller = NewPoller(logger, cfg.Whale.PollInterval, func(ctx context.Context) {
		if _, err := r.cycle(ctx); err != nil {
			logger.Warn("poll cycle failed", zap.Error(err))
		}
	})

	return r
}

// cycle runs one fetch+merge pass. Newly stored alerts fan out to websocket
// clients and subscribers.
func (r *Runner) cycle(ctx context.Context) (CycleResult, error) {
	alerts, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return CycleResult{}, err
	}
	r.server.SetLastBatch(alerts)

	// Merge reports exactly the alerts it added, so concurrent cycles
	// (poller and cron) never notify on the same trade twice.
	newAlerts, total := r.store.Merge(ctx, alerts)
	result := CycleResult{Fetched: len(alerts), Added: len(newAlerts), Total: total}
	if len(newAlerts) == 0 {
		return result, nil
	}

	r.server.Broadcast(newAlerts)
	r.dispatcher.Dispatch(ctx, newAlerts)

	return result, nil
}

// Run starts the service and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.clients.Logger
	logger.Info("starting polyhawk",
		zap.String("commit", BuildCommit),
		zap.String("built", BuildTime),
		zap.Duration("pollInterval", r.cfg.Whale.PollInterval),
		zap.Float64("minTradeValue", r.cfg.Whale.MinTradeValue),
	)

	if err := r.store.Load(ctx); err != nil {
		logger.Warn("failed to load alert history", zap.Error(err))
	}

	if r.cfg.Server.Enabled {
		r.server.Start()
	}
	r.poller.Start(ctx)

	<-ctx.Done()
	logger.Info("shutting down")

	r.poller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
	if err := r.store.Flush(shutdownCtx); err != nil {
		logger.Warn("failed to flush alert history", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
