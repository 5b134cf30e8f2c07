package app

import (
	"context"
	"sync"
	"time"

	"polyhawk/clients/notifier"
	"polyhawk/internal/storage"

	"go.uber.org/zap"
)

// DispatchStats tracks delivery counters for the last dispatch run.
type DispatchStats struct {
	Alerts     int       `json:"alerts"`
	Deliveries int       `json:"deliveries"`
	Failures   int       `json:"failures"`
	Skipped    int       `json:"skipped"`
	LastRun    time.Time `json:"last_run"`
}

// Dispatcher fans freshly stored alerts out to subscribers. Each alert is
// matched against every subscription's threshold, and matching deliveries
// run with bounded concurrency. One subscriber failing never blocks the
// rest.
type Dispatcher struct {
	logger        *zap.Logger
	registry      *notifier.Registry
	subs          storage.SubscriptionSource
	maxConcurrent int

	mu    sync.Mutex
	stats DispatchStats
}

func NewDispatcher(
	logger *zap.Logger,
	registry *notifier.Registry,
	subs storage.SubscriptionSource,
	maxConcurrent int,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		logger:        logger,
		registry:      registry,
		subs:          subs,
		maxConcurrent: maxConcurrent,
	}
}

type delivery struct {
	channel     string
	destination string
	alert       notifier.WhaleAlert
}

// Dispatch delivers the given alerts to all matching subscribers plus the
// default broadcast channels. Delivery failures are logged and counted,
// never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, alerts []notifier.WhaleAlert) DispatchStats {
	stats := DispatchStats{Alerts: len(alerts), LastRun: time.Now()}
	if len(alerts) == 0 || d.registry == nil || d.registry.Count() == 0 {
		d.storeStats(stats)
		return stats
	}

	var subs []storage.Subscription
	if d.subs != nil {
		var err error
		subs, err = d.subs.ListSubscriptions(ctx)
		if err != nil {
			d.logger.Warn("failed to list subscriptions", zap.Error(err))
		}
	}

	var deliveries []delivery
	for _, alert := range alerts {
		// Default-destination broadcast for channels that carry one.
		for _, channel := range []string{notifier.ChannelTelegram, notifier.ChannelDiscord} {
			if _, ok := d.registry.Get(channel); ok {
				deliveries = append(deliveries, delivery{channel: channel, alert: alert})
			}
		}

		for _, sub := range subs {
			if alert.Amount < sub.MinUSD {
				stats.Skipped++
				continue
			}
			deliveries = append(deliveries, d.subscriberDeliveries(sub, alert)...)
		}
	}

	var mu sync.Mutex
	sem := make(chan struct{}, d.maxConcurrent)
	var wg sync.WaitGroup

	for _, del := range deliveries {
		select {
		case <-ctx.Done():
			wg.Wait()
			d.storeStats(stats)
			return stats
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(del delivery) {
			defer wg.Done()
			defer func() { <-sem }()

			sender, ok := d.registry.Get(del.channel)
			if !ok {
				return
			}

			err := sender.Send(ctx, del.destination, del.alert, false)

			mu.Lock()
			if err != nil {
				stats.Failures++
			} else {
				stats.Deliveries++
			}
			mu.Unlock()

			if err != nil {
				d.logger.Warn("alert delivery failed",
					zap.String("channel", del.channel),
					zap.String("alertID", del.alert.ID),
					zap.Error(err),
				)
			}
		}(del)
	}

	wg.Wait()
	d.storeStats(stats)

	d.logger.Info("alert dispatch complete",
		zap.Int("alerts", stats.Alerts),
		zap.Int("deliveries", stats.Deliveries),
		zap.Int("failures", stats.Failures),
	)

	return stats
}

// subscriberDeliveries expands one matching subscription into per-channel
// deliveries.
func (d *Dispatcher) subscriberDeliveries(sub storage.Subscription, alert notifier.WhaleAlert) []delivery {
	var out []delivery
	if sub.Email != "" {
		if _, ok := d.registry.Get(notifier.ChannelEmail); ok {
			out = append(out, delivery{
				channel:     notifier.ChannelEmail,
				destination: sub.Email,
				alert:       alert,
			})
		}
	}
	if sub.TelegramChatID != "" {
		if _, ok := d.registry.Get(notifier.ChannelTelegram); ok {
			out = append(out, delivery{
				channel:     notifier.ChannelTelegram,
				destination: sub.TelegramChatID,
				alert:       alert,
			})
		}
	}
	return out
}

// Stats returns the counters from the last dispatch run.
func (d *Dispatcher) Stats() DispatchStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.stats
}

func (d *Dispatcher) storeStats(stats DispatchStats) {
	d.mu.Lock()
	d.stats = stats
	d.mu.Unlock()
}
