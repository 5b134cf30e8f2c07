package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"polyhawk/clients/notifier"
	"polyhawk/internal/storage"

	"go.uber.org/zap"
)

// Read-time window filters for the alert history.
const (
	Window10M = 10 * time.Minute
	Window1H  = time.Hour
	Window24H = 24 * time.Hour
	Window7D  = 7 * 24 * time.Hour
)

// ParseWindow maps the API window tokens to durations.
func ParseWindow(token string) (time.Duration, bool) {
	switch token {
	case "10M":
		return Window10M, true
	case "1H":
		return Window1H, true
	case "24H":
		return Window24H, true
	case "7D":
		return Window7D, true
	}
	return 0, false
}

const alertHistoryKey = "whale_alerts"

// AlertStore holds the deduplicated whale alert history, newest first,
// capped at a fixed capacity. The history is persisted as a single JSON
// document in the backing store.
type AlertStore struct {
	logger   *zap.Logger
	store    storage.Store
	capacity int

	mu      sync.Mutex
	history []notifier.WhaleAlert
}

func NewAlertStore(logger *zap.Logger, store storage.Store, capacity int) *AlertStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = 1000
	}
	return &AlertStore{
		logger:   logger,
		store:    store,
		capacity: capacity,
	}
}

// Load restores the persisted history. A missing key is an empty history;
// a corrupt document is discarded with a warning.
func (as *AlertStore) Load(ctx context.Context) error {
	data, ok, err := as.store.Get(ctx, alertHistoryKey)
	if err != nil {
		return fmt.Errorf("load alert history: %w", err)
	}
	if !ok {
		return nil
	}

	var alerts []notifier.WhaleAlert
	if err := json.Unmarshal(data, &alerts); err != nil {
		as.logger.Warn("discarding corrupt alert history", zap.Error(err))
		return nil
	}

	as.mu.Lock()
	as.history = alerts
	as.sortAndTrimLocked()
	as.mu.Unlock()

	as.logger.Info("loaded alert history", zap.Int("alerts", len(alerts)))
	return nil
}

// Merge folds incoming alerts into the history: alerts with known IDs are
// skipped, the rest are added, and the result is re-sorted newest first
// and trimmed to capacity. Returns the alerts actually added and the new
// total, so callers can notify on exactly the new ones.
// Persist failures are logged, not returned; the in-memory merge stands.
func (as *AlertStore) Merge(ctx context.Context, incoming []notifier.WhaleAlert) (added []notifier.WhaleAlert, total int) {
	as.mu.Lock()

	existing := make(map[string]bool, len(as.history))
	for _, a := range as.history {
		existing[a.ID] = true
	}

	for _, a := range incoming {
		if a.ID == "" || existing[a.ID] {
			continue
		}
		existing[a.ID] = true
		as.history = append(as.history, a)
		added = append(added, a)
	}

	as.sortAndTrimLocked()
	total = len(as.history)
	snapshot := as.snapshotLocked()
	as.mu.Unlock()

	if len(added) > 0 {
		if err := as.persist(ctx, snapshot); err != nil {
			as.logger.Warn("failed to persist alert history", zap.Error(err))
		}
	}

	return added, total
}

// List returns up to limit alerts, newest first. limit <= 0 returns all.
func (as *AlertStore) List(limit int) []notifier.WhaleAlert {
	as.mu.Lock()
	defer as.mu.Unlock()

	out := as.snapshotLocked()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Window returns the alerts whose age relative to now is within d.
func (as *AlertStore) Window(d time.Duration, now time.Time) []notifier.WhaleAlert {
	as.mu.Lock()
	defer as.mu.Unlock()

	cutoff := now.Add(-d).Unix()
	var out []notifier.WhaleAlert
	for _, a := range as.history {
		if a.Timestamp >= cutoff {
			out = append(out, a)
		}
	}
	return out
}

// Size returns the current history length.
func (as *AlertStore) Size() int {
	as.mu.Lock()
	defer as.mu.Unlock()

	return len(as.history)
}

// Flush persists the current history unconditionally.
func (as *AlertStore) Flush(ctx context.Context) error {
	as.mu.Lock()
	snapshot := as.snapshotLocked()
	as.mu.Unlock()

	return as.persist(ctx, snapshot)
}

func (as *AlertStore) sortAndTrimLocked() {
	sort.SliceStable(as.history, func(i, j int) bool {
		return as.history[i].Timestamp > as.history[j].Timestamp
	})
	if len(as.history) > as.capacity {
		as.history = as.history[:as.capacity]
	}
}

func (as *AlertStore) snapshotLocked() []notifier.WhaleAlert {
	out := make([]notifier.WhaleAlert, len(as.history))
	copy(out, as.history)
	return out
}

func (as *AlertStore) persist(ctx context.Context, alerts []notifier.WhaleAlert) error {
	data, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("marshal alert history: %w", err)
	}
	if err := as.store.Set(ctx, alertHistoryKey, data); err != nil {
		return fmt.Errorf("persist alert history: %w", err)
	}
	return nil
}
