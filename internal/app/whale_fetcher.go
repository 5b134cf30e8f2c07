package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"polyhawk/clients/notifier"
	"polyhawk/clients/polymarketapi"
	"polyhawk/config"

	"go.uber.org/zap"
)

// FetchStats tracks pipeline counters for the last fetch cycle.
type FetchStats struct {
	TradesSeen      int       `json:"trades_seen"`
	Pages           int       `json:"pages"`
	BelowThreshold  int       `json:"below_threshold"`
	Malformed       int       `json:"malformed"`
	Duplicates      int       `json:"duplicates"`
	Unresolved      int       `json:"unresolved"`
	FallbackLookups int       `json:"fallback_lookups"`
	Alerts          int       `json:"alerts"`
	IndexSize       int       `json:"index_size"`
	LastCycle       time.Time `json:"last_cycle"`
	LastError       string    `json:"last_error,omitempty"`
}

// WhaleFetcher turns the raw trade feed into enriched whale alerts.
type WhaleFetcher struct {
	logger    *zap.Logger
	apiClient *polymarketapi.PolymarketApiClient
	cfg       config.WhaleConfig

	mu           sync.Mutex
	index        *EventIndex
	indexBuiltAt time.Time
	stats        FetchStats
}

func NewWhaleFetcher(
	logger *zap.Logger,
	apiClient *polymarketapi.PolymarketApiClient,
	cfg config.WhaleConfig,
) *WhaleFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WhaleFetcher{
		logger:    logger,
		apiClient: apiClient,
		cfg:       cfg,
	}
}

// Fetch runs one pipeline cycle: refresh the event index, page backward
// through recent trades, filter by notional, enrich and return alerts
// ordered newest first. Failures are best-effort: whatever was resolved
// is returned.
func (wf *WhaleFetcher) Fetch(ctx context.Context) ([]notifier.WhaleAlert, error) {
	stats := FetchStats{LastCycle: time.Now()}

	ix := wf.eventIndex(ctx)
	stats.IndexSize = ix.Size()

	trades := wf.fetchTradeBatches(ctx, &stats)
	stats.TradesSeen = len(trades)

	type pendingTrade struct {
		trade polymarketapi.Trade
		key   string
	}

	var alerts []notifier.WhaleAlert
	var pending []pendingTrade
	seen := make(map[string]bool)

	for _, t := range trades {
		if int64(t.Timestamp) <= 0 {
			stats.Malformed++
			continue
		}

		value := tradeValue(t)
		if value < wf.cfg.MinTradeValue {
			stats.BelowThreshold++
			continue
		}

		id := alertID(t)
		if seen[id] {
			stats.Duplicates++
			continue
		}
		seen[id] = true

		key := tradeIdentifier(t)
		if meta, ok := ix.Lookup(key); ok {
			if alert, ok := buildAlert(t, meta); ok {
				alerts = append(alerts, alert)
			} else {
				stats.Unresolved++
			}
			continue
		}

		// Embedded metadata on the trade itself
		if meta := embeddedMetadata(t); meta != nil {
			if alert, ok := buildAlert(t, meta); ok {
				alerts = append(alerts, alert)
			} else {
				stats.Unresolved++
			}
			continue
		}

		if key == "" {
			stats.Unresolved++
			continue
		}
		pending = append(pending, pendingTrade{trade: t, key: key})
	}

	// Fallback market lookups for condition IDs the index does not know.
	if len(pending) > 0 {
		keys := make([]string, 0, len(pending))
		uniq := make(map[string]bool)
		for _, p := range pending {
			if !uniq[p.key] {
				uniq[p.key] = true
				keys = append(keys, p.key)
			}
		}

		resolved := wf.resolveMarkets(ctx, ix, keys)
		stats.FallbackLookups = len(keys)

		for _, p := range pending {
			meta, ok := resolved[p.key]
			if !ok {
				stats.Unresolved++
				continue
			}
			if alert, ok := buildAlert(p.trade, meta); ok {
				alerts = append(alerts, alert)
			} else {
				stats.Unresolved++
			}
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Timestamp > alerts[j].Timestamp
	})
	if wf.cfg.MaxAlertsPerCycle > 0 && len(alerts) > wf.cfg.MaxAlertsPerCycle {
		alerts = alerts[:wf.cfg.MaxAlertsPerCycle]
	}
	stats.Alerts = len(alerts)

	wf.mu.Lock()
	wf.stats = stats
	wf.mu.Unlock()

	wf.logger.Info("whale fetch cycle complete",
		zap.Int("trades", stats.TradesSeen),
		zap.Int("alerts", stats.Alerts),
		zap.Int("belowThreshold", stats.BelowThreshold),
		zap.Int("unresolved", stats.Unresolved),
		zap.Int("fallbackLookups", stats.FallbackLookups),
	)

	return alerts, nil
}

// Stats returns the counters from the last fetch cycle.
func (wf *WhaleFetcher) Stats() FetchStats {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	return wf.stats
}

// eventIndex returns the cached index, rebuilding it when stale. A failed
// event fetch keeps serving the previous index.
func (wf *WhaleFetcher) eventIndex(ctx context.Context) *EventIndex {
	wf.mu.Lock()
	cached := wf.index
	fresh := cached != nil && time.Since(wf.indexBuiltAt) < wf.cfg.EventCacheTTL
	wf.mu.Unlock()

	if fresh {
		return cached
	}

	events, err := wf.apiClient.GetActiveEvents(ctx, wf.cfg.EventFetchLimit)
	if err != nil {
		wf.logger.Warn("failed to fetch events for index", zap.Error(err))
		if cached != nil {
			return cached
		}
		return NewEventIndex()
	}

	ix := BuildEventIndex(events)
	wf.logger.Debug("rebuilt event index",
		zap.Int("events", len(events)),
		zap.Int("keys", ix.Size()),
	)

	wf.mu.Lock()
	wf.index = ix
	wf.indexBuiltAt = time.Now()
	wf.mu.Unlock()

	return ix
}

// fetchTradeBatches pages backward through the trade feed using the oldest
// timestamp seen as the cursor. On error the rows accumulated so far are
// returned.
func (wf *WhaleFetcher) fetchTradeBatches(ctx context.Context, stats *FetchStats) []polymarketapi.Trade {
	var all []polymarketapi.Trade
	var before int64

	for page := 0; page < wf.cfg.BatchCount; page++ {
		trades, err := wf.apiClient.GetTrades(ctx, wf.cfg.PageSize, before, true)
		if err != nil {
			wf.logger.Warn("trade page fetch failed",
				zap.Int("page", page),
				zap.Error(err),
			)
			stats.LastError = err.Error()
			break
		}
		if len(trades) == 0 {
			break
		}

		stats.Pages++
		all = append(all, trades...)

		// Cursor for the next page. Rows with a zero timestamp are
		// malformed and must not seed it.
		var oldest int64
		for _, t := range trades {
			if ts := int64(t.Timestamp); ts > 0 && (oldest == 0 || ts < oldest) {
				oldest = ts
			}
		}
		if oldest == 0 {
			break
		}
		before = oldest

		if len(trades) < wf.cfg.PageSize {
			break
		}
	}

	return all
}

// resolveMarkets looks up unknown condition IDs against the gamma API with
// bounded concurrency and memoizes hits into the index.
func (wf *WhaleFetcher) resolveMarkets(
	ctx context.Context,
	ix *EventIndex,
	keys []string,
) map[string]*EventMetadata {
	workers := wf.cfg.LookupWorkers
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	resolved := make(map[string]*EventMetadata)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, key := range keys {
		select {
		case <-ctx.Done():
			wg.Wait()
			return resolved
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			defer func() { <-sem }()

			lookupCtx := ctx
			if wf.cfg.LookupTimeout > 0 {
				var cancel context.CancelFunc
				lookupCtx, cancel = context.WithTimeout(ctx, wf.cfg.LookupTimeout)
				defer cancel()
			}

			market, err := wf.apiClient.GetMarketByConditionID(lookupCtx, key)
			if err != nil {
				wf.logger.Debug("fallback market lookup failed",
					zap.String("conditionID", shortID(key)),
					zap.Error(err),
				)
				return
			}

			meta := marketMetadata(market)
			if meta == nil {
				return
			}
			ix.Put(key, meta)

			mu.Lock()
			resolved[key] = meta
			mu.Unlock()
		}(key)
	}

	wg.Wait()
	return resolved
}

// marketMetadata builds metadata from a fallback market lookup. A market
// without a parent event has no event slug to link to, so it yields nothing
// and the trade is dropped.
func marketMetadata(m *polymarketapi.GammaMarket) *EventMetadata {
	if m == nil || len(m.Events) == 0 {
		return nil
	}
	return metadataFor(&m.Events[0], m)
}

// embeddedMetadata synthesizes metadata from fields carried on the trade
// itself, when present.
func embeddedMetadata(t polymarketapi.Trade) *EventMetadata {
	if t.Title == "" {
		return nil
	}
	slug := t.EventSlug
	if slug == "" {
		slug = t.Slug
	}
	if slug == "" {
		return nil
	}
	return &EventMetadata{
		Title:    t.Title,
		Slug:     slug,
		Category: "Other",
		Icon:     t.Icon,
	}
}

// tradeValue is the USD notional of a trade. A positive size wins over any
// embedded amount.
func tradeValue(t polymarketapi.Trade) float64 {
	if t.Size > 0 {
		return float64(t.Size) * float64(t.Price)
	}
	return float64(t.Amount)
}

// tradeIdentifier is the key used against the event index.
func tradeIdentifier(t polymarketapi.Trade) string {
	if t.ConditionID != "" {
		return t.ConditionID
	}
	return t.Asset
}

// alertID is stable across refetches of the same trade.
func alertID(t polymarketapi.Trade) string {
	ref := t.TransactionHash
	if ref == "" {
		ref = t.ID
	}
	return fmt.Sprintf("%s-%d", ref, int64(t.Timestamp))
}

func traderAddress(t polymarketapi.Trade) string {
	for _, addr := range []string{t.ProxyWallet, t.Taker, t.Maker} {
		if addr != "" {
			return addr
		}
	}
	return "Unknown"
}

func normalizeSide(outcome string) string {
	if strings.EqualFold(strings.TrimSpace(outcome), "yes") {
		return "YES"
	}
	return "NO"
}

// buildAlert assembles the final alert. Metadata without a slug cannot be
// linked and drops the trade.
func buildAlert(t polymarketapi.Trade, meta *EventMetadata) (notifier.WhaleAlert, bool) {
	if meta == nil || meta.Slug == "" {
		return notifier.WhaleAlert{}, false
	}

	marketID := t.ConditionID
	if marketID == "" {
		marketID = t.Asset
	}
	if marketID == "" {
		marketID = "unknown"
	}

	return notifier.WhaleAlert{
		ID:            alertID(t),
		MarketID:      marketID,
		MarketTitle:   meta.Title,
		MarketSlug:    meta.Slug,
		WalletAddress: traderAddress(t),
		Amount:        tradeValue(t),
		Side:          normalizeSide(t.Outcome),
		Price:         float64(t.Price),
		Timestamp:     int64(t.Timestamp),
		MarketURL:     polymarketURL(meta.Slug),
		Icon:          meta.Icon,
		Category:      meta.Category,
	}, true
}
