package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"polyhawk/clients/notifier"
	"polyhawk/clients/polymarketapi"
	"polyhawk/config"
	"polyhawk/internal/storage"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// CycleResult summarizes one fetch+merge cycle for the cron endpoint.
type CycleResult struct {
	Fetched int `json:"fetched"`
	Added   int `json:"added"`
	Total   int `json:"total"`
}

type cachedPositions struct {
	at        time.Time
	positions []polymarketapi.Position
}

// Server exposes the alert pipeline over HTTP: health and stats, the alert
// history API, manual notification sends, a cron trigger, and a websocket
// feed of newly stored alerts.
type Server struct {
	logger    *zap.Logger
	cfg       *config.Config
	fetcher   *WhaleFetcher
	store     *AlertStore
	registry  *notifier.Registry
	api       *polymarketapi.PolymarketApiClient
	subs      storage.SubscriptionSource
	runCycle  func(context.Context) (CycleResult, error)
	startedAt time.Time

	mu        sync.Mutex
	lastBatch []notifier.WhaleAlert

	wsMu    sync.Mutex
	wsConns map[*websocket.Conn]bool

	posMu     sync.Mutex
	positions map[string]cachedPositions

	httpServer *http.Server
}

func NewServer(
	logger *zap.Logger,
	cfg *config.Config,
	fetcher *WhaleFetcher,
	store *AlertStore,
	registry *notifier.Registry,
	api *polymarketapi.PolymarketApiClient,
	subs storage.SubscriptionSource,
	runCycle func(context.Context) (CycleResult, error),
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:    logger,
		cfg:       cfg,
		fetcher:   fetcher,
		store:     store,
		registry:  registry,
		api:       api,
		subs:      subs,
		runCycle:  runCycle,
		startedAt: time.Now(),
		wsConns:   make(map[*websocket.Conn]bool),
		positions: make(map[string]cachedPositions),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"uptime": time.Since(s.startedAt).Round(time.Second).String(),
		})
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"fetch":     s.fetcher.Stats(),
			"storeSize": s.store.Size(),
			"channels":  s.registry.Channels(),
			"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		})
	})

	mux.HandleFunc("/api/whale-alerts", s.handleWhaleAlerts)
	mux.HandleFunc("/api/whale-alerts-store", s.handleWhaleAlertsStore)
	mux.HandleFunc("/api/whale-alerts-read", s.handleWhaleAlertsRead)
	mux.HandleFunc("/api/send-notification", s.handleSendNotification)
	mux.HandleFunc("/api/cron/fetch-whale-alerts", s.handleCronFetch)
	mux.HandleFunc("/api/subscriptions", s.handleSubscriptions)
	mux.HandleFunc("/api/markets", s.handleMarkets)
	mux.HandleFunc("/api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("/api/portfolio", s.handlePortfolio)
	mux.HandleFunc("/ws", s.handleWebsocket)

	return mux
}

// Start runs the HTTP server in the background.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler: s.Handler(),
	}

	go func() {
		s.logger.Info("http server listening", zap.Int("port", s.cfg.Server.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
}

// Shutdown stops the HTTP server and closes websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsMu.Lock()
	for conn := range s.wsConns {
		conn.Close()
	}
	s.wsConns = make(map[*websocket.Conn]bool)
	s.wsMu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// SetLastBatch records the most recent enriched batch for /api/whale-alerts.
func (s *Server) SetLastBatch(alerts []notifier.WhaleAlert) {
	s.mu.Lock()
	s.lastBatch = alerts
	s.mu.Unlock()
}

// Broadcast pushes newly stored alerts to all websocket clients. Clients
// that fail to accept the write are dropped.
func (s *Server) Broadcast(alerts []notifier.WhaleAlert) {
	if len(alerts) == 0 {
		return
	}

	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	for conn := range s.wsConns {
		if err := conn.WriteJSON(alerts); err != nil {
			conn.Close()
			delete(s.wsConns, conn)
		}
	}
}

func (s *Server) handleWhaleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	batch := s.lastBatch
	s.mu.Unlock()

	if len(batch) == 0 {
		batch = s.store.List(s.cfg.Whale.MaxAlertsPerCycle)
	}
	if batch == nil {
		batch = []notifier.WhaleAlert{}
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleWhaleAlertsStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var incoming []notifier.WhaleAlert
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	added, total := s.store.Merge(r.Context(), incoming)
	writeJSON(w, http.StatusOK, map[string]int{"added": len(added), "total": total})
}

func (s *Server) handleWhaleAlertsRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var alerts []notifier.WhaleAlert
	if raw := r.URL.Query().Get("window"); raw != "" {
		window, ok := ParseWindow(raw)
		if !ok {
			http.Error(w, "invalid window", http.StatusBadRequest)
			return
		}
		alerts = s.store.Window(window, time.Now())
	} else {
		alerts = s.store.List(0)
	}

	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	if alerts == nil {
		alerts = []notifier.WhaleAlert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Channel     string              `json:"channel"`
		Destination string              `json:"destination"`
		Alert       notifier.WhaleAlert `json:"alert"`
		Test        bool                `json:"test"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sender, ok := s.registry.Get(req.Channel)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown channel: %s", req.Channel), http.StatusBadRequest)
		return
	}

	if err := sender.Send(r.Context(), req.Destination, req.Alert, req.Test); err != nil {
		s.logger.Warn("manual notification failed",
			zap.String("channel", req.Channel),
			zap.Error(err),
		)
		http.Error(w, "notification failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sent": true, "channel": sender.Channel()})
}

func (s *Server) handleCronFetch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if secret := s.cfg.Server.CronSecret; secret != "" {
		if r.Header.Get("Authorization") != "Bearer "+secret {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	result, err := s.runCycle(r.Context())
	if err != nil {
		http.Error(w, "fetch cycle failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		subs, err := s.subs.ListSubscriptions(r.Context())
		if err != nil {
			s.logger.Warn("subscription list failed", zap.Error(err))
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}
		if subs == nil {
			subs = []storage.Subscription{}
		}
		writeJSON(w, http.StatusOK, subs)

	case http.MethodPost:
		writer, ok := s.subs.(storage.SubscriptionWriter)
		if !ok {
			http.Error(w, "subscriptions are read-only", http.StatusNotImplemented)
			return
		}

		var sub storage.Subscription
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}

		created, err := writer.AddSubscription(r.Context(), sub)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.api.GetActiveEvents(r.Context(), limit)
	if err != nil {
		s.logger.Warn("markets fetch failed", zap.Error(err))
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}

	type outcomeView struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}
	type marketView struct {
		Title    string        `json:"title"`
		Slug     string        `json:"slug"`
		Category string        `json:"category"`
		Volume24 float64       `json:"volume24hr"`
		Outcomes []outcomeView `json:"outcomes"`
	}

	views := make([]marketView, 0, len(events))
	for i := range events {
		ev := &events[i]
		view := marketView{
			Title:    ev.Title,
			Slug:     ev.Slug,
			Category: ev.FirstTagLabel(),
			Volume24: float64(ev.Volume24),
		}
		if len(ev.Markets) > 0 {
			m := &ev.Markets[0]
			names := m.GetOutcomes()
			prices := m.GetOutcomePrices()
			for j, name := range names {
				o := outcomeView{Name: name}
				if j < len(prices) {
					o.Price = prices[j]
				}
				view.Outcomes = append(view.Outcomes, o)
			}
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	window := strings.ToLower(r.URL.Query().Get("window"))
	switch window {
	case "", "day", "week", "month", "all":
	default:
		http.Error(w, "invalid window", http.StatusBadRequest)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.api.GetLeaderboard(r.Context(), window, limit)
	if err != nil {
		s.logger.Warn("leaderboard fetch failed", zap.Error(err))
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	wallet := strings.TrimSpace(r.URL.Query().Get("user"))
	if wallet == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}

	s.posMu.Lock()
	cached, ok := s.positions[wallet]
	s.posMu.Unlock()
	if ok && time.Since(cached.at) < s.cfg.Whale.PositionCacheTTL {
		writeJSON(w, http.StatusOK, cached.positions)
		return
	}

	positions, err := s.api.GetPositions(r.Context(), wallet, 100)
	if err != nil {
		s.logger.Warn("positions fetch failed",
			zap.String("wallet", wallet),
			zap.Error(err),
		)
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	if positions == nil {
		positions = []polymarketapi.Position{}
	}

	s.posMu.Lock()
	s.positions[wallet] = cachedPositions{at: time.Now(), positions: positions}
	s.posMu.Unlock()

	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	recent := s.store.List(20)

	s.wsMu.Lock()
	s.wsConns[conn] = true
	if len(recent) > 0 {
		if err := conn.WriteJSON(recent); err != nil {
			conn.Close()
			delete(s.wsConns, conn)
			s.wsMu.Unlock()
			return
		}
	}
	s.wsMu.Unlock()

	// Reader loop only detects disconnects; clients never send payloads.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.wsMu.Lock()
				delete(s.wsConns, conn)
				s.wsMu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
