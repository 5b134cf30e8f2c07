package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"polyhawk/clients/notifier"
	"polyhawk/clients/polymarketapi"
	"polyhawk/config"
	"polyhawk/internal/storage"

	"github.com/gorilla/websocket"
)

func newTestServer(upstreamURL string, tweak func(*config.Config)) (*Server, *recordingSender, *AlertStore) {
	cfg := config.Defaults()
	if upstreamURL != "" {
		cfg.Polymarket.GammaAPIURL = upstreamURL
		cfg.Polymarket.DataAPIURL = upstreamURL
	}
	if tweak != nil {
		tweak(cfg)
	}

	api := polymarketapi.NewPolymarketApiClient(nil, cfg)
	fetcher := NewWhaleFetcher(nil, api, cfg.Whale)
	store := NewAlertStore(nil, storage.NewMemoryStore(), cfg.Whale.HistoryLimit)
	sender := &recordingSender{channel: notifier.ChannelTelegram}
	registry := notifier.NewRegistry(sender)

	runCycle := func(ctx context.Context) (CycleResult, error) {
		return CycleResult{Fetched: 2, Added: 1, Total: 10}, nil
	}

	subs := storage.NewMemorySubscriptions()
	return NewServer(nil, cfg, fetcher, store, registry, api, subs, runCycle), sender, store
}

func TestServer_Health(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("unexpected health body: %+v", body)
	}
}

func TestServer_WhaleAlerts_FallsBackToStore(t *testing.T) {
	s, _, store := newTestServer("", nil)
	store.Merge(context.Background(), []notifier.WhaleAlert{
		makeAlert("stored", time.Now().Unix()),
	})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/whale-alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var alerts []notifier.WhaleAlert
	json.NewDecoder(resp.Body).Decode(&alerts)
	if len(alerts) != 1 || alerts[0].ID != "stored" {
		t.Errorf("expected store fallback, got %+v", alerts)
	}
}

func TestServer_WhaleAlerts_LastBatch(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	s.SetLastBatch([]notifier.WhaleAlert{makeAlert("fresh", time.Now().Unix())})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/whale-alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var alerts []notifier.WhaleAlert
	json.NewDecoder(resp.Body).Decode(&alerts)
	if len(alerts) != 1 || alerts[0].ID != "fresh" {
		t.Errorf("expected last batch, got %+v", alerts)
	}
}

func TestServer_WhaleAlertsStore(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	payload, _ := json.Marshal([]notifier.WhaleAlert{
		makeAlert("a1", 100),
		makeAlert("a2", 200),
	})
	resp, err := http.Post(ts.URL+"/api/whale-alerts-store", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var result map[string]int
	json.NewDecoder(resp.Body).Decode(&result)
	if result["added"] != 2 || result["total"] != 2 {
		t.Errorf("unexpected merge result: %+v", result)
	}
}

func TestServer_WhaleAlertsStore_BadBody(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/whale-alerts-store", "application/json", strings.NewReader("not json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_WhaleAlertsStore_MethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/whale-alerts-store")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestServer_WhaleAlertsRead(t *testing.T) {
	s, _, store := newTestServer("", nil)
	now := time.Now().Unix()
	store.Merge(context.Background(), []notifier.WhaleAlert{
		makeAlert("recent", now-60),
		makeAlert("old", now-7200),
	})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/whale-alerts-read?window=1H")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var alerts []notifier.WhaleAlert
	json.NewDecoder(resp.Body).Decode(&alerts)
	if len(alerts) != 1 || alerts[0].ID != "recent" {
		t.Errorf("expected only the recent alert, got %+v", alerts)
	}
}

func TestServer_WhaleAlertsRead_Limit(t *testing.T) {
	s, _, store := newTestServer("", nil)
	now := time.Now().Unix()
	store.Merge(context.Background(), []notifier.WhaleAlert{
		makeAlert("a1", now-10),
		makeAlert("a2", now-20),
		makeAlert("a3", now-30),
	})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/whale-alerts-read?limit=2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var alerts []notifier.WhaleAlert
	json.NewDecoder(resp.Body).Decode(&alerts)
	if len(alerts) != 2 || alerts[0].ID != "a1" {
		t.Errorf("expected the 2 newest alerts, got %+v", alerts)
	}
}

func TestServer_WhaleAlertsRead_InvalidWindow(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/whale-alerts-read?window=3Y")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_SendNotification(t *testing.T) {
	s, sender, _ := newTestServer("", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	payload := `{"channel":"telegram","destination":"123","alert":{"id":"a1","amount":9000},"test":true}`
	resp, err := http.Post(ts.URL+"/api/send-notification", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	sends := sender.recorded()
	if len(sends) != 1 || sends[0].destination != "123" || sends[0].alertID != "a1" {
		t.Errorf("unexpected sends: %+v", sends)
	}
}

func TestServer_SendNotification_UnknownChannel(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	payload := `{"channel":"pager","destination":"123","alert":{"id":"a1"}}`
	resp, err := http.Post(ts.URL+"/api/send-notification", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_SendNotification_SenderFailure(t *testing.T) {
	s, sender, _ := newTestServer("", nil)
	sender.fail = true
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	payload := `{"channel":"telegram","destination":"123","alert":{"id":"a1"}}`
	resp, err := http.Post(ts.URL+"/api/send-notification", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", resp.StatusCode)
	}
}

func TestServer_CronFetch(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/cron/fetch-whale-alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var result CycleResult
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Fetched != 2 || result.Added != 1 || result.Total != 10 {
		t.Errorf("unexpected cycle result: %+v", result)
	}
}

func TestServer_CronFetch_Auth(t *testing.T) {
	s, _, _ := newTestServer("", func(c *config.Config) {
		c.Server.CronSecret = "s3cret"
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/cron/fetch-whale-alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/cron/fetch-whale-alerts", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestServer_CronFetch_CycleError(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	s.runCycle = func(ctx context.Context) (CycleResult, error) {
		return CycleResult{}, errors.New("upstream down")
	}
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/cron/fetch-whale-alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", resp.StatusCode)
	}
}

func TestServer_Markets(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[{
			"id": "e1",
			"slug": "btc-100k",
			"title": "BTC above 100k?",
			"tags": [{"label":"Crypto"}],
			"volume24hr": 123456.7,
			"markets": [{
				"id": "m1",
				"outcomes": "[\"Yes\",\"No\"]",
				"outcomePrices": "[\"0.62\",\"0.38\"]"
			}]
		}]`))
	}))
	defer upstream.Close()

	s, _, _ := newTestServer(upstream.URL, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/markets?limit=10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var views []struct {
		Title    string `json:"title"`
		Slug     string `json:"slug"`
		Category string `json:"category"`
		Outcomes []struct {
			Name  string  `json:"name"`
			Price float64 `json:"price"`
		} `json:"outcomes"`
	}
	json.NewDecoder(resp.Body).Decode(&views)

	if len(views) != 1 || views[0].Slug != "btc-100k" || views[0].Category != "Crypto" {
		t.Fatalf("unexpected views: %+v", views)
	}
	if len(views[0].Outcomes) != 2 || views[0].Outcomes[0].Name != "Yes" || views[0].Outcomes[0].Price != 0.62 {
		t.Errorf("unexpected outcomes: %+v", views[0].Outcomes)
	}
}

func TestServer_Leaderboard_InvalidWindow(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/leaderboard?window=decade")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_Portfolio_CachesByWallet(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/positions" {
			http.NotFound(w, r)
			return
		}
		calls++
		w.Write([]byte(`[{"asset":"tok1","size":100,"avgPrice":0.4}]`))
	}))
	defer upstream.Close()

	s, _, _ := newTestServer(upstream.URL, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	for i := 0; i < 2; i++ {
		resp, err := http.Get(ts.URL + "/api/portfolio?user=0xabc")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	}

	if calls != 1 {
		t.Errorf("expected a single upstream call, got %d", calls)
	}
}

func TestServer_Portfolio_MissingUser(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/portfolio")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_WebsocketBroadcast(t *testing.T) {
	s, _, store := newTestServer("", nil)
	store.Merge(context.Background(), []notifier.WhaleAlert{
		makeAlert("seed", time.Now().Unix()),
	})

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Recent history arrives on connect
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var initial []notifier.WhaleAlert
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("initial read failed: %v", err)
	}
	if len(initial) != 1 || initial[0].ID != "seed" {
		t.Fatalf("unexpected initial payload: %+v", initial)
	}

	s.Broadcast([]notifier.WhaleAlert{makeAlert("live", time.Now().Unix())})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pushed []notifier.WhaleAlert
	if err := conn.ReadJSON(&pushed); err != nil {
		t.Fatalf("broadcast read failed: %v", err)
	}
	if len(pushed) != 1 || pushed[0].ID != "live" {
		t.Errorf("unexpected pushed payload: %+v", pushed)
	}
}

func TestServer_Subscriptions(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	payload := `{"email":"whale@example.com","min_usd":25000}`
	resp, err := http.Post(ts.URL+"/api/subscriptions", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created storage.Subscription
	json.NewDecoder(resp.Body).Decode(&created)
	if created.ID == "" || created.Email != "whale@example.com" || created.MinUSD != 25000 {
		t.Errorf("unexpected subscription: %+v", created)
	}

	listResp, err := http.Get(ts.URL + "/api/subscriptions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer listResp.Body.Close()

	var subs []storage.Subscription
	json.NewDecoder(listResp.Body).Decode(&subs)
	if len(subs) != 1 || subs[0].ID != created.ID {
		t.Errorf("unexpected list: %+v", subs)
	}
}

func TestServer_Subscriptions_NoDestination(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/subscriptions", "application/json", strings.NewReader(`{"min_usd":100}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestServer_Subscriptions_ReadOnlySource(t *testing.T) {
	s, _, _ := newTestServer("", nil)
	s.subs = storage.StaticSubscriptions{}
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/subscriptions", "application/json", strings.NewReader(`{"email":"a@b.c"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", resp.StatusCode)
	}
}
