package polymarketapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"polyhawk/config"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type PolymarketApiClient struct {
	logger       *zap.Logger
	httpClient   *http.Client
	gammaBaseURL string
	dataBaseURL  string
}

func NewPolymarketApiClient(logger *zap.Logger, cfg *config.Config) *PolymarketApiClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PolymarketApiClient{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		gammaBaseURL: cfg.Polymarket.GammaAPIURL,
		dataBaseURL:  cfg.Polymarket.DataAPIURL,
	}
}

// ---- Flexible JSON scalars ----

// FlexFloat decodes a float that the upstream APIs encode as either a JSON
// number or a quoted string ("1234.5"). Unparsable values decode to 0.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

// FlexInt64 decodes an integer that may arrive as a number, a quoted string
// or a fractional number (truncated).
type FlexInt64 int64

func (i *FlexInt64) UnmarshalJSON(data []byte) error {
	var f FlexFloat
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	*i = FlexInt64(int64(f))
	return nil
}

// ---- Gamma API types ----

type GammaEvent struct {
	ID       string          `json:"id"`
	Slug     string          `json:"slug"`
	Title    string          `json:"title"`
	Category string          `json:"category"`
	Icon     string          `json:"icon"`
	Image    string          `json:"image"`
	Tags     json.RawMessage `json:"tags"`
	Volume   FlexFloat       `json:"volume"`
	Volume24 FlexFloat       `json:"volume24hr"`
	Markets  []GammaMarket   `json:"markets"`
}

// GammaTag is the object form of an event tag.
type GammaTag struct {
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// FirstTagLabel returns the label of the first tag. Tags arrive either as
// objects with a label field or as plain strings.
func (e *GammaEvent) FirstTagLabel() string {
	if len(e.Tags) == 0 {
		return ""
	}

	var tags []GammaTag
	if err := json.Unmarshal(e.Tags, &tags); err == nil && len(tags) > 0 && tags[0].Label != "" {
		return tags[0].Label
	}

	var strs []string
	if err := json.Unmarshal(e.Tags, &strs); err == nil && len(strs) > 0 {
		return strs[0]
	}

	return ""
}

type GammaMarket struct {
	ID           string          `json:"id"`
	Slug         string          `json:"slug"`
	Question     string          `json:"question"`
	ConditionID  string          `json:"conditionId"`
	AssetID      string          `json:"asset_id"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`

	Outcomes      json.RawMessage `json:"outcomes"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`

	// Volume metrics
	Volume24hr FlexFloat `json:"volume24hr"`
	VolumeNum  FlexFloat `json:"volumeNum"`

	// Status
	Active bool `json:"active"`
	Closed bool `json:"closed"`

	// Market images
	Icon  string `json:"icon"`
	Image string `json:"image"`

	// Parent events, populated by the /markets endpoint.
	Events []GammaEvent `json:"events"`
}

// GetOutcomes parses the Outcomes field and returns the outcome names.
func (m *GammaMarket) GetOutcomes() []string {
	if len(m.Outcomes) == 0 {
		return nil
	}

	// Try parsing as direct array
	var outcomes []string
	if err := json.Unmarshal(m.Outcomes, &outcomes); err == nil {
		return outcomes
	}

	// Try parsing as JSON string containing an array (e.g., "[\"Yes\", \"No\"]")
	var jsonStr string
	if err := json.Unmarshal(m.Outcomes, &jsonStr); err == nil {
		if err := json.Unmarshal([]byte(jsonStr), &outcomes); err == nil {
			return outcomes
		}
	}

	return nil
}

// GetOutcomePrices parses the OutcomePrices field and returns prices.
func (m *GammaMarket) GetOutcomePrices() []float64 {
	if len(m.OutcomePrices) == 0 {
		return nil
	}

	parseStrings := func(strs []string) []float64 {
		prices := make([]float64, len(strs))
		for i, s := range strs {
			fmt.Sscanf(s, "%f", &prices[i])
		}
		return prices
	}

	// Try parsing as array of floats
	var prices []float64
	if err := json.Unmarshal(m.OutcomePrices, &prices); err == nil {
		return prices
	}

	// Try parsing as array of strings (sometimes prices are strings)
	var priceStrs []string
	if err := json.Unmarshal(m.OutcomePrices, &priceStrs); err == nil {
		return parseStrings(priceStrs)
	}

	// Try parsing as JSON string containing an array (e.g., "[\"0\", \"1\"]")
	var jsonStr string
	if err := json.Unmarshal(m.OutcomePrices, &jsonStr); err == nil {
		if err := json.Unmarshal([]byte(jsonStr), &prices); err == nil {
			return prices
		}
		if err := json.Unmarshal([]byte(jsonStr), &priceStrs); err == nil {
			return parseStrings(priceStrs)
		}
	}

	return nil
}

// GetTokenIDs parses the ClobTokenIDs field and returns the token IDs.
// Returns nil if parsing fails or no token IDs are present.
// Handles multiple Gamma API formats:
// - Direct array: ["token1", "token2"]
// - Array containing JSON string: ["[\"token1\", \"token2\"]"]
// - JSON string: "[\"token1\", \"token2\"]"
func (m *GammaMarket) GetTokenIDs() []string {
	if len(m.ClobTokenIDs) == 0 {
		return nil
	}

	// Try parsing as array of strings directly
	var tokenIDs []string
	if err := json.Unmarshal(m.ClobTokenIDs, &tokenIDs); err == nil && len(tokenIDs) > 0 {
		// Check if elements are themselves JSON arrays (nested encoding)
		if len(tokenIDs) == 1 && len(tokenIDs[0]) > 0 && tokenIDs[0][0] == '[' {
			var nested []string
			if err := json.Unmarshal([]byte(tokenIDs[0]), &nested); err == nil && len(nested) > 0 {
				return nested
			}
		}
		return tokenIDs
	}

	// Try parsing as a JSON string containing an array
	var jsonStr string
	if err := json.Unmarshal(m.ClobTokenIDs, &jsonStr); err == nil && jsonStr != "" {
		var innerTokenIDs []string
		if err := json.Unmarshal([]byte(jsonStr), &innerTokenIDs); err == nil && len(innerTokenIDs) > 0 {
			return innerTokenIDs
		}
	}

	return nil
}

// GetActiveEvents fetches active events ordered by 24-hour volume, markets
// included. This is the metadata source for the event index.
func (c *PolymarketApiClient) GetActiveEvents(
	ctx context.Context,
	limit int,
) ([]GammaEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gammaBaseURL: %w", err)
	}
	u.Path = "/events"

	q := u.Query()
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	u.RawQuery = q.Encode()

	var events []GammaEvent
	if err := c.doGet(ctx, u.String(), &events); err != nil {
		return nil, fmt.Errorf("get active events: %w", err)
	}

	return events, nil
}

// GetMarketByConditionID fetches a specific market by its condition ID.
// The response includes parent events when the market belongs to one.
func (c *PolymarketApiClient) GetMarketByConditionID(
	ctx context.Context,
	conditionID string,
) (*GammaMarket, error) {
	conditionID = strings.TrimSpace(conditionID)
	if conditionID == "" {
		return nil, fmt.Errorf("conditionID is empty")
	}

	u, err := url.Parse(c.gammaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gammaBaseURL: %w", err)
	}
	u.Path = "/markets"

	q := u.Query()
	q.Set("condition_id", conditionID)
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	var markets []GammaMarket
	if err := c.doGet(ctx, u.String(), &markets); err != nil {
		return nil, fmt.Errorf("get market by condition: %w", err)
	}

	if len(markets) == 0 {
		return nil, fmt.Errorf("market not found: %s", conditionID)
	}

	return &markets[0], nil
}

// ---- Data API types ----

// Trade represents a trade from the data API. Numeric fields tolerate the
// string encodings the API sometimes emits.
type Trade struct {
	ID              string    `json:"id"`
	ProxyWallet     string    `json:"proxyWallet"`
	Taker           string    `json:"taker"`
	Maker           string    `json:"maker"`
	Side            string    `json:"side"` // BUY or SELL
	Size            FlexFloat `json:"size"`
	Amount          FlexFloat `json:"amount"`
	Price           FlexFloat `json:"price"`
	Timestamp       FlexInt64 `json:"timestamp"`
	ConditionID     string    `json:"conditionId"`
	Asset           string    `json:"asset"`
	TransactionHash string    `json:"transactionHash"`

	// Market metadata, embedded on some feed variants
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	EventSlug string `json:"eventSlug"`
	Icon      string `json:"icon"`
	Outcome   string `json:"outcome"`

	// User profile
	Name         string `json:"name"`
	Pseudonym    string `json:"pseudonym"`
	ProfileImage string `json:"profileImage"`
}

// Position represents an open position from the data API.
type Position struct {
	ProxyWallet  string    `json:"proxyWallet"`
	Asset        string    `json:"asset"`
	ConditionID  string    `json:"conditionId"`
	Size         FlexFloat `json:"size"`
	AvgPrice     FlexFloat `json:"avgPrice"`
	InitialValue FlexFloat `json:"initialValue"`
	CurrentValue FlexFloat `json:"currentValue"`
	CashPnl      FlexFloat `json:"cashPnl"`
	PercentPnl   FlexFloat `json:"percentPnl"`
	CurPrice     FlexFloat `json:"curPrice"`
	Redeemable   bool      `json:"redeemable"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
	Icon         string    `json:"icon"`
	EventSlug    string    `json:"eventSlug"`
	Outcome      string    `json:"outcome"`
	EndDate      string    `json:"endDate"`
}

// LeaderboardEntry represents a trader on the PnL/volume leaderboard.
type LeaderboardEntry struct {
	ProxyWallet  string    `json:"proxyWallet"`
	Name         string    `json:"name"`
	Pseudonym    string    `json:"pseudonym"`
	ProfileImage string    `json:"profileImage"`
	Amount       FlexFloat `json:"amount"`
	Rank         FlexInt64 `json:"rank"`
}

// GetTrades fetches recent trades from the data API, newest first.
// A positive before timestamp pages backward: only trades strictly older
// than it are returned. takerOnly filters out maker-side duplicates.
func (c *PolymarketApiClient) GetTrades(
	ctx context.Context,
	limit int,
	before int64,
	takerOnly bool,
) ([]Trade, error) {
	if limit <= 0 {
		limit = 1000
	}

	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = "/trades"

	q := u.Query()
	q.Set("limit", fmt.Sprintf("%d", limit))
	if before > 0 {
		q.Set("before", fmt.Sprintf("%d", before))
	}
	if takerOnly {
		q.Set("takerOnly", "true")
	}
	u.RawQuery = q.Encode()

	var trades []Trade
	if err := c.doGet(ctx, u.String(), &trades); err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}

	return trades, nil
}

// GetPositions fetches open positions for a specific wallet address.
func (c *PolymarketApiClient) GetPositions(
	ctx context.Context,
	wallet string,
	limit int,
) ([]Position, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return nil, fmt.Errorf("wallet is empty")
	}

	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = "/positions"

	q := u.Query()
	q.Set("user", wallet)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	// Include positions of any size
	q.Set("sizeThreshold", "0")
	u.RawQuery = q.Encode()

	var positions []Position
	if err := c.doGet(ctx, u.String(), &positions); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	return positions, nil
}

// GetLeaderboard fetches the trader leaderboard for a time window
// ("day", "week", "month" or "all").
func (c *PolymarketApiClient) GetLeaderboard(
	ctx context.Context,
	window string,
	limit int,
) ([]LeaderboardEntry, error) {
	window = strings.TrimSpace(window)
	if window == "" {
		window = "month"
	}
	if limit <= 0 {
		limit = 20
	}

	u, err := url.Parse(c.dataBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid dataBaseURL: %w", err)
	}
	u.Path = "/leaderboard"

	q := u.Query()
	q.Set("window", window)
	q.Set("limit", fmt.Sprintf("%d", limit))
	u.RawQuery = q.Encode()

	var entries []LeaderboardEntry
	if err := c.doGet(ctx, u.String(), &entries); err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	return entries, nil
}

// doGet is a helper that performs a GET request and decodes JSON response.
func (c *PolymarketApiClient) doGet(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}
