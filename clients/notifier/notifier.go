package notifier

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Channel names accepted by the send-notification API.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
	ChannelDiscord  = "discord"
)

// WhaleAlert is a large trade enriched with market metadata. JSON tags match
// the HTTP API payloads.
type WhaleAlert struct {
	ID            string  `json:"id"`
	MarketID      string  `json:"marketId"`
	MarketTitle   string  `json:"marketTitle"`
	MarketSlug    string  `json:"marketSlug"`
	WalletAddress string  `json:"walletAddress"`
	Amount        float64 `json:"amount"` // USD notional
	Side          string  `json:"side"`   // YES or NO
	Price         float64 `json:"price"`
	Timestamp     int64   `json:"timestamp"` // Unix seconds
	MarketURL     string  `json:"marketUrl"`
	Icon          string  `json:"icon,omitempty"`
	Category      string  `json:"category,omitempty"`
}

// TimeAgo renders the alert age relative to now, e.g. "5m ago".
func (a WhaleAlert) TimeAgo(now time.Time) string {
	age := now.Unix() - a.Timestamp
	if age < 0 {
		age = 0
	}
	switch {
	case age < 60:
		return fmt.Sprintf("%ds ago", age)
	case age < 3600:
		return fmt.Sprintf("%dm ago", age/60)
	case age < 86400:
		return fmt.Sprintf("%dh ago", age/3600)
	default:
		return fmt.Sprintf("%dd ago", age/86400)
	}
}

// FormatUSD renders a dollar amount with thousands separators, e.g. "$12,345".
func FormatUSD(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := strconv.FormatFloat(v, 'f', 0, 64)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-$" + b.String()
	}
	return "$" + b.String()
}

// Sender delivers a single whale alert to one destination on one channel.
type Sender interface {
	// Channel returns the channel name ("email", "telegram", "discord").
	Channel() string

	// Send delivers the alert. destination is channel-specific (email
	// address, chat ID, channel ID); empty uses the sender's default.
	// test marks the message as a subscription test.
	Send(ctx context.Context, destination string, alert WhaleAlert, test bool) error

	// Close cleans up any resources.
	Close() error
}

// Registry holds the available senders keyed by channel name.
type Registry struct {
	senders map[string]Sender
}

// NewRegistry creates a Registry from the given senders. Nil senders are
// filtered out.
func NewRegistry(senders ...Sender) *Registry {
	active := make(map[string]Sender)
	for _, s := range senders {
		if s != nil {
			active[s.Channel()] = s
		}
	}
	return &Registry{senders: active}
}

// Get returns the sender for a channel name.
func (r *Registry) Get(channel string) (Sender, bool) {
	s, ok := r.senders[strings.ToLower(strings.TrimSpace(channel))]
	return s, ok
}

// Channels returns the registered channel names, sorted.
func (r *Registry) Channels() []string {
	names := make([]string, 0, len(r.senders))
	for name := range r.senders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered senders.
func (r *Registry) Count() int {
	return len(r.senders)
}

// Close closes all registered senders.
func (r *Registry) Close() error {
	var lastErr error
	for _, s := range r.senders {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
