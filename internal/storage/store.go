// Package storage provides the durable key-value store behind the alert
// history and the notification subscription table.
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is a durable keyed blob store. Values are opaque JSON documents.
type Store interface {
	// Get returns the value for key. The bool reports whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set writes the value for key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
}

// Subscription is a notification subscriber. At least one of Email or
// TelegramChatID is set.
type Subscription struct {
	ID             string    `json:"id"`
	Email          string    `json:"email,omitempty"`
	TelegramChatID string    `json:"telegram_chat_id,omitempty"`
	MinUSD         float64   `json:"min_usd"`
	CreatedAt      time.Time `json:"created_at"`
}

// SubscriptionSource lists the active notification subscribers.
type SubscriptionSource interface {
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
}

// SubscriptionWriter creates new subscribers. Implemented by stores that
// accept signups.
type SubscriptionWriter interface {
	AddSubscription(ctx context.Context, sub Subscription) (Subscription, error)
}

// MemoryStore is an in-memory Store. Used when no database is configured
// and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	return nil
}

// StaticSubscriptions is a fixed in-memory SubscriptionSource.
type StaticSubscriptions []Subscription

var _ SubscriptionSource = (StaticSubscriptions)(nil)

func (s StaticSubscriptions) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	return s, nil
}

// normalizeSubscription trims fields and fills defaults. A subscription
// without any destination is rejected.
func normalizeSubscription(sub Subscription) (Subscription, error) {
	sub.Email = strings.TrimSpace(sub.Email)
	sub.TelegramChatID = strings.TrimSpace(sub.TelegramChatID)
	if sub.Email == "" && sub.TelegramChatID == "" {
		return Subscription{}, fmt.Errorf("subscription needs an email or telegram chat ID")
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.MinUSD <= 0 {
		sub.MinUSD = 5000
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	return sub, nil
}

// MemorySubscriptions is a mutex-guarded subscription list. Used when no
// database is configured and in tests.
type MemorySubscriptions struct {
	mu   sync.RWMutex
	subs []Subscription
}

var _ SubscriptionSource = (*MemorySubscriptions)(nil)
var _ SubscriptionWriter = (*MemorySubscriptions)(nil)

func NewMemorySubscriptions() *MemorySubscriptions {
	return &MemorySubscriptions{}
}

func (s *MemorySubscriptions) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Subscription, len(s.subs))
	copy(out, s.subs)
	return out, nil
}

func (s *MemorySubscriptions) AddSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	sub, err := normalizeSubscription(sub)
	if err != nil {
		return Subscription{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs = append(s.subs, sub)
	return sub, nil
}
