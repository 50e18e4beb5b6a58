package eventsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultMaxAge is how old a delivery timestamp may be before it is refused.
const DefaultMaxAge = 10 * time.Minute

var (
	// ErrStaleMessage is returned for timestamps outside the accepted window
	// or that do not parse.
	ErrStaleMessage = errors.New("eventsub: stale or invalid message timestamp")
	// ErrDuplicateMessage is returned for a message id that was already processed.
	ErrDuplicateMessage = errors.New("eventsub: duplicate message id")
)

// SeenStore remembers message ids for a limited time.
type SeenStore interface {
	// MarkSeen records id and reports whether this was its first sighting.
	MarkSeen(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

// ReplayGuard refuses old deliveries and recognizes redeliveries.
type ReplayGuard struct {
	store  SeenStore
	maxAge time.Duration
	now    func() time.Time
}

// NewReplayGuard returns a guard over store. A non-positive maxAge means DefaultMaxAge.
func NewReplayGuard(store SeenStore, maxAge time.Duration) *ReplayGuard {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &ReplayGuard{store: store, maxAge: maxAge, now: time.Now}
}

// Check returns ErrStaleMessage or ErrDuplicateMessage, or nil when env
// should be processed. It must only be called after the signature verified.
func (g *ReplayGuard) Check(ctx context.Context, env Envelope) error {
	ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrStaleMessage, env.Timestamp)
	}
	age := g.now().Sub(ts)
	if age > g.maxAge || age < -g.maxAge {
		return fmt.Errorf("%w: age %s", ErrStaleMessage, age.Round(time.Second))
	}
	if g.store == nil || env.MessageID == "" {
		return nil
	}
	// Ids only need to outlive the timestamp window; older redeliveries are stale anyway.
	first, err := g.store.MarkSeen(ctx, env.MessageID, 2*g.maxAge)
	if err != nil {
		// fail open
		slog.Warn("replay store unavailable", slog.String("message_id", env.MessageID), slog.Any("err", err), slog.String("component", "eventsub"))
		return nil
	}
	if !first {
		return ErrDuplicateMessage
	}
	return nil
}

// MemorySeen is a process-local SeenStore.
type MemorySeen struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemorySeen returns an empty MemorySeen.
func NewMemorySeen() *MemorySeen {
	return &MemorySeen{expires: make(map[string]time.Time), now: time.Now}
}

// MarkSeen implements SeenStore.
func (m *MemorySeen) MarkSeen(_ context.Context, id string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, exp := range m.expires {
		if !now.Before(exp) {
			delete(m.expires, k)
		}
	}
	if _, ok := m.expires[id]; ok {
		return false, nil
	}
	m.expires[id] = now.Add(ttl)
	return true, nil
}

// RedisSeen is a SeenStore shared across replicas.
type RedisSeen struct {
	client *redis.Client
	prefix string
}

// NewRedisSeen returns a RedisSeen storing keys under prefix.
func NewRedisSeen(client *redis.Client, prefix string) *RedisSeen {
	if prefix == "" {
		prefix = "eventsub:seen:"
	}
	return &RedisSeen{client: client, prefix: prefix}
}

// MarkSeen implements SeenStore with SET NX EX.
func (r *RedisSeen) MarkSeen(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+id, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}
