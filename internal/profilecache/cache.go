// Package profilecache keeps public profiles close to the request path.
// Entries are invalidated by auth-state events.
package profilecache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Clark-Hu/bitebox/internal/domain"
	"github.com/Clark-Hu/bitebox/internal/events"
)

// Cache stores profiles by user id.
type Cache interface {
	Get(ctx context.Context, userID string) (domain.Profile, bool, error)
	Set(ctx context.Context, profile domain.Profile) error
	Invalidate(ctx context.Context, userID string) error
}

type memoryEntry struct {
	profile   domain.Profile
	expiresAt time.Time
}

// Memory is a process-local Cache used when Redis is not configured.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory returns an in-process cache with the given entry TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, userID string) (domain.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[userID]
	if !ok {
		return domain.Profile{}, false, nil
	}
	if m.now().After(entry.expiresAt) {
		delete(m.entries, userID)
		return domain.Profile{}, false, nil
	}
	return entry.profile, true, nil
}

func (m *Memory) Set(_ context.Context, profile domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[profile.UserID] = memoryEntry{profile: profile, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	return nil
}

// Invalidator is the auth-event subscriber that drops cached profiles when a
// user signs in or out.
type Invalidator struct {
	cache  Cache
	logger *zap.Logger
}

// NewInvalidator wires a cache to the event stream.
func NewInvalidator(cache Cache, logger *zap.Logger) *Invalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{cache: cache, logger: logger.Named("profilecache")}
}

// HandleAuthEvent implements events.Handler.
func (i *Invalidator) HandleAuthEvent(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.UserSignedIn, events.UserSignedOut:
		if err := i.cache.Invalidate(ctx, ev.UserID); err != nil {
			i.logger.Warn("profile invalidation failed",
				zap.String("user_id", ev.UserID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
		}
	case events.TokenRefreshed:
		// Identity is unchanged.
	}
}
