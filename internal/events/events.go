// Package events carries auth-state changes from the request path to the
// single subscriber that keeps derived caches consistent.
package events

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Kind names an auth-state transition.
type Kind string

const (
	UserSignedIn   Kind = "user_signed_in"
	UserSignedOut  Kind = "user_signed_out"
	TokenRefreshed Kind = "token_refreshed"
)

// Event is one auth-state message.
type Event struct {
	Kind   Kind
	UserID string
	At     time.Time
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(ev Event)
}

// Handler consumes events delivered by Bus.Run.
type Handler interface {
	HandleAuthEvent(ctx context.Context, ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event)

// HandleAuthEvent calls f.
func (f HandlerFunc) HandleAuthEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// ErrAlreadySubscribed is returned when a second subscriber calls Run.
var ErrAlreadySubscribed = errors.New("events: bus already has a subscriber")

// Bus is a buffered, single-subscriber queue.
type Bus struct {
	ch         chan Event
	logger     *zap.Logger
	subscribed atomic.Bool
	dropped    atomic.Int64
	onDrop     func()
}

// NewBus creates a bus holding up to buffer undelivered events.
func NewBus(buffer int, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 1
	}
	return &Bus{ch: make(chan Event, buffer), logger: logger.Named("events")}
}

// OnDrop registers a callback invoked whenever an event is dropped.
func (b *Bus) OnDrop(fn func()) { b.onDrop = fn }

// Publish enqueues ev. When the buffer is full the event is dropped and
// logged; request handling never waits on the subscriber.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case b.ch <- ev:
	default:
		b.dropped.Add(1)
		if b.onDrop != nil {
			b.onDrop()
		}
		b.logger.Warn("event dropped, subscriber lagging",
			zap.String("kind", string(ev.Kind)),
			zap.String("user_id", ev.UserID),
		)
	}
}

// Dropped returns the number of events dropped so far.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Run delivers events to h until ctx is cancelled. Only one Run may be
// active on a bus.
func (b *Bus) Run(ctx context.Context, h Handler) error {
	if !b.subscribed.CompareAndSwap(false, true) {
		return ErrAlreadySubscribed
	}
	defer b.subscribed.Store(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.ch:
			h.HandleAuthEvent(ctx, ev)
		}
	}
}
