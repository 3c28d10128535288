package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/kestrel-systems/harness/internal/events"
)

// Store is the durable-store bridge contract every backend implements.
type Store interface {
	Persist(ctx context.Context, id string, state State) error
	Restore(ctx context.Context, id string) (State, error) // ErrNotFound if absent
	Delete(ctx context.Context, id string) error
	IsAvailable(ctx context.Context) bool
}

// Bridge routes persist/restore/delete calls to a primary Store, falling
// back to a secondary Store when the primary is unavailable at open time
// or fails a per-call operation. The fallback accepts the same schema.
//
// Writes for a given harness id are serialised (per spec §5: checkpoint
// writes must be totally ordered by checkpointCount) via a per-id mutex
// kept in a single map, while writes across different ids may interleave
// freely.
type Bridge struct {
	primary  Store
	fallback Store
	bus      events.Bus

	mu            sync.Mutex
	locks         map[string]*sync.Mutex
	fellBack      bool
	fellBackMu    sync.Mutex
}

// NewBridge constructs a Bridge over a primary and fallback Store. Either
// may be nil; a nil fallback means persistence failures surface directly
// once the primary is unavailable.
func NewBridge(primary, fallback Store, bus events.Bus) *Bridge {
	return &Bridge{primary: primary, fallback: fallback, bus: bus, locks: make(map[string]*sync.Mutex)}
}

func (b *Bridge) lockFor(id string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[id]
	if !ok {
		l = &sync.Mutex{}
		b.locks[id] = l
	}
	return l
}

// Persist writes state for id, trying the primary first and falling back
// on failure or primary unavailability.
func (b *Bridge) Persist(ctx context.Context, id string, state State) error {
	l := b.lockFor(id)
	l.Lock()
	defer l.Unlock()

	if b.primary != nil && b.primary.IsAvailable(ctx) {
		if err := b.primary.Persist(ctx, id, state); err == nil {
			return nil
		}
	}
	return b.persistFallback(ctx, id, state)
}

func (b *Bridge) persistFallback(ctx context.Context, id string, state State) error {
	if b.fallback == nil {
		return fmt.Errorf("store: primary unavailable and no fallback configured for %s", id)
	}
	b.noteFallback(id)
	return b.fallback.Persist(ctx, id, state)
}

// Restore reads state for id, trying the primary first and falling back
// on failure or primary unavailability.
func (b *Bridge) Restore(ctx context.Context, id string) (State, error) {
	l := b.lockFor(id)
	l.Lock()
	defer l.Unlock()

	if b.primary != nil && b.primary.IsAvailable(ctx) {
		if state, err := b.primary.Restore(ctx, id); err == nil {
			return state, nil
		} else if err == ErrNotFound {
			return State{}, ErrNotFound
		}
	}
	if b.fallback == nil {
		return State{}, fmt.Errorf("store: primary unavailable and no fallback configured for %s", id)
	}
	b.noteFallback(id)
	return b.fallback.Restore(ctx, id)
}

// Delete removes state for id from whichever store currently holds it.
func (b *Bridge) Delete(ctx context.Context, id string) error {
	l := b.lockFor(id)
	l.Lock()
	defer l.Unlock()

	var errs []error
	if b.primary != nil {
		if err := b.primary.Delete(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if b.fallback != nil {
		if err := b.fallback.Delete(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 2 {
		return fmt.Errorf("store: delete failed on both backends: %v, %v", errs[0], errs[1])
	}
	return nil
}

// IsAvailable reports whether at least one backend (primary or fallback)
// can currently serve requests.
func (b *Bridge) IsAvailable(ctx context.Context) bool {
	if b.primary != nil && b.primary.IsAvailable(ctx) {
		return true
	}
	return b.fallback != nil && b.fallback.IsAvailable(ctx)
}

// noteFallback emits a one-time StoreFallback warning event the first
// time the bridge transitions into serving from its fallback store.
func (b *Bridge) noteFallback(harnessID string) {
	b.fellBackMu.Lock()
	already := b.fellBack
	b.fellBack = true
	b.fellBackMu.Unlock()
	if already || b.bus == nil {
		return
	}
	_ = b.bus.Publish(context.Background(), events.NewStoreFallbackEvent(harnessID, "primary store unavailable"))
}
