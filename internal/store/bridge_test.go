package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-systems/harness/internal/events"
	"github.com/kestrel-systems/harness/internal/store"
	"github.com/kestrel-systems/harness/internal/store/memstore"
)

type unavailableStore struct{}

func (unavailableStore) Persist(context.Context, string, store.State) error { panic("not reached") }
func (unavailableStore) Restore(context.Context, string) (store.State, error) {
	panic("not reached")
}
func (unavailableStore) Delete(context.Context, string) error   { return nil }
func (unavailableStore) IsAvailable(context.Context) bool       { return false }

func TestBridgeUsesPrimaryWhenAvailable(t *testing.T) {
	primary := memstore.New()
	fallback := memstore.New()
	bridge := store.NewBridge(primary, fallback, events.NewBus())

	want := store.State{HarnessID: "h1", Status: store.StatusRunning}
	require.NoError(t, bridge.Persist(context.Background(), "h1", want))

	got, err := bridge.Restore(context.Background(), "h1")
	require.NoError(t, err)
	require.Equal(t, want.Status, got.Status)

	_, err = fallback.Restore(context.Background(), "h1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBridgeFallsBackAndEmitsOneTimeWarning(t *testing.T) {
	fallback := memstore.New()
	bus := events.NewBus()
	var fallbackEvents int
	_, err := bus.Register(events.SubscriberFunc(func(_ context.Context, e events.Event) error {
		if e.Type() == events.StoreFallback {
			fallbackEvents++
		}
		return nil
	}))
	require.NoError(t, err)

	bridge := store.NewBridge(unavailableStore{}, fallback, bus)

	state := store.State{HarnessID: "h1", Status: store.StatusRunning}
	require.NoError(t, bridge.Persist(context.Background(), "h1", state))
	require.NoError(t, bridge.Persist(context.Background(), "h1", state))

	require.Equal(t, 1, fallbackEvents)

	got, err := fallback.Restore(context.Background(), "h1")
	require.NoError(t, err)
	require.Equal(t, state.Status, got.Status)
}

func TestBridgeFailsWithoutFallback(t *testing.T) {
	bridge := store.NewBridge(unavailableStore{}, nil, events.NewBus())
	err := bridge.Persist(context.Background(), "h1", store.State{HarnessID: "h1"})
	require.Error(t, err)
}
