package toolcall

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-systems/harness/internal/events"
	"github.com/kestrel-systems/harness/internal/telemetry"
	"github.com/kestrel-systems/harness/internal/toolspec"
)

type fakeTool struct {
	id       toolspec.Ident
	failN    int // fail this many times before succeeding
	calls    int
	classify toolspec.ErrorClass
}

var errFake = errors.New("fake tool failure")

func (f *fakeTool) Ident() toolspec.Ident { return f.id }

func (f *fakeTool) Invoke(context.Context, map[string]any) (any, error) {
	f.calls++
	if f.calls <= f.failN {
		return nil, errFake
	}
	return "ok", nil
}

func (f *fakeTool) Classify(error) toolspec.ErrorClass {
	if f.classify == "" {
		return toolspec.ClassTransient
	}
	return f.classify
}

func newRegistry(t *testing.T, tool *fakeTool, permitted ...string) *toolspec.Registry {
	t.Helper()
	set := make(map[string]struct{}, len(permitted))
	for _, a := range permitted {
		set[a] = struct{}{}
	}
	r := toolspec.NewRegistry()
	r.Register(&toolspec.Spec{ID: tool.id, PermittedAgents: set}, tool)
	return r
}

func TestExecuteRejectsUnpermittedAgent(t *testing.T) {
	tool := &fakeTool{id: "search.web"}
	r := newRegistry(t, tool, "MARS")
	m := New("h1", r, events.NewBus(), telemetry.NoopLogger{}, DefaultOptions())

	_, err := m.Execute(context.Background(), Call{ToolID: "search.web"}, "VENUS")
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Equal(t, 1, len(m.History()))
	require.True(t, m.History()[0].Rejected)
	require.Equal(t, 0, m.TotalCalls())
}

func TestExecuteEnforcesBudget(t *testing.T) {
	tool := &fakeTool{id: "search.web"}
	r := newRegistry(t, tool, "MARS")
	opts := DefaultOptions()
	opts.MaxTotalCalls = 1
	m := New("h1", r, events.NewBus(), telemetry.NoopLogger{}, opts)

	_, err := m.Execute(context.Background(), Call{ToolID: "search.web"}, "MARS")
	require.NoError(t, err)

	_, err = m.Execute(context.Background(), Call{ToolID: "search.web"}, "MARS")
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	tool := &fakeTool{id: "search.web", failN: 2}
	r := newRegistry(t, tool, "MARS")
	opts := DefaultOptions()
	opts.BaseBackoff = time.Millisecond
	opts.MaxRetries = 3
	m := New("h1", r, events.NewBus(), telemetry.NoopLogger{}, opts)

	result, err := m.Execute(context.Background(), Call{ToolID: "search.web"}, "MARS")
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, 2, m.History()[0].RetryCount)
}

func TestExecuteDoesNotRetryNonTransient(t *testing.T) {
	tool := &fakeTool{id: "search.web", failN: 5, classify: toolspec.ClassNonTransient}
	r := newRegistry(t, tool, "MARS")
	m := New("h1", r, events.NewBus(), telemetry.NoopLogger{}, DefaultOptions())

	_, err := m.Execute(context.Background(), Call{ToolID: "search.web"}, "MARS")
	require.Error(t, err)
	require.Equal(t, 1, tool.calls)
}

func TestExecuteGivesUpAfterMaxRetries(t *testing.T) {
	tool := &fakeTool{id: "search.web", failN: 100}
	r := newRegistry(t, tool, "MARS")
	opts := DefaultOptions()
	opts.BaseBackoff = time.Millisecond
	opts.MaxRetries = 2
	m := New("h1", r, events.NewBus(), telemetry.NoopLogger{}, opts)

	_, err := m.Execute(context.Background(), Call{ToolID: "search.web"}, "MARS")
	require.Error(t, err)
	require.Equal(t, 3, tool.calls) // 1 initial + 2 retries
}
