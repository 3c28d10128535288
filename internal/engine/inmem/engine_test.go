package inmem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-systems/harness/internal/engine"
)

func TestStartWorkflowRunsHandlerAndReturnsResult(t *testing.T) {
	e := New()
	require.NoError(t, e.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name: "echo",
		Handler: func(ctx engine.WorkflowContext, input any) (any, error) {
			return input, nil
		},
	}))

	h, err := e.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID:       "run-1",
		Workflow: "echo",
		Input:    "hello",
	})
	require.NoError(t, err)

	var result string
	require.NoError(t, h.Wait(context.Background(), &result))
	require.Equal(t, "hello", result)
}

func TestStartWorkflowPropagatesHandlerError(t *testing.T) {
	e := New()
	wantErr := errors.New("boom")
	require.NoError(t, e.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name:    "fail",
		Handler: func(ctx engine.WorkflowContext, input any) (any, error) { return nil, wantErr },
	}))

	h, err := e.StartWorkflow(context.Background(), engine.WorkflowStartRequest{ID: "run-2", Workflow: "fail"})
	require.NoError(t, err)

	err = h.Wait(context.Background(), nil)
	require.ErrorIs(t, err, wantErr)
}

func TestExecuteActivityRunsRegisteredHandler(t *testing.T) {
	e := New()
	require.NoError(t, e.RegisterActivity(context.Background(), engine.ActivityDefinition{
		Name:    "double",
		Handler: func(ctx context.Context, input any) (any, error) { return input.(int) * 2, nil },
	}))
	require.NoError(t, e.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name: "uses-activity",
		Handler: func(ctx engine.WorkflowContext, input any) (any, error) {
			var out int
			if err := ctx.ExecuteActivity(ctx.Context(), engine.ActivityRequest{Name: "double", Input: 21}, &out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}))

	h, err := e.StartWorkflow(context.Background(), engine.WorkflowStartRequest{ID: "run-3", Workflow: "uses-activity"})
	require.NoError(t, err)

	var result int
	require.NoError(t, h.Wait(context.Background(), &result))
	require.Equal(t, 42, result)
}

func TestSignalChannelDeliversPayload(t *testing.T) {
	e := New()
	received := make(chan string, 1)
	require.NoError(t, e.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name: "waits-for-signal",
		Handler: func(ctx engine.WorkflowContext, input any) (any, error) {
			var payload string
			if err := ctx.SignalChannel(engine.SignalPause).Receive(ctx.Context(), &payload); err != nil {
				return nil, err
			}
			received <- payload
			return nil, nil
		},
	}))

	h, err := e.StartWorkflow(context.Background(), engine.WorkflowStartRequest{ID: "run-4", Workflow: "waits-for-signal"})
	require.NoError(t, err)

	require.NoError(t, h.Signal(context.Background(), engine.SignalPause, "paused"))

	select {
	case got := <-received:
		require.Equal(t, "paused", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal delivery")
	}
	require.NoError(t, h.Wait(context.Background(), nil))
}

func TestStartWorkflowRejectsUnregisteredName(t *testing.T) {
	e := New()
	_, err := e.StartWorkflow(context.Background(), engine.WorkflowStartRequest{ID: "run-5", Workflow: "missing"})
	require.Error(t, err)
}
