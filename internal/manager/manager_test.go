package manager_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-systems/harness/internal/agentexec"
	"github.com/kestrel-systems/harness/internal/engine/inmem"
	"github.com/kestrel-systems/harness/internal/events"
	"github.com/kestrel-systems/harness/internal/harness"
	"github.com/kestrel-systems/harness/internal/manager"
	"github.com/kestrel-systems/harness/internal/plan"
	"github.com/kestrel-systems/harness/internal/store"
	"github.com/kestrel-systems/harness/internal/store/memstore"
	"github.com/kestrel-systems/harness/internal/toolcall"
	"github.com/kestrel-systems/harness/internal/toolspec"
)

func idGen(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newTestManager(t *testing.T, bus events.Bus, bridge *store.Bridge) *manager.Manager {
	t.Helper()
	if bridge == nil {
		bridge = store.NewBridge(memstore.New(), nil, bus)
	}
	m, err := manager.New(manager.Options{
		Engine:      inmem.New(),
		Bridge:      bridge,
		Bus:         bus,
		IDGenerator: idGen("harness"),
	})
	require.NoError(t, err)
	return m
}

func singleStepPlan(id string) func(string) ([]plan.StepSpec, error) {
	return func(string) ([]plan.StepSpec, error) {
		return []plan.StepSpec{{ID: id, Description: "do the thing"}}, nil
	}
}

func TestCreateStartCompletes(t *testing.T) {
	bus := events.NewBus()
	m := newTestManager(t, bus, nil)
	require.NoError(t, m.RegisterAgent(manager.AgentRegistration{
		Name:        "worker",
		Executor:    agentexec.Stub{Result: "done"},
		PlanBuilder: singleStepPlan("s1"),
	}))

	id, err := m.CreateHarness("worker", "task-1", manager.CreateOptions{AutonomyLevel: 5})
	require.NoError(t, err)

	res, err := m.Start(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, harness.StatusCompleted, res.Status)
	require.Equal(t, "done", res.Output)

	summaries := m.List()
	require.Len(t, summaries, 1)
	require.Equal(t, harness.StatusCompleted, summaries[0].Status)
}

func TestGateApproveThenRejectViaManager(t *testing.T) {
	bus := events.NewBus()
	m := newTestManager(t, bus, nil)
	require.NoError(t, m.RegisterAgent(manager.AgentRegistration{
		Name:     "worker",
		Executor: agentexec.Stub{},
		PlanBuilder: func(string) ([]plan.StepSpec, error) {
			return []plan.StepSpec{
				{ID: "s1", Description: "one"},
				{ID: "s2", Description: "two", Dependencies: []string{"s1"}},
			}, nil
		},
	}))

	id, err := m.CreateHarness("worker", "task-2", manager.CreateOptions{AutonomyLevel: 1})
	require.NoError(t, err)

	resultCh := make(chan harness.Result, 1)
	go func() {
		res, err := m.Start(context.Background(), id)
		require.NoError(t, err)
		resultCh <- res
	}()

	require.Eventually(t, func() bool {
		step, ok := m.PendingGate(id)
		return ok && step == "s1"
	}, 2*time.Second, time.Millisecond)
	_, err = m.ApproveGate(id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		step, ok := m.PendingGate(id)
		return ok && step == "s2"
	}, 2*time.Second, time.Millisecond)
	_, err = m.RejectGate(id, "stop")
	require.NoError(t, err)

	res := <-resultCh
	require.Equal(t, harness.StatusPaused, res.Status)
	require.Equal(t, 1, res.StepsCompleted)
}

func TestStopDuringLiveGateUnblocks(t *testing.T) {
	bus := events.NewBus()
	m := newTestManager(t, bus, nil)
	require.NoError(t, m.RegisterAgent(manager.AgentRegistration{
		Name:        "worker",
		Executor:    agentexec.Stub{Result: "done"},
		PlanBuilder: singleStepPlan("s1"),
	}))

	id, err := m.CreateHarness("worker", "task-stop-gate", manager.CreateOptions{AutonomyLevel: 1})
	require.NoError(t, err)

	resultCh := make(chan harness.Result, 1)
	go func() {
		res, err := m.Start(context.Background(), id)
		require.NoError(t, err)
		resultCh <- res
	}()

	require.Eventually(t, func() bool {
		step, ok := m.PendingGate(id)
		return ok && step == "s1"
	}, 2*time.Second, time.Millisecond)

	stopRes, err := m.Stop(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, harness.StatusFailed, stopRes.Status)

	select {
	case res := <-resultCh:
		require.Equal(t, harness.StatusFailed, res.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("Start never returned after Stop was signaled against a harness parked at a live gate")
	}
}

func TestResumeAfterRejectedGateProceeds(t *testing.T) {
	bus := events.NewBus()
	m := newTestManager(t, bus, nil)
	require.NoError(t, m.RegisterAgent(manager.AgentRegistration{
		Name:     "worker",
		Executor: agentexec.Stub{Result: "done"},
		PlanBuilder: func(string) ([]plan.StepSpec, error) {
			return []plan.StepSpec{
				{ID: "s1", Description: "one"},
				{ID: "s2", Description: "two", Dependencies: []string{"s1"}},
			}, nil
		},
	}))

	id, err := m.CreateHarness("worker", "task-reject-resume", manager.CreateOptions{AutonomyLevel: 1})
	require.NoError(t, err)

	resultCh := make(chan harness.Result, 1)
	go func() {
		res, err := m.Start(context.Background(), id)
		require.NoError(t, err)
		resultCh <- res
	}()

	require.Eventually(t, func() bool {
		step, ok := m.PendingGate(id)
		return ok && step == "s1"
	}, 2*time.Second, time.Millisecond)
	_, err = m.ApproveGate(id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		step, ok := m.PendingGate(id)
		return ok && step == "s2"
	}, 2*time.Second, time.Millisecond)
	_, err = m.RejectGate(id, "not yet")
	require.NoError(t, err)

	pausedRes := <-resultCh
	require.Equal(t, harness.StatusPaused, pausedRes.Status)
	require.Equal(t, 1, pausedRes.StepsCompleted)

	// A resume after a rejected gate must not re-gate "s2" again (gates are
	// one-shot) and must not dead-end the harness at a stale "running"
	// status: the step proceeds and the plan runs to completion.
	res, err := m.Resume(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, harness.StatusCompleted, res.Status)
	require.Equal(t, 2, res.StepsCompleted)
}

func TestDepthCapRefusesSpawn(t *testing.T) {
	bus := events.NewBus()
	m := newTestManager(t, bus, nil)
	_, _, err := depthCapSpawn(t, m, 3)
	require.ErrorIs(t, err, harness.ErrDepthExceeded)
}

// depthCapSpawn exercises Manager.Spawn directly at the configured depth
// cap boundary, bypassing a full delegated-step harness run since the
// depth check is evaluated before any agent resolution.
func depthCapSpawn(t *testing.T, m *manager.Manager, parentDepth int) (string, harness.SubAgentHandle, error) {
	t.Helper()
	handle, err := m.Spawn(context.Background(), harness.SpawnRequest{
		ParentHarnessID: "parent",
		ParentDepth:     parentDepth,
		AgentName:       "other",
		TaskID:          "task",
		StepID:          "s1",
	})
	if handle == nil {
		return "", nil, err
	}
	return handle.ID(), handle, err
}

// TestResumeFromCheckpointRecoversMidStepRun covers scenario S7: the
// checkpoint a crashed process leaves behind was taken while a step was
// still dispatched, so it persists Status "running" with that step also
// "running". A fresh Manager pointed at the same durable store must be
// able to reconstruct the harness and drive it to completion.
func TestResumeFromCheckpointRecoversMidStepRun(t *testing.T) {
	bus := events.NewBus()
	backing := memstore.New()
	bridge := store.NewBridge(backing, nil, bus)

	require.NoError(t, bridge.Persist(context.Background(), "h-crash", store.State{
		HarnessID: "h-crash",
		AgentName: "worker",
		TaskID:    "task-crash",
		Status:    store.StatusRunning,
		Plan: &store.PlanState{
			Steps: []store.StepState{{ID: "s1", Description: "do the thing", Status: "running"}},
		},
	}))

	m := newTestManager(t, bus, bridge)
	require.NoError(t, m.RegisterAgent(manager.AgentRegistration{
		Name:        "worker",
		Executor:    agentexec.Stub{Result: "done"},
		PlanBuilder: singleStepPlan("s1"),
	}))

	h, err := m.ResumeFromCheckpoint(context.Background(), "h-crash", "worker", nil, nil)
	require.NoError(t, err)
	require.Equal(t, harness.StatusPaused, h.Status())

	res, err := m.Resume(context.Background(), "h-crash")
	require.NoError(t, err)
	require.Equal(t, harness.StatusCompleted, res.Status)
	require.Equal(t, "done", res.Output)
}

func TestToolBudgetExceededFailsStep(t *testing.T) {
	bus := events.NewBus()
	registry := toolspec.NewRegistry()
	registry.Register(&toolspec.Spec{
		ID:              "noop",
		PermittedAgents: map[string]struct{}{"worker": {}},
	}, countingTool{})

	m, err := manager.New(manager.Options{
		Engine:      inmem.New(),
		Registry:    registry,
		Bridge:      store.NewBridge(memstore.New(), nil, bus),
		Bus:         bus,
		IDGenerator: idGen("budget"),
	})
	require.NoError(t, err)
	require.NoError(t, m.RegisterAgent(manager.AgentRegistration{
		Name:        "worker",
		Executor:    budgetBustingExecutor{calls: 5},
		PlanBuilder: singleStepPlan("s1"),
	}))

	id, err := m.CreateHarness("worker", "task-budget", manager.CreateOptions{
		AutonomyLevel: 5,
		ToolOptions:   toolcall.Options{MaxTotalCalls: 2, MaxRetries: 0},
	})
	require.NoError(t, err)

	res, err := m.Start(context.Background(), id)
	require.Error(t, err)
	require.Equal(t, harness.StatusFailed, res.Status)
}

func threeStepPlan(string) ([]plan.StepSpec, error) {
	return []plan.StepSpec{
		{ID: "s1", Description: "one"},
		{ID: "s2", Description: "two", Dependencies: []string{"s1"}},
		{ID: "s3", Description: "three", Dependencies: []string{"s2"}},
	}, nil
}

// gatedExecutor blocks its first invocation until proceed is closed, so a
// test can call Manager.Pause/Manager.Stop while that step is still
// in flight and assert control lands at the next step boundary rather
// than letting the whole plan run to completion before the signal is
// observed.
type gatedExecutor struct {
	gateStep string
	started  chan struct{}
	proceed  chan struct{}

	mu    sync.Mutex
	steps []string
}

func (g *gatedExecutor) Run(ctx context.Context, prompt agentexec.PromptContext, exec agentexec.ToolExecutor, _ []byte) (agentexec.Output, []byte, error) {
	g.mu.Lock()
	g.steps = append(g.steps, prompt.StepID)
	g.mu.Unlock()
	if prompt.StepID == g.gateStep {
		close(g.started)
		<-g.proceed
	}
	return agentexec.Output{Result: prompt.StepID}, nil, nil
}

func (g *gatedExecutor) dispatched() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.steps...)
}

// TestPauseMidRunHaltsAtNextStepBoundary exercises Manager.Pause through the
// real inmem engine against a multi-step plan: the pause signal is sent
// while step s1 is still in flight, and the dispatcher must observe it at
// the next safe point and suspend before dispatching s2, never completing
// the plan (spec §5, invariant 2).
func TestPauseMidRunHaltsAtNextStepBoundary(t *testing.T) {
	bus := events.NewBus()
	m := newTestManager(t, bus, nil)
	exec := &gatedExecutor{gateStep: "s1", started: make(chan struct{}), proceed: make(chan struct{})}
	require.NoError(t, m.RegisterAgent(manager.AgentRegistration{
		Name:        "worker",
		Executor:    exec,
		PlanBuilder: threeStepPlan,
	}))

	id, err := m.CreateHarness("worker", "task-pause", manager.CreateOptions{AutonomyLevel: 5})
	require.NoError(t, err)

	resultCh := make(chan harness.Result, 1)
	go func() {
		res, err := m.Start(context.Background(), id)
		require.NoError(t, err)
		resultCh <- res
	}()

	<-exec.started

	pauseCh := make(chan harness.Result, 1)
	go func() {
		res, err := m.Pause(context.Background(), id)
		require.NoError(t, err)
		pauseCh <- res
	}()

	// Give Pause a chance to land its signal before releasing s1, so the
	// signal is already buffered when the dispatcher next polls.
	time.Sleep(50 * time.Millisecond)
	close(exec.proceed)

	res := <-resultCh
	pauseRes := <-pauseCh
	require.Equal(t, harness.StatusPaused, res.Status)
	require.Equal(t, res, pauseRes)
	require.Equal(t, 1, res.StepsCompleted)
	require.Equal(t, []string{"s1"}, exec.dispatched())
}

// TestStopMidRunHaltsAtNextStepBoundary mirrors
// TestPauseMidRunHaltsAtNextStepBoundary for Manager.Stop: the stop signal
// sent while s1 is in flight must halt dispatch before s2 ever runs,
// leaving the harness failed with an incomplete plan rather than having
// run every step to completion.
func TestStopMidRunHaltsAtNextStepBoundary(t *testing.T) {
	bus := events.NewBus()
	m := newTestManager(t, bus, nil)
	exec := &gatedExecutor{gateStep: "s1", started: make(chan struct{}), proceed: make(chan struct{})}
	require.NoError(t, m.RegisterAgent(manager.AgentRegistration{
		Name:        "worker",
		Executor:    exec,
		PlanBuilder: threeStepPlan,
	}))

	id, err := m.CreateHarness("worker", "task-stop", manager.CreateOptions{AutonomyLevel: 5})
	require.NoError(t, err)

	resultCh := make(chan harness.Result, 1)
	go func() {
		res, err := m.Start(context.Background(), id)
		require.NoError(t, err)
		resultCh <- res
	}()

	<-exec.started

	stopCh := make(chan harness.Result, 1)
	go func() {
		res, err := m.Stop(context.Background(), id)
		require.NoError(t, err)
		stopCh <- res
	}()

	time.Sleep(50 * time.Millisecond)
	close(exec.proceed)

	res := <-resultCh
	stopRes := <-stopCh
	require.Equal(t, harness.StatusFailed, res.Status)
	require.Equal(t, res, stopRes)
	require.Equal(t, 1, res.StepsCompleted)
	require.Equal(t, []string{"s1"}, exec.dispatched())
}

type countingTool struct{}

func (countingTool) Ident() toolspec.Ident { return "noop" }
func (countingTool) Invoke(context.Context, map[string]any) (any, error) {
	return "ok", nil
}
func (countingTool) Classify(error) toolspec.ErrorClass { return toolspec.ClassNonTransient }

// budgetBustingExecutor calls the "noop" tool repeatedly, exceeding a
// small configured budget so the step dispatch observes ErrBudgetExceeded.
type budgetBustingExecutor struct {
	calls int
}

func (b budgetBustingExecutor) Run(ctx context.Context, prompt agentexec.PromptContext, exec agentexec.ToolExecutor, _ []byte) (agentexec.Output, []byte, error) {
	for i := 0; i < b.calls; i++ {
		if _, err := exec(ctx, "noop", map[string]any{}, 0); err != nil {
			return agentexec.Output{}, nil, err
		}
	}
	return agentexec.Output{Result: "done"}, nil, nil
}
