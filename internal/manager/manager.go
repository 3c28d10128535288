// Package manager owns the harness registry: it allocates harness ids,
// enforces the sub-agent depth cap, registers the single shared dispatch
// workflow with the underlying engine, and exposes the external lifecycle
// API (create, start, pause, resume, stop, list, resume-from-checkpoint).
//
// Modeled on goa-ai's runtime.Runtime (runtime/agent/runtime/runtime.go):
// RegisterAgent binds an agent identity to a planner/workflow/activity set
// once, and MustClientFor looks routes up by id rather than re-registering
// per call. Manager mirrors that shape: RegisterAgent binds an agent name to
// an agentexec.Executor and a harness.PlanBuilder, and every harness created
// for that agent name is driven through the one registered
// "harness.dispatch" workflow definition.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-systems/harness/internal/agentexec"
	"github.com/kestrel-systems/harness/internal/engine"
	"github.com/kestrel-systems/harness/internal/events"
	"github.com/kestrel-systems/harness/internal/harness"
	"github.com/kestrel-systems/harness/internal/store"
	"github.com/kestrel-systems/harness/internal/telemetry"
	"github.com/kestrel-systems/harness/internal/toolcall"
	"github.com/kestrel-systems/harness/internal/toolspec"
)

// workflowName is the single shared workflow definition every harness runs
// under; the manager looks up which *harness.Harness a given invocation
// belongs to by the engine-assigned workflow id, which the manager always
// sets equal to the harness id.
const workflowName = "harness.dispatch"

// defaultDepthCap matches the example in spec §4.6: a sub-agent may spawn
// its own sub-agents, but depth 3 is refused.
const defaultDepthCap = 3

// AgentRegistration binds an agent name to the executor and plan builder a
// harness created for that agent should use.
type AgentRegistration struct {
	Name        string
	Executor    agentexec.Executor
	PlanBuilder harness.PlanBuilder
}

// CreateOptions configures a harness at creation time, overriding the
// registered agent defaults where set.
type CreateOptions struct {
	AutonomyLevel      int
	CheckpointInterval time.Duration
	ToolOptions        toolcall.Options
	Executor           agentexec.Executor
	PlanBuilder        harness.PlanBuilder
}

// Options configures a new Manager.
type Options struct {
	Engine      engine.Engine
	Registry    *toolspec.Registry
	Bridge      *store.Bridge
	Bus         events.Bus
	Logger      telemetry.Logger
	IDGenerator func() string // defaults to uuid.NewString
	DepthCap    int           // defaults to 3
	TaskQueue   string        // defaults to "harness"
}

// Manager is the harness registry and lifecycle driver.
type Manager struct {
	eng       engine.Engine
	registry  *toolspec.Registry
	bridge    *store.Bridge
	bus       events.Bus
	logger    telemetry.Logger
	idGen     func() string
	depthCap  int
	taskQueue string

	mu      sync.Mutex
	agents  map[string]AgentRegistration
	entries map[string]*entry
}

type entry struct {
	h *harness.Harness

	mu     sync.Mutex
	handle engine.WorkflowHandle
	live   bool // a Run invocation is currently in flight for this handle
}

// New constructs a Manager and registers its shared dispatch workflow with
// the supplied engine.
func New(opts Options) (*Manager, error) {
	if opts.Engine == nil {
		return nil, errors.New("manager: engine is required")
	}
	idGen := opts.IDGenerator
	if idGen == nil {
		idGen = func() string { return uuid.NewString() }
	}
	depthCap := opts.DepthCap
	if depthCap <= 0 {
		depthCap = defaultDepthCap
	}
	queue := opts.TaskQueue
	if queue == "" {
		queue = "harness"
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}

	m := &Manager{
		eng:       opts.Engine,
		registry:  opts.Registry,
		bridge:    opts.Bridge,
		bus:       opts.Bus,
		logger:    logger,
		idGen:     idGen,
		depthCap:  depthCap,
		taskQueue: queue,
		agents:    make(map[string]AgentRegistration),
		entries:   make(map[string]*entry),
	}
	if err := m.eng.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name:      workflowName,
		TaskQueue: queue,
		Handler:   m.dispatch,
	}); err != nil {
		return nil, fmt.Errorf("manager: register dispatch workflow: %w", err)
	}
	return m, nil
}

// RegisterAgent binds an agent name to the executor/plan-builder pair used
// whenever a harness or sub-agent spawn names that agent. Registering the
// same name twice replaces the prior binding.
func (m *Manager) RegisterAgent(reg AgentRegistration) error {
	if reg.Name == "" {
		return errors.New("manager: agent name is required")
	}
	if reg.Executor == nil || reg.PlanBuilder == nil {
		return fmt.Errorf("manager: agent %q needs both an executor and a plan builder", reg.Name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[reg.Name] = reg
	return nil
}

// dispatch is the shared engine.WorkflowFunc every harness runs under. It
// looks up the target harness by the engine-assigned workflow id and
// delegates to its own Run.
func (m *Manager) dispatch(wctx engine.WorkflowContext, input any) (any, error) {
	m.mu.Lock()
	e, ok := m.entries[wctx.WorkflowID()]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("manager: no harness registered for workflow %q", wctx.WorkflowID())
	}
	return e.h.Run(wctx, input)
}

// CreateHarness allocates and registers a new top-level harness for
// agentName/taskID, without starting it.
func (m *Manager) CreateHarness(agentName, taskID string, opts CreateOptions) (string, error) {
	exec, planBuilder, err := m.resolveAgent(agentName, opts.Executor, opts.PlanBuilder)
	if err != nil {
		return "", err
	}

	id := m.idGen()
	h, err := harness.New(id, harness.Options{
		AgentName:          agentName,
		TaskID:             taskID,
		AutonomyLevel:      opts.AutonomyLevel,
		CheckpointInterval: opts.CheckpointInterval,
		Registry:           m.registry,
		ToolOptions:        opts.ToolOptions,
		Executor:           exec,
		Spawner:            m,
		PlanBuilder:        planBuilder,
		Bridge:             m.bridge,
		Bus:                m.bus,
		Logger:             m.logger,
		IDGenerator:        m.idGen,
	})
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.entries[id] = &entry{h: h}
	m.mu.Unlock()
	return id, nil
}

// resolveAgent fills in executor/planBuilder overrides from the agent
// registry, erroring if neither an override nor a registration covers
// agentName.
func (m *Manager) resolveAgent(agentName string, execOverride agentexec.Executor, planOverride harness.PlanBuilder) (agentexec.Executor, harness.PlanBuilder, error) {
	exec, planBuilder := execOverride, planOverride
	if exec == nil || planBuilder == nil {
		m.mu.Lock()
		reg, ok := m.agents[agentName]
		m.mu.Unlock()
		if !ok {
			return nil, nil, fmt.Errorf("manager: no agent registered for %q", agentName)
		}
		if exec == nil {
			exec = reg.Executor
		}
		if planBuilder == nil {
			planBuilder = reg.PlanBuilder
		}
	}
	return exec, planBuilder, nil
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok
}

// Start launches a created harness and blocks until its Run invocation
// suspends (paused, completed, or failed).
func (m *Manager) Start(ctx context.Context, id string) (harness.Result, error) {
	e, ok := m.lookup(id)
	if !ok {
		return harness.Result{}, fmt.Errorf("manager: unknown harness %q", id)
	}
	e.mu.Lock()
	if e.live {
		e.mu.Unlock()
		return harness.Result{}, fmt.Errorf("manager: harness %q is already running", id)
	}
	e.mu.Unlock()
	return m.runWorkflow(ctx, id, e)
}

// Resume re-launches a paused harness's Run invocation. Plan state lives in
// the in-memory *harness.Harness, so resuming within the same process
// simply re-enters the dispatch loop at its persisted step cursor; a
// process restart goes through ResumeFromCheckpoint first.
func (m *Manager) Resume(ctx context.Context, id string) (harness.Result, error) {
	return m.Start(ctx, id)
}

// runWorkflow launches one bounded Run invocation for id and blocks until
// it suspends or terminates. Start and Resume funnel through here so
// entry.live reflects whether a Run goroutine currently owns the harness;
// Stop against a non-running harness starts its own run and sets
// entry.live itself. When Wait returns an error without a decoded result,
// the returned Result carries the harness's current status.
func (m *Manager) runWorkflow(ctx context.Context, id string, e *entry) (harness.Result, error) {
	handle, err := m.eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:        id,
		Workflow:  workflowName,
		TaskQueue: m.taskQueue,
	})
	if err != nil {
		return harness.Result{}, err
	}
	e.mu.Lock()
	e.handle = handle
	e.live = true
	e.mu.Unlock()

	var res harness.Result
	err = handle.Wait(ctx, &res)
	if err != nil && res.Status == "" {
		res.Status = e.h.Status()
	}

	e.mu.Lock()
	e.live = false
	e.mu.Unlock()
	return res, err
}

// Pause signals a running harness to suspend at its next safe point and
// waits for the suspended result.
func (m *Manager) Pause(ctx context.Context, id string) (harness.Result, error) {
	e, ok := m.lookup(id)
	if !ok {
		return harness.Result{}, fmt.Errorf("manager: unknown harness %q", id)
	}
	e.mu.Lock()
	live, handle := e.live, e.handle
	e.mu.Unlock()
	if !live || handle == nil {
		return harness.Result{}, fmt.Errorf("manager: harness %q is not running", id)
	}
	if err := handle.Signal(ctx, engine.SignalPause, nil); err != nil {
		return harness.Result{}, err
	}
	var res harness.Result
	err := handle.Wait(ctx, &res)
	return res, err
}

// Stop signals a harness to terminate at its next safe point and waits for
// the terminal result. A harness that is currently paused (no live Run
// invocation) is started fresh with the stop signal already queued, so its
// first control-poll observes it immediately rather than dispatching
// another step.
func (m *Manager) Stop(ctx context.Context, id string) (harness.Result, error) {
	e, ok := m.lookup(id)
	if !ok {
		return harness.Result{}, fmt.Errorf("manager: unknown harness %q", id)
	}

	e.mu.Lock()
	live, handle := e.live, e.handle
	e.mu.Unlock()

	if live && handle != nil {
		if err := handle.Signal(ctx, engine.SignalStop, nil); err != nil {
			return harness.Result{}, err
		}
		var res harness.Result
		err := handle.Wait(ctx, &res)
		return res, err
	}

	switch e.h.Status() {
	case harness.StatusCompleted, harness.StatusFailed:
		return harness.Result{Status: e.h.Status()}, nil
	}

	newHandle, err := m.eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:        id,
		Workflow:  workflowName,
		TaskQueue: m.taskQueue,
	})
	if err != nil {
		return harness.Result{}, err
	}
	e.mu.Lock()
	e.handle = newHandle
	e.live = true
	e.mu.Unlock()

	if err := newHandle.Signal(ctx, engine.SignalStop, nil); err != nil {
		return harness.Result{}, err
	}
	var res harness.Result
	err = newHandle.Wait(ctx, &res)

	e.mu.Lock()
	e.live = false
	e.mu.Unlock()
	return res, err
}

// PendingGate returns the step id of id's currently blocked gate, if any.
func (m *Manager) PendingGate(id string) (stepID string, ok bool) {
	e, found := m.lookup(id)
	if !found {
		return "", false
	}
	return e.h.PendingGate()
}

// ApproveGate resolves id's currently pending human-in-loop gate as
// approved, waking its blocked dispatcher.
func (m *Manager) ApproveGate(id string) (time.Duration, error) {
	e, ok := m.lookup(id)
	if !ok {
		return 0, fmt.Errorf("manager: unknown harness %q", id)
	}
	return e.h.ApproveGate()
}

// RejectGate resolves id's currently pending gate as rejected with reason;
// the harness remains paused until Resume is called again.
func (m *Manager) RejectGate(id, reason string) (time.Duration, error) {
	e, ok := m.lookup(id)
	if !ok {
		return 0, fmt.Errorf("manager: unknown harness %q", id)
	}
	return e.h.RejectGate(reason)
}

// Summary is the list-view projection of a registered harness.
type Summary struct {
	ID               string
	AgentName        string
	TaskID           string
	Status           harness.Status
	Depth            int
	CreatedAt        time.Time
	LastCheckpointAt *time.Time
	SubAgentCount    int
}

// List returns a summary of every harness this manager currently tracks.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]Summary, len(entries))
	for i, e := range entries {
		out[i] = Summary{
			ID:               e.h.ID(),
			AgentName:        e.h.AgentName(),
			TaskID:           e.h.TaskID(),
			Status:           e.h.Status(),
			Depth:            e.h.Depth(),
			CreatedAt:        e.h.CreatedAt(),
			LastCheckpointAt: e.h.LastCheckpointAt(),
			SubAgentCount:    e.h.SubAgentCount(),
		}
	}
	return out
}

// ResumeFromCheckpoint reconstructs a harness from its last durable
// checkpoint after a process restart (§4.7, scenario S7) and registers it
// so a subsequent Resume can drive it. agentName must be registered, or
// execOverride/planOverride must both be supplied.
func (m *Manager) ResumeFromCheckpoint(ctx context.Context, id, agentName string, execOverride agentexec.Executor, planOverride harness.PlanBuilder) (*harness.Harness, error) {
	if m.bridge == nil {
		return nil, errors.New("manager: no durable store bridge configured")
	}
	state, err := m.bridge.Restore(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", harness.ErrStoreUnavailable, err)
	}

	exec, planBuilder, err := m.resolveAgent(agentName, execOverride, planOverride)
	if err != nil {
		return nil, err
	}

	h, err := harness.New(id, harness.Options{
		AgentName:   agentName,
		TaskID:      state.TaskID,
		Executor:    exec,
		Spawner:     m,
		PlanBuilder: planBuilder,
		Registry:    m.registry,
		Bridge:      m.bridge,
		Bus:         m.bus,
		Logger:      m.logger,
		IDGenerator: m.idGen,
	})
	if err != nil {
		return nil, err
	}
	if err := h.RestoreFrom(state); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.entries[id] = &entry{h: h}
	m.mu.Unlock()
	return h, nil
}

// Spawn implements harness.SubAgentSpawner: a step delegates to a
// different registered agent, and the manager creates, registers, and
// starts a fresh sub-harness for it, enforcing the depth cap (§4.6).
func (m *Manager) Spawn(ctx context.Context, req harness.SpawnRequest) (harness.SubAgentHandle, error) {
	childDepth := req.ParentDepth + 1
	if childDepth >= m.depthCap {
		return nil, harness.ErrDepthExceeded
	}

	exec, planBuilder, err := m.resolveAgent(req.AgentName, nil, nil)
	if err != nil {
		return nil, err
	}

	id := m.idGen()
	h, err := harness.New(id, harness.Options{
		AgentName:             req.AgentName,
		TaskID:                req.TaskID,
		ParentHarnessID:       req.ParentHarnessID,
		Depth:                 childDepth,
		AutonomyLevel:         5, // sub-agents run ungated; the parent step already carries its own gate decision
		Executor:              exec,
		Spawner:               m,
		PlanBuilder:           planBuilder,
		Registry:              m.registry,
		Bridge:                m.bridge,
		Bus:                   m.bus,
		Logger:                m.logger,
		IDGenerator:           m.idGen,
		InitialFailureContext: req.FailureContext,
	})
	if err != nil {
		return nil, err
	}

	e := &entry{h: h}
	m.mu.Lock()
	m.entries[id] = e
	m.mu.Unlock()

	handle, err := m.eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:        id,
		Workflow:  workflowName,
		TaskQueue: m.taskQueue,
	})
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.handle = handle
	e.live = true
	e.mu.Unlock()

	return &subAgentHandle{id: id, handle: handle, entry: e}, nil
}

// subAgentHandle adapts an engine.WorkflowHandle to harness.SubAgentHandle.
type subAgentHandle struct {
	id     string
	handle engine.WorkflowHandle
	entry  *entry
}

func (s *subAgentHandle) ID() string { return s.id }

func (s *subAgentHandle) Wait(ctx context.Context) (harness.SubAgentResult, error) {
	var res harness.Result
	err := s.handle.Wait(ctx, &res)
	s.entry.mu.Lock()
	s.entry.live = false
	s.entry.mu.Unlock()
	if err != nil {
		return harness.SubAgentResult{HarnessID: s.id, Status: harness.StatusFailed, Err: err}, nil
	}
	return harness.SubAgentResult{
		HarnessID:      s.id,
		Output:         res.Output,
		Status:         res.Status,
		StepsCompleted: res.StepsCompleted,
		TotalSteps:     res.TotalSteps,
		ToolCallCount:  res.ToolCallCount,
		DurationMs:     res.DurationMs,
	}, nil
}
