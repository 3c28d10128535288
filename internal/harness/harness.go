// Package harness implements the agent harness: the state machine that
// owns one execution plan, drives its step dispatcher, enforces tool-call
// policy through a toolcall.Manager, inserts human-in-loop gates, and
// checkpoints its state through a durable store bridge.
//
// Modeled on goa-ai's runtime/agent/run package (Status/Phase tagged
// variants), runtime/agent/runtime/workflow_state.go (the run-loop state
// shape a dispatcher carries across suspension points), and
// runtime/agent/interrupt.Controller (the pause/resume/stop signal
// vocabulary, here carried over engine.SignalChannel instead of a
// standalone controller type, so the identical harness code runs whether
// the underlying engine is the in-memory adapter or the Temporal adapter).
package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kestrel-systems/harness/internal/agentexec"
	"github.com/kestrel-systems/harness/internal/events"
	"github.com/kestrel-systems/harness/internal/gate"
	"github.com/kestrel-systems/harness/internal/plan"
	"github.com/kestrel-systems/harness/internal/store"
	"github.com/kestrel-systems/harness/internal/telemetry"
	"github.com/kestrel-systems/harness/internal/toolcall"
	"github.com/kestrel-systems/harness/internal/toolspec"
)

// Status is the tagged lifecycle status of a harness.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known harness statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusPaused, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// legalTransitions is the exhaustive table of accepted lifecycle moves.
// Any pair not listed here is rejected with ErrInvalidTransition and
// leaves status untouched.
var legalTransitions = map[Status]map[Status]bool{
	StatusCreated:   {StatusRunning: true},
	StatusRunning:   {StatusPaused: true, StatusCompleted: true, StatusFailed: true},
	StatusPaused:    {StatusRunning: true, StatusFailed: true},
	StatusCompleted: {},
	StatusFailed:    {},
}

func canTransition(from, to Status) bool {
	return legalTransitions[from][to]
}

var (
	// ErrInvalidTransition is returned when a requested lifecycle
	// operation is not permitted from the harness's current status.
	ErrInvalidTransition = errors.New("harness: invalid transition")
	// ErrPlanConstructionFailed is re-exported from internal/plan so
	// callers can errors.Is against a single symbol regardless of which
	// layer raised it.
	ErrPlanConstructionFailed = plan.ErrPlanConstructionFailed
	// ErrUnrecoverableAgentError marks an inner-agent failure the
	// step-retry policy could not recover.
	ErrUnrecoverableAgentError = errors.New("harness: unrecoverable agent error")
	// ErrStoreUnavailable is surfaced only when neither the primary nor
	// the fallback store can serve a required read.
	ErrStoreUnavailable = errors.New("harness: store unavailable")
	// ErrBudgetExceeded is re-exported from internal/toolcall.
	ErrBudgetExceeded = toolcall.ErrBudgetExceeded
	// ErrDepthExceeded is returned by a spawn attempt that would put a
	// sub-harness at or beyond the configured depth cap.
	ErrDepthExceeded = errors.New("harness: depth exceeded")
)

type (
	// PlanBuilder produces the ordered steps for a task. Construction is
	// abstract: an implementation may delegate to the agent itself or to
	// a deterministic decomposer (§4.3).
	PlanBuilder func(taskID string) ([]plan.StepSpec, error)

	// SubAgentResult is the final result record of a completed child
	// harness, reported back to the step that spawned it.
	SubAgentResult struct {
		HarnessID      string
		Output         any
		Status         Status
		StepsCompleted int
		TotalSteps     int
		ToolCallCount  int
		DurationMs     int64
		Err            error
	}

	// SubAgentHandle lets a step dispatcher await a spawned child
	// harness's terminal state.
	SubAgentHandle interface {
		ID() string
		Wait(ctx context.Context) (SubAgentResult, error)
	}

	// SubAgentSpawner is the capability a harness uses to delegate a step
	// to a different agent. internal/manager implements this so
	// internal/harness never imports internal/manager (manager owns the
	// registry that creates and tracks sub-harnesses; harness only needs
	// to ask for one).
	SubAgentSpawner interface {
		Spawn(ctx context.Context, req SpawnRequest) (SubAgentHandle, error)
	}

	// SpawnRequest describes a sub-harness spawn triggered by a step
	// whose assigned agent differs from the owning harness's agent.
	SpawnRequest struct {
		ParentHarnessID string
		ParentDepth     int
		AgentName       string
		TaskID          string
		StepID          string
		Input           any
		FailureContext  string // set on the retry attempt (§4.6)
	}

	// Options configures a new Harness.
	Options struct {
		AgentName       string
		TaskID          string
		ParentHarnessID string
		Depth           int
		AutonomyLevel   int // 1-5; defaults to 5 (no gates) if zero
		// CheckpointInterval is the periodic checkpoint cadence while
		// running. Default: 5 minutes.
		CheckpointInterval time.Duration

		Registry    *toolspec.Registry
		ToolOptions toolcall.Options
		Executor    agentexec.Executor
		Spawner     SubAgentSpawner
		PlanBuilder PlanBuilder
		Bridge      *store.Bridge
		Bus         events.Bus
		Logger      telemetry.Logger
		IDGenerator func() string // allocates gate ids; required

		// InitialFailureContext carries the prior attempt's error text into
		// a sub-harness spawned as a retry (§4.6); applied to the first
		// step this harness dispatches only.
		InitialFailureContext string
	}

	// Harness is the state machine owning one execution plan and its
	// dispatch.
	Harness struct {
		mu sync.Mutex

		id              string
		agentName       string
		taskID          string
		parentHarnessID string
		depth           int
		autonomyLevel   int
		checkpointInt   time.Duration

		status           Status
		createdAt        time.Time
		updatedAt        time.Time
		lastCheckpointAt *time.Time
		checkpointCount  int

		plan             *plan.Plan
		currentStepIndex int
		stepFailures     map[string]int // retry count per step (§4.6)
		pendingGate      *gate.Gate
		gateWake         chan struct{}
		gates            []*gate.Gate

		tools           *toolcall.Manager
		subAgentIDs     []string
		subAgentResults map[string]SubAgentResult

		agentLoopSnap []byte
		finalErr      error

		executor          agentexec.Executor
		spawner           SubAgentSpawner
		planBuilder       PlanBuilder
		bridge            *store.Bridge
		bus               events.Bus
		logger            telemetry.Logger
		idGen             func() string
		initialFailureCtx string
	}
)

// New constructs a fresh, created-status Harness.
func New(id string, opts Options) (*Harness, error) {
	if id == "" {
		return nil, errors.New("harness: id is required")
	}
	if opts.AgentName == "" {
		return nil, errors.New("harness: agent name is required")
	}
	if opts.PlanBuilder == nil {
		return nil, errors.New("harness: plan builder is required")
	}
	if opts.IDGenerator == nil {
		return nil, errors.New("harness: id generator is required")
	}
	autonomy := opts.AutonomyLevel
	if autonomy == 0 {
		autonomy = 5
	}
	checkpointInt := opts.CheckpointInterval
	if checkpointInt <= 0 {
		checkpointInt = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}

	now := time.Now()
	h := &Harness{
		id:                id,
		agentName:         opts.AgentName,
		taskID:            opts.TaskID,
		parentHarnessID:   opts.ParentHarnessID,
		depth:             opts.Depth,
		autonomyLevel:     autonomy,
		checkpointInt:     checkpointInt,
		status:            StatusCreated,
		createdAt:         now,
		updatedAt:         now,
		stepFailures:      make(map[string]int),
		subAgentResults:   make(map[string]SubAgentResult),
		executor:          opts.Executor,
		spawner:           opts.Spawner,
		planBuilder:       opts.PlanBuilder,
		bridge:            opts.Bridge,
		bus:               opts.Bus,
		logger:            logger,
		idGen:             opts.IDGenerator,
		initialFailureCtx: opts.InitialFailureContext,
	}
	h.tools = toolcall.New(id, opts.Registry, opts.Bus, logger, opts.ToolOptions)
	return h, nil
}

// ID returns the harness's stable identifier.
func (h *Harness) ID() string { return h.id }

// Status returns the harness's current lifecycle status. Safe to call
// concurrently with a running dispatch loop.
func (h *Harness) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Depth returns the harness's spawn depth (0 for top-level).
func (h *Harness) Depth() int { return h.depth }

// AgentName returns the agent identity this harness wraps.
func (h *Harness) AgentName() string { return h.agentName }

// TaskID returns the external work-unit identifier.
func (h *Harness) TaskID() string { return h.taskID }

// CreatedAt returns the harness's creation time.
func (h *Harness) CreatedAt() time.Time { return h.createdAt }

// LastCheckpointAt returns the time of the last durable checkpoint, if any.
func (h *Harness) LastCheckpointAt() *time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastCheckpointAt
}

// SubAgentCount returns the number of sub-harnesses this harness has
// spawned.
func (h *Harness) SubAgentCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subAgentIDs)
}

// PendingGate returns the id of the step currently blocked awaiting human
// resolution, if any.
func (h *Harness) PendingGate() (stepID string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pendingGate == nil {
		return "", false
	}
	return h.pendingGate.StepID, true
}

// Result is the terminal (or suspended) result record a caller receives
// back from a Run invocation (§6).
type Result struct {
	Output         any
	Status         Status
	StepsCompleted int
	TotalSteps     int
	ToolCallCount  int
	DurationMs     int64
}

// setStatus validates and applies a transition, emitting a
// StateTransitionEvent on success. Callers must hold h.mu.
func (h *Harness) setStatus(to Status) error {
	if !canTransition(h.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, h.status, to)
	}
	from := h.status
	h.status = to
	h.updatedAt = time.Now()
	h.publish(events.NewStateTransitionEvent(h.id, string(from), string(to)))
	return nil
}

func (h *Harness) publish(evt events.Event) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(context.Background(), evt); err != nil {
		h.logger.Warn(context.Background(), "event publish failed", "error", err, "type", evt.Type())
	}
}
