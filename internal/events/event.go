package events

import "time"

// EventType enumerates the well-known events broadcast on the harness
// event bus. Each type corresponds to a specific point in the harness or
// plan lifecycle.
type EventType string

const (
	// StateTransition fires whenever a harness moves between lifecycle
	// statuses.
	StateTransition EventType = "state_transition"

	// ToolCall fires when a tool invocation completes (successfully,
	// rejected, or failed).
	ToolCall EventType = "tool_call"

	// HumanGate fires on every gate lifecycle point: creation (waiting),
	// and resolution (approved/rejected).
	HumanGate EventType = "human_gate"

	// SubAgent fires when a delegated step spawns, completes, or fails
	// a child harness.
	SubAgent EventType = "sub_agent"

	// Checkpoint fires after every durable checkpoint write.
	Checkpoint EventType = "checkpoint"

	// StepFailed fires when a plan step transitions to failed.
	StepFailed EventType = "step_failed"

	// PlanCompleted fires when every step in a plan reaches completed.
	PlanCompleted EventType = "plan_completed"

	// StoreFallback fires once, the first time the durable store bridge
	// falls back from its primary store to its fallback store. This is
	// additive to the base catalogue: it exists purely to surface a
	// degraded-durability warning to observers.
	StoreFallback EventType = "store_fallback"
)

// ErrorKind classifies why a tool call failed, mirroring the taxonomy
// used by the tool-call manager's retry and budget logic.
type ErrorKind string

const (
	ErrorKindPermission   ErrorKind = "permission"
	ErrorKindBudget       ErrorKind = "budget"
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindTransient    ErrorKind = "transient"
	ErrorKindNonTransient ErrorKind = "non_transient"
)

// GateAction describes the lifecycle point a HumanGate event reports.
type GateAction string

const (
	GateActionWaiting  GateAction = "waiting"
	GateActionApproved GateAction = "approved"
	GateActionRejected GateAction = "rejected"
)

// SubAgentAction describes the lifecycle point a SubAgent event reports.
type SubAgentAction string

const (
	SubAgentSpawned   SubAgentAction = "spawned"
	SubAgentCompleted SubAgentAction = "completed"
	SubAgentFailed    SubAgentAction = "failed"
)

type (
	// Event is the interface every concrete harness event implements.
	// Subscribers type-switch on the concrete type to access
	// event-specific fields.
	Event interface {
		Type() EventType
		HarnessID() string
		Timestamp() int64
	}

	baseEvent struct {
		harnessID string
		timestamp int64
	}

	// StateTransitionEvent fires whenever a harness moves between
	// lifecycle statuses.
	StateTransitionEvent struct {
		baseEvent
		From string
		To   string
	}

	// ToolCallEvent fires when a tool invocation completes.
	ToolCallEvent struct {
		baseEvent
		ToolName   string
		DurationMs int64
		Success    bool
		RetryCount int
		ErrorKind  ErrorKind // zero value when Success is true
	}

	// HumanGateEvent fires on every gate lifecycle point.
	HumanGateEvent struct {
		baseEvent
		GateID         string
		StepID         string
		Action         GateAction
		WaitDurationMs int64 // set when Action is approved or rejected
	}

	// SubAgentEvent fires when a delegated step spawns, completes, or
	// fails a child harness.
	SubAgentEvent struct {
		baseEvent
		SubAgentID string
		Action     SubAgentAction
	}

	// CheckpointEvent fires after every durable checkpoint write.
	CheckpointEvent struct {
		baseEvent
		CheckpointNumber int
	}

	// StepFailedEvent fires when a plan step transitions to failed.
	StepFailedEvent struct {
		baseEvent
		StepID string
		Err    error
	}

	// PlanCompletedEvent fires when every step in a plan reaches
	// completed.
	PlanCompletedEvent struct {
		baseEvent
	}

	// StoreFallbackEvent fires the first time the durable store bridge
	// falls back from its primary store to its fallback store.
	StoreFallbackEvent struct {
		baseEvent
		Reason string
	}
)

func newBaseEvent(harnessID string) baseEvent {
	return baseEvent{harnessID: harnessID, timestamp: time.Now().UnixMilli()}
}

func (e baseEvent) HarnessID() string { return e.harnessID }
func (e baseEvent) Timestamp() int64  { return e.timestamp }

func (e *StateTransitionEvent) Type() EventType { return StateTransition }
func (e *ToolCallEvent) Type() EventType        { return ToolCall }
func (e *HumanGateEvent) Type() EventType       { return HumanGate }
func (e *SubAgentEvent) Type() EventType        { return SubAgent }
func (e *CheckpointEvent) Type() EventType      { return Checkpoint }
func (e *StepFailedEvent) Type() EventType      { return StepFailed }
func (e *PlanCompletedEvent) Type() EventType   { return PlanCompleted }
func (e *StoreFallbackEvent) Type() EventType   { return StoreFallback }

// NewStateTransitionEvent constructs a StateTransition event.
func NewStateTransitionEvent(harnessID, from, to string) *StateTransitionEvent {
	return &StateTransitionEvent{baseEvent: newBaseEvent(harnessID), From: from, To: to}
}

// NewToolCallEvent constructs a ToolCall event.
func NewToolCallEvent(harnessID, toolName string, duration time.Duration, success bool, retryCount int, errorKind ErrorKind) *ToolCallEvent {
	return &ToolCallEvent{
		baseEvent:  newBaseEvent(harnessID),
		ToolName:   toolName,
		DurationMs: duration.Milliseconds(),
		Success:    success,
		RetryCount: retryCount,
		ErrorKind:  errorKind,
	}
}

// NewHumanGateEvent constructs a HumanGate event.
func NewHumanGateEvent(harnessID, gateID, stepID string, action GateAction, waitDuration time.Duration) *HumanGateEvent {
	return &HumanGateEvent{
		baseEvent:      newBaseEvent(harnessID),
		GateID:         gateID,
		StepID:         stepID,
		Action:         action,
		WaitDurationMs: waitDuration.Milliseconds(),
	}
}

// NewSubAgentEvent constructs a SubAgent event.
func NewSubAgentEvent(harnessID, subAgentID string, action SubAgentAction) *SubAgentEvent {
	return &SubAgentEvent{baseEvent: newBaseEvent(harnessID), SubAgentID: subAgentID, Action: action}
}

// NewCheckpointEvent constructs a Checkpoint event.
func NewCheckpointEvent(harnessID string, checkpointNumber int) *CheckpointEvent {
	return &CheckpointEvent{baseEvent: newBaseEvent(harnessID), CheckpointNumber: checkpointNumber}
}

// NewStepFailedEvent constructs a StepFailed event.
func NewStepFailedEvent(harnessID, stepID string, err error) *StepFailedEvent {
	return &StepFailedEvent{baseEvent: newBaseEvent(harnessID), StepID: stepID, Err: err}
}

// NewPlanCompletedEvent constructs a PlanCompleted event.
func NewPlanCompletedEvent(harnessID string) *PlanCompletedEvent {
	return &PlanCompletedEvent{baseEvent: newBaseEvent(harnessID)}
}

// NewStoreFallbackEvent constructs a StoreFallback event.
func NewStoreFallbackEvent(harnessID, reason string) *StoreFallbackEvent {
	return &StoreFallbackEvent{baseEvent: newBaseEvent(harnessID), Reason: reason}
}
