// Package store defines the durable-store bridge contract: a
// self-describing, schema-versioned persistence format for harness state,
// a Store interface every backend implements, and a Bridge that routes
// between a primary and a fallback Store.
//
// Modeled on goa-ai's runtime/agent/run package (Record/Store
// shape, schema-on-load discipline) adapted from run-scoped metadata to
// full harness state, since this module's durability unit is the harness
// rather than a single conversational run.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is the current harness state wire format version. Unknown
// versions encountered on load are fatal: the harness is not silently
// recovered from a partial or mismatched parse.
const SchemaVersion = 1

// ErrSchemaVersionMismatch is returned by Unmarshal when a document
// declares a schemaVersion this build does not understand.
var ErrSchemaVersionMismatch = errors.New("store: schema version mismatch")

// ErrNotFound is returned by Store.Restore when no state is recorded for
// the given id.
var ErrNotFound = errors.New("store: not found")

// Status mirrors the harness lifecycle status, duplicated here (rather
// than imported from internal/harness) so the persisted wire format has
// no dependency on harness control-flow types — internal/harness
// depends on internal/store, never the reverse.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepState is the persisted view of one plan step.
type StepState struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	AssignedName string   `json:"assignedName"`
	Dependencies []string `json:"dependencies,omitempty"`
	Critical     bool     `json:"critical"`
	Status       string   `json:"status"`
	Output       any      `json:"output,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// PlanState is the persisted view of a harness's execution plan.
type PlanState struct {
	CreatedAt time.Time   `json:"createdAt"`
	Steps     []StepState `json:"steps"`
}

// ToolCallRecordState is the persisted view of one tool-call manager
// record.
type ToolCallRecordState struct {
	ToolID     string         `json:"toolId"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs"`
	RetryCount int            `json:"retryCount"`
	Rejected   bool           `json:"rejected"`
	Timestamp  time.Time      `json:"timestamp"`
}

// GateState is the persisted view of a human-in-loop gate.
type GateState struct {
	ID         string    `json:"id"`
	StepID     string    `json:"stepId"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	ResolvedAt time.Time `json:"resolvedAt,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// SubAgentResultState is the persisted final result of a completed child
// harness.
type SubAgentResultState struct {
	Output         any    `json:"output,omitempty"`
	Status         Status `json:"status"`
	StepsCompleted int    `json:"stepsCompleted"`
	TotalSteps     int    `json:"totalSteps"`
	ToolCallCount  int    `json:"toolCallCount"`
	DurationMs     int64  `json:"durationMs"`
}

// State is the complete, self-describing persisted representation of one
// harness. SchemaVersion must be the first thing checked on load.
type State struct {
	SchemaVersion    int                            `json:"schemaVersion"`
	HarnessID        string                         `json:"harnessId"`
	AgentName        string                         `json:"agentName"`
	TaskID           string                         `json:"taskId"`
	ParentHarnessID  string                         `json:"parentHarnessId,omitempty"`
	Depth            int                            `json:"depth"`
	Status           Status                         `json:"status"`
	CreatedAt        time.Time                      `json:"createdAt"`
	UpdatedAt        time.Time                      `json:"updatedAt"`
	LastCheckpointAt *time.Time                     `json:"lastCheckpointAt,omitempty"`
	Plan             *PlanState                     `json:"plan,omitempty"`
	CurrentStepIndex int                            `json:"currentStepIndex"`
	ToolCallHistory  []ToolCallRecordState          `json:"toolCallHistory,omitempty"`
	TotalToolCalls   int                            `json:"totalToolCalls"`
	SubAgentIDs      []string                       `json:"subAgentIds,omitempty"`
	SubAgentResults  map[string]SubAgentResultState `json:"subAgentResults,omitempty"`
	Gates            []GateState                    `json:"gates,omitempty"`
	AgentLoopSnap    json.RawMessage                `json:"agentLoopSnapshot,omitempty"`
	CheckpointCount  int                            `json:"checkpointCount"`
	Err              string                         `json:"error,omitempty"`
}

// Marshal serialises state to its self-describing JSON wire format.
func Marshal(state State) ([]byte, error) {
	state.SchemaVersion = SchemaVersion
	return json.Marshal(state)
}

// Unmarshal decodes data into a State, rejecting any document whose
// declared schemaVersion this build does not understand.
func Unmarshal(data []byte) (State, error) {
	var versionProbe struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(data, &versionProbe); err != nil {
		return State{}, fmt.Errorf("store: decode schema probe: %w", err)
	}
	if versionProbe.SchemaVersion != SchemaVersion {
		return State{}, fmt.Errorf("%w: got %d, want %d", ErrSchemaVersionMismatch, versionProbe.SchemaVersion, SchemaVersion)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("store: decode state: %w", err)
	}
	return state, nil
}
