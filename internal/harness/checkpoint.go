package harness

import (
	"context"
	"time"

	"github.com/kestrel-systems/harness/internal/events"
	"github.com/kestrel-systems/harness/internal/store"
)

// snapshotLocked builds the persisted State for the harness's current
// in-memory state. Callers must hold h.mu.
func (h *Harness) snapshotLocked() store.State {
	var planState *store.PlanState
	if h.plan != nil {
		steps := make([]store.StepState, len(h.plan.Steps))
		for i, s := range h.plan.Steps {
			errText := ""
			if s.Err != nil {
				errText = s.Err.Error()
			}
			steps[i] = store.StepState{
				ID:           s.ID,
				Description:  s.Description,
				AssignedName: s.AssignedName,
				Dependencies: s.Dependencies,
				Critical:     s.Critical,
				Status:       string(s.Status),
				Output:       s.Output,
				Error:        errText,
			}
		}
		planState = &store.PlanState{CreatedAt: h.plan.CreatedAt, Steps: steps}
	}

	history := h.tools.History()
	toolStates := make([]store.ToolCallRecordState, len(history))
	for i, r := range history {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		toolStates[i] = store.ToolCallRecordState{
			ToolID:     string(r.ToolID),
			Arguments:  r.Arguments,
			Result:     r.Result,
			Error:      errText,
			DurationMs: r.DurationMs,
			RetryCount: r.RetryCount,
			Rejected:   r.Rejected,
			Timestamp:  r.Timestamp,
		}
	}

	gateStates := make([]store.GateState, len(h.gates))
	for i, g := range h.gates {
		gateStates[i] = store.GateState{
			ID:         g.ID,
			StepID:     g.StepID,
			Status:     string(g.Status),
			CreatedAt:  g.CreatedAt,
			ResolvedAt: g.ResolvedAt,
			Reason:     g.Reason,
		}
	}

	subResults := make(map[string]store.SubAgentResultState, len(h.subAgentResults))
	for id, r := range h.subAgentResults {
		subResults[id] = store.SubAgentResultState{
			Output:         r.Output,
			Status:         store.Status(r.Status),
			StepsCompleted: r.StepsCompleted,
			TotalSteps:     r.TotalSteps,
			ToolCallCount:  r.ToolCallCount,
			DurationMs:     r.DurationMs,
		}
	}

	errText := ""
	if h.finalErr != nil {
		errText = h.finalErr.Error()
	}

	return store.State{
		HarnessID:        h.id,
		AgentName:        h.agentName,
		TaskID:           h.taskID,
		ParentHarnessID:  h.parentHarnessID,
		Depth:            h.depth,
		Status:           store.Status(h.status),
		CreatedAt:        h.createdAt,
		UpdatedAt:        h.updatedAt,
		LastCheckpointAt: h.lastCheckpointAt,
		Plan:             planState,
		CurrentStepIndex: h.currentStepIndex,
		ToolCallHistory:  toolStates,
		TotalToolCalls:   len(history),
		SubAgentIDs:      append([]string(nil), h.subAgentIDs...),
		SubAgentResults:  subResults,
		Gates:            gateStates,
		AgentLoopSnap:    h.agentLoopSnap,
		CheckpointCount:  h.checkpointCount,
		Err:              errText,
	}
}

// checkpoint persists the harness's current state, incrementing
// checkpointCount and emitting a Checkpoint event on success. A failed
// write is logged and otherwise non-fatal (§4.1 checkpoint scheduling).
func (h *Harness) checkpoint(ctx context.Context) {
	if h.bridge == nil {
		return
	}

	h.mu.Lock()
	h.checkpointCount++
	now := time.Now()
	h.lastCheckpointAt = &now
	state := h.snapshotLocked()
	count := h.checkpointCount
	h.mu.Unlock()

	if err := h.bridge.Persist(ctx, h.id, state); err != nil {
		h.logger.Warn(ctx, "checkpoint persist failed", "error", err, "harnessId", h.id)
		return
	}
	h.publish(events.NewCheckpointEvent(h.id, count))
}
