package harness

import (
	"errors"

	"github.com/kestrel-systems/harness/internal/gate"
	"github.com/kestrel-systems/harness/internal/plan"
	"github.com/kestrel-systems/harness/internal/store"
	"github.com/kestrel-systems/harness/internal/toolcall"
	"github.com/kestrel-systems/harness/internal/toolspec"
)

// RestoreFrom reconstructs in-memory state from a persisted checkpoint.
// Used by a manager resuming a harness after a crash (§4.7, scenario S7).
// A checkpoint taken mid-step still carries a "running" status; RestoreFrom
// normalizes that to "paused" since the run loop that owned it is gone, and
// the only legal way back into Running is through the resume transition.
func (h *Harness) RestoreFrom(state store.State) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if state.Plan != nil {
		p, err := restorePlan(state.Plan)
		if err != nil {
			return err
		}
		h.plan = p
	}

	h.status = Status(state.Status)
	if h.status == StatusRunning {
		// Nothing is actually executing this harness any more: the process
		// that took this checkpoint is gone. Treat it the same as a normal
		// pause so the next Run call re-enters through the resume leg of
		// beginOrResume instead of attempting an illegal Running->Running
		// transition.
		h.status = StatusPaused
	}
	h.createdAt = state.CreatedAt
	h.updatedAt = state.UpdatedAt
	h.lastCheckpointAt = state.LastCheckpointAt
	h.currentStepIndex = state.CurrentStepIndex
	h.checkpointCount = state.CheckpointCount
	h.agentLoopSnap = state.AgentLoopSnap

	h.subAgentIDs = append([]string(nil), state.SubAgentIDs...)
	h.subAgentResults = make(map[string]SubAgentResult, len(state.SubAgentResults))
	for id, r := range state.SubAgentResults {
		h.subAgentResults[id] = SubAgentResult{
			Output:         r.Output,
			Status:         Status(r.Status),
			StepsCompleted: r.StepsCompleted,
			TotalSteps:     r.TotalSteps,
			ToolCallCount:  r.ToolCallCount,
			DurationMs:     r.DurationMs,
		}
	}

	h.gates = make([]*gate.Gate, len(state.Gates))
	h.pendingGate = nil
	for i, gs := range state.Gates {
		g := &gate.Gate{
			ID:         gs.ID,
			StepID:     gs.StepID,
			Status:     gate.Status(gs.Status),
			CreatedAt:  gs.CreatedAt,
			ResolvedAt: gs.ResolvedAt,
			Reason:     gs.Reason,
		}
		h.gates[i] = g
		if g.Status == gate.StatusPending {
			h.pendingGate = g
			h.gateWake = make(chan struct{})
		}
	}

	history := make([]toolcall.Record, len(state.ToolCallHistory))
	for i, r := range state.ToolCallHistory {
		var rerr error
		if r.Error != "" {
			rerr = errors.New(r.Error)
		}
		history[i] = toolcall.Record{
			ToolID:     toolspec.Ident(r.ToolID),
			Arguments:  r.Arguments,
			Result:     r.Result,
			Err:        rerr,
			DurationMs: r.DurationMs,
			RetryCount: r.RetryCount,
			Rejected:   r.Rejected,
			Timestamp:  r.Timestamp,
		}
	}
	h.tools.RestoreHistory(history)

	if state.Err != "" {
		h.finalErr = errors.New(state.Err)
	}
	return nil
}

// restorePlan reconstructs a Plan from its persisted StepState list,
// re-running construction validation and then overlaying the persisted
// per-step status/output/error (readiness is not recomputed from scratch,
// since a persisted step may be in a status New's own defaulting would
// not otherwise produce, e.g. completed).
func restorePlan(ps *store.PlanState) (*plan.Plan, error) {
	specs := make([]plan.StepSpec, len(ps.Steps))
	for i, s := range ps.Steps {
		specs[i] = plan.StepSpec{
			ID:           s.ID,
			Description:  s.Description,
			AssignedName: s.AssignedName,
			Dependencies: s.Dependencies,
			Critical:     s.Critical,
		}
	}
	p, err := plan.New(specs)
	if err != nil {
		return nil, err
	}
	for _, s := range ps.Steps {
		step, ok := p.Step(s.ID)
		if !ok {
			continue
		}
		status := plan.StepStatus(s.Status)
		if status == plan.StepRunning {
			// Whatever dispatched this step is gone; its dependencies were
			// already satisfied when it was picked up, so it goes back to
			// StepReady rather than being replayed through dependency
			// evaluation.
			status = plan.StepReady
		}
		step.Status = status
		step.Output = s.Output
		if s.Error != "" {
			step.Err = errors.New(s.Error)
		}
	}
	p.CreatedAt = ps.CreatedAt
	return p, nil
}
