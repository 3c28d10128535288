package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kestrel-systems/harness/internal/agentexec"
	"github.com/kestrel-systems/harness/internal/engine"
	"github.com/kestrel-systems/harness/internal/events"
	"github.com/kestrel-systems/harness/internal/gate"
	"github.com/kestrel-systems/harness/internal/plan"
	"github.com/kestrel-systems/harness/internal/toolcall"
	"github.com/kestrel-systems/harness/internal/toolspec"
)

// controlSignal is the tagged union of the external requests the
// dispatcher observes at safe points between steps (§5 cancellation
// policy: dispatcher checks between steps, retries, and checkpoints).
type controlSignal string

const (
	signalNone  controlSignal = ""
	signalPause controlSignal = "pause"
	signalStop  controlSignal = "stop"
)

// Run is the harness's engine.WorkflowFunc entry point. The dispatcher
// code is identical whether wctx is backed by the in-memory adapter or
// the Temporal adapter; pause/stop are delivered uniformly over
// wctx.SignalChannel, and a gate suspension blocks on a plain channel
// internal to the harness.
func (h *Harness) Run(wctx engine.WorkflowContext, input any) (any, error) {
	ctx := context.Background()
	if wctx != nil {
		ctx = wctx.Context()
	}

	if err := h.beginOrResume(); err != nil {
		return nil, err
	}
	h.checkpoint(ctx)

	for {
		switch h.pollControl(wctx) {
		case signalStop:
			return h.stopNow(ctx), nil
		case signalPause:
			return h.pauseNow(ctx), nil
		}
		h.maybePeriodicCheckpoint(ctx)

		step, ok := h.nextReadyStep()
		if !ok {
			break
		}

		suspend, ctrl, err := h.dispatchStep(ctx, wctx, step)
		switch ctrl {
		case signalStop:
			return h.stopNow(ctx), nil
		case signalPause:
			return h.pauseNow(ctx), nil
		}
		if err != nil {
			return h.resultSnapshot(), err
		}
		if suspend {
			return h.resultSnapshot(), nil
		}
		h.checkpoint(ctx)

		switch h.pollControl(wctx) {
		case signalStop:
			return h.stopNow(ctx), nil
		case signalPause:
			return h.pauseNow(ctx), nil
		}
	}

	return h.finishPlan(ctx)
}

// beginOrResume transitions into running, constructing the plan on first
// entry only (§3: the plan is created once per harness, never recreated
// on resume).
func (h *Harness) beginOrResume() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.plan != nil {
		return h.setStatus(StatusRunning)
	}

	if err := h.setStatus(StatusRunning); err != nil {
		return err
	}
	specs, err := h.planBuilder(h.taskID)
	if err != nil {
		h.finalErr = fmt.Errorf("%w: %v", ErrPlanConstructionFailed, err)
		_ = h.setStatus(StatusFailed)
		return h.finalErr
	}
	p, err := plan.New(specs)
	if err != nil {
		h.finalErr = err
		_ = h.setStatus(StatusFailed)
		return err
	}
	h.plan = p
	return nil
}

func (h *Harness) pollControl(wctx engine.WorkflowContext) controlSignal {
	if wctx == nil {
		return signalNone
	}
	var payload any
	if wctx.SignalChannel(engine.SignalStop).ReceiveAsync(&payload) {
		return signalStop
	}
	if wctx.SignalChannel(engine.SignalPause).ReceiveAsync(&payload) {
		return signalPause
	}
	return signalNone
}

// maybePeriodicCheckpoint fires the periodic checkpoint trigger (default
// 5 minutes) alongside the per-transition triggers already covered at
// each call site in the dispatch loop (§4.1 checkpoint scheduling).
func (h *Harness) maybePeriodicCheckpoint(ctx context.Context) {
	h.mu.Lock()
	due := h.lastCheckpointAt == nil || time.Since(*h.lastCheckpointAt) >= h.checkpointInt
	h.mu.Unlock()
	if due {
		h.checkpoint(ctx)
	}
}

func (h *Harness) nextReadyStep() (*plan.Step, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ready := h.plan.Ready()
	if len(ready) == 0 {
		return nil, false
	}
	return ready[0], true
}

// dispatchStep runs the step-dispatch algorithm (§4.1): gate insertion,
// then local or sub-agent execution. suspend is true when a gate is still
// pending and the harness must stay paused awaiting external action; ctrl
// is non-empty when a stop/pause control signal arrived while parked at a
// gate (§5: stop must take effect even while suspended on a gate).
func (h *Harness) dispatchStep(ctx context.Context, wctx engine.WorkflowContext, step *plan.Step) (suspend bool, ctrl controlSignal, err error) {
	proceed, ctrl, err := h.maybeGate(ctx, wctx, step)
	if err != nil {
		return false, signalNone, err
	}
	if ctrl != signalNone {
		return false, ctrl, nil
	}
	if !proceed {
		return true, signalNone, nil
	}

	h.mu.Lock()
	step.Status = plan.StepRunning
	h.mu.Unlock()

	if step.AssignedName == "" || step.AssignedName == h.agentName {
		return false, signalNone, h.runLocalStep(ctx, step)
	}
	return false, signalNone, h.runSubAgentStep(ctx, step)
}

// maybeGate applies the autonomy-level gate-placement rule. A step whose
// gate was already resolved in an earlier pass — approved or rejected —
// is never re-gated (§4.4: gates are one-shot); resuming past a rejected
// gate lets the step proceed rather than re-suspending forever, matching
// "subsequent resume reuses normal semantics". A step whose gate is still
// pending (resumed from a checkpoint taken mid-wait) reuses that same
// gate instead of minting a second one.
func (h *Harness) maybeGate(ctx context.Context, wctx engine.WorkflowContext, step *plan.Step) (proceed bool, ctrl controlSignal, err error) {
	h.mu.Lock()
	if !gate.ShouldGate(h.autonomyLevel, step.Critical) {
		h.mu.Unlock()
		return true, signalNone, nil
	}

	var g *gate.Gate
	for _, existing := range h.gates {
		if existing.StepID == step.ID {
			g = existing
			break
		}
	}
	if g != nil && g.Status != gate.StatusPending {
		h.mu.Unlock()
		return true, signalNone, nil
	}
	if g == nil {
		g = gate.New(h.idGen(), step.ID)
		h.gates = append(h.gates, g)
	}
	h.pendingGate = g
	h.gateWake = make(chan struct{})
	if err := h.setStatus(StatusPaused); err != nil {
		h.mu.Unlock()
		return false, signalNone, err
	}
	h.mu.Unlock()

	h.publish(events.NewHumanGateEvent(h.id, g.ID, step.ID, events.GateActionWaiting, 0))
	h.checkpoint(ctx)

	switch h.waitForGate(ctx, wctx, g) {
	case gateWaitStop:
		return false, signalStop, nil
	case gateWaitPause:
		return false, signalPause, nil
	case gateWaitCanceled:
		return false, signalNone, nil
	case gateWaitRejected:
		h.mu.Lock()
		if h.pendingGate == g {
			h.pendingGate = nil
		}
		h.mu.Unlock()
		return false, signalNone, nil
	}

	h.mu.Lock()
	if err := h.setStatus(StatusRunning); err != nil {
		h.mu.Unlock()
		return false, signalNone, err
	}
	h.pendingGate = nil
	h.mu.Unlock()
	return true, signalNone, nil
}

// gateWaitResult is the outcome of parking at a gate: resolved by a
// human decision, interrupted by a control signal, or abandoned because
// the harness's context was canceled out from under it.
type gateWaitResult int

const (
	gateWaitApproved gateWaitResult = iota
	gateWaitRejected
	gateWaitStop
	gateWaitPause
	gateWaitCanceled
)

// waitForGate blocks until g is resolved or a stop/pause signal arrives.
// pollControl only runs between steps in Run's own loop, which a blocked
// gate wait never reaches, so stop/pause must be observed here directly
// or a harness parked at a live gate could never be stopped (§4.1, §5).
func (h *Harness) waitForGate(ctx context.Context, wctx engine.WorkflowContext, g *gate.Gate) gateWaitResult {
	h.mu.Lock()
	wake := h.gateWake
	h.mu.Unlock()

	if wctx == nil {
		select {
		case <-wake:
			return h.resolvedGateResult(g)
		case <-ctx.Done():
			return gateWaitCanceled
		}
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := make(chan controlSignal, 2)
	go func() {
		var payload any
		if wctx.SignalChannel(engine.SignalStop).Receive(waitCtx, &payload) == nil {
			sig <- signalStop
		}
	}()
	go func() {
		var payload any
		if wctx.SignalChannel(engine.SignalPause).Receive(waitCtx, &payload) == nil {
			sig <- signalPause
		}
	}()

	select {
	case <-wake:
		return h.resolvedGateResult(g)
	case s := <-sig:
		if s == signalStop {
			return gateWaitStop
		}
		return gateWaitPause
	case <-ctx.Done():
		return gateWaitCanceled
	}
}

func (h *Harness) resolvedGateResult(g *gate.Gate) gateWaitResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	if g.Status == gate.StatusApproved {
		return gateWaitApproved
	}
	return gateWaitRejected
}

// ApproveGate resolves the currently pending gate as approved and wakes
// the blocked dispatcher.
func (h *Harness) ApproveGate() (time.Duration, error) {
	h.mu.Lock()
	g := h.pendingGate
	if g == nil {
		h.mu.Unlock()
		return 0, errors.New("harness: no pending gate")
	}
	wait, err := g.Approve()
	wake := h.gateWake
	h.mu.Unlock()
	if err != nil {
		return 0, err
	}
	h.publish(events.NewHumanGateEvent(h.id, g.ID, g.StepID, events.GateActionApproved, wait))
	close(wake)
	return wait, nil
}

// RejectGate resolves the currently pending gate as rejected with reason
// and wakes the blocked dispatcher; the harness remains paused (§4.4).
func (h *Harness) RejectGate(reason string) (time.Duration, error) {
	h.mu.Lock()
	g := h.pendingGate
	if g == nil {
		h.mu.Unlock()
		return 0, errors.New("harness: no pending gate")
	}
	wait, err := g.Reject(reason)
	wake := h.gateWake
	h.mu.Unlock()
	if err != nil {
		return 0, err
	}
	h.publish(events.NewHumanGateEvent(h.id, g.ID, g.StepID, events.GateActionRejected, wait))
	close(wake)
	return wait, nil
}

func (h *Harness) toolExecutorFor(agentName string) agentexec.ToolExecutor {
	return func(ctx context.Context, toolName string, args any, _ time.Duration) (any, error) {
		argMap, _ := args.(map[string]any)
		return h.tools.Execute(ctx, toolcall.Call{ToolID: toolspec.Ident(toolName), Arguments: argMap}, agentName)
	}
}

func (h *Harness) runLocalStep(ctx context.Context, step *plan.Step) error {
	h.mu.Lock()
	exec := h.executor
	agentName := h.agentName
	snapshot := h.agentLoopSnap
	var failureCtx string
	if h.currentStepIndex == 0 {
		failureCtx = h.initialFailureCtx
	}
	h.mu.Unlock()

	if exec == nil {
		h.failStep(step.ID, errors.New("harness: no executor configured"))
		return nil
	}

	out, newSnapshot, err := exec.Run(ctx, agentexec.PromptContext{
		HarnessID:      h.id,
		AgentName:      agentName,
		TaskID:         h.taskID,
		StepID:         step.ID,
		Input:          step.Description,
		FailureContext: failureCtx,
	}, h.toolExecutorFor(agentName), snapshot)

	h.mu.Lock()
	h.agentLoopSnap = newSnapshot
	h.mu.Unlock()

	if err != nil {
		h.failStep(step.ID, fmt.Errorf("%w: %v", ErrUnrecoverableAgentError, err))
		return nil
	}
	h.completeStep(step.ID, out.Result)
	return nil
}

// runSubAgentStep delegates step to a different agent via the configured
// spawner, retrying exactly once on failure with the prior error folded
// into the retry's context (§4.6).
func (h *Harness) runSubAgentStep(ctx context.Context, step *plan.Step) error {
	h.mu.Lock()
	spawner := h.spawner
	depth := h.depth
	h.mu.Unlock()

	if spawner == nil {
		h.failStep(step.ID, errors.New("harness: no sub-agent spawner configured"))
		return nil
	}

	var failureCtx string
	for attempt := 0; ; attempt++ {
		handle, err := spawner.Spawn(ctx, SpawnRequest{
			ParentHarnessID: h.id,
			ParentDepth:     depth,
			AgentName:       step.AssignedName,
			TaskID:          h.taskID,
			StepID:          step.ID,
			Input:           step.Description,
			FailureContext:  failureCtx,
		})
		if err != nil {
			h.failStep(step.ID, err)
			return nil
		}

		h.mu.Lock()
		h.subAgentIDs = append(h.subAgentIDs, handle.ID())
		h.mu.Unlock()
		h.publish(events.NewSubAgentEvent(h.id, handle.ID(), events.SubAgentSpawned))

		res, werr := handle.Wait(ctx)
		if werr != nil {
			h.failStep(step.ID, werr)
			return nil
		}

		h.mu.Lock()
		h.subAgentResults[res.HarnessID] = res
		h.mu.Unlock()

		if res.Status == StatusCompleted && res.Err == nil {
			h.publish(events.NewSubAgentEvent(h.id, res.HarnessID, events.SubAgentCompleted))
			h.completeStep(step.ID, res.Output)
			return nil
		}

		h.publish(events.NewSubAgentEvent(h.id, res.HarnessID, events.SubAgentFailed))
		if attempt >= 1 {
			h.failStep(step.ID, res.Err)
			return nil
		}
		h.mu.Lock()
		h.stepFailures[step.ID]++
		h.mu.Unlock()
		failureCtx = fmt.Sprintf("previous attempt failed: %v", res.Err)
	}
}

func (h *Harness) completeStep(stepID string, output any) {
	h.mu.Lock()
	h.plan.MarkCompleted(stepID, output)
	h.currentStepIndex++
	h.mu.Unlock()
}

func (h *Harness) failStep(stepID string, err error) {
	h.mu.Lock()
	h.plan.MarkFailed(stepID, err)
	h.currentStepIndex++
	h.mu.Unlock()
	h.publish(events.NewStepFailedEvent(h.id, stepID, err))
}

// finishPlan is reached when no step is ready to dispatch: either every
// step completed, or a failure has blocked the remainder (§4.3).
func (h *Harness) finishPlan(ctx context.Context) (any, error) {
	h.mu.Lock()
	complete := h.plan.Complete()
	failed := h.plan.Failed()
	h.mu.Unlock()

	if complete {
		h.mu.Lock()
		err := h.setStatus(StatusCompleted)
		h.mu.Unlock()
		if err != nil {
			return h.resultSnapshot(), err
		}
		h.publish(events.NewPlanCompletedEvent(h.id))
		h.checkpoint(ctx)
		return h.resultSnapshot(), nil
	}

	if failed {
		h.mu.Lock()
		if h.finalErr == nil {
			h.finalErr = h.firstFailureReasonLocked()
		}
		ferr := h.finalErr
		err := h.setStatus(StatusFailed)
		h.mu.Unlock()
		h.checkpoint(ctx)
		if err != nil {
			return h.resultSnapshot(), err
		}
		return h.resultSnapshot(), ferr
	}

	return h.resultSnapshot(), nil
}

// firstFailureReasonLocked returns the error of the first failed step in
// plan order (ties broken by plan step-list order, §4.3). Callers must
// hold h.mu.
func (h *Harness) firstFailureReasonLocked() error {
	for _, s := range h.plan.Steps {
		if s.Status == plan.StepFailed {
			return s.Err
		}
	}
	return ErrUnrecoverableAgentError
}

func (h *Harness) pauseNow(ctx context.Context) any {
	h.mu.Lock()
	_ = h.setStatus(StatusPaused)
	h.mu.Unlock()
	h.checkpoint(ctx)
	return h.resultSnapshot()
}

func (h *Harness) stopNow(ctx context.Context) any {
	h.mu.Lock()
	complete := h.plan != nil && h.plan.Complete()
	h.mu.Unlock()

	if complete {
		h.mu.Lock()
		_ = h.setStatus(StatusCompleted)
		h.mu.Unlock()
		h.publish(events.NewPlanCompletedEvent(h.id))
	} else {
		h.mu.Lock()
		h.finalErr = errors.New("stopped")
		_ = h.setStatus(StatusFailed)
		h.mu.Unlock()
	}
	h.checkpoint(ctx)
	return h.resultSnapshot()
}

// resultSnapshot builds the terminal result record (§6). The reported
// Output is the last step to reach completed in plan order, standing in
// for "the" harness output absent a designated final step.
func (h *Harness) resultSnapshot() Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	var output any
	stepsCompleted, total := 0, 0
	if h.plan != nil {
		total = len(h.plan.Steps)
		for _, s := range h.plan.Steps {
			if s.Status == plan.StepCompleted {
				stepsCompleted++
				output = s.Output
			}
		}
	}
	return Result{
		Output:         output,
		Status:         h.status,
		StepsCompleted: stepsCompleted,
		TotalSteps:     total,
		ToolCallCount:  len(h.tools.History()),
		DurationMs:     time.Since(h.createdAt).Milliseconds(),
	}
}
