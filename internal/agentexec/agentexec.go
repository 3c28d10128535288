// Package agentexec defines the boundary between a harness and the inner
// agent loop it wraps. The harness drives lifecycle, planning, and tool
// policy; agentexec.Executor is the opaque callable that actually decides
// what to do for a single step.
//
// Modeled on goa-ai's planner.Planner contract (PlanStart/PlanResume)
// and engine.WorkflowFunc: a callable taking an opaque snapshot in and
// returning a new opaque snapshot out, so the step dispatcher never needs
// to understand the inner loop's own state.
package agentexec

import (
	"context"
	"time"
)

type (
	// PromptContext is everything a step dispatch hands the inner agent
	// executor: which harness and step this is, the step's input, and,
	// on a sub-agent retry, the prior failure's error text (§4.6).
	PromptContext struct {
		HarnessID      string
		AgentName      string
		TaskID         string
		StepID         string
		Input          any
		FailureContext string
	}

	// Output is the inner agent executor's result for one step.
	Output struct {
		Result any
	}

	// ToolExecutor is the function a harness wires to its
	// toolcall.Manager so every tool invocation the inner executor makes
	// passes through permission/retry/budget policy uniformly.
	ToolExecutor func(ctx context.Context, toolName string, args any, timeout time.Duration) (any, error)

	// Executor is the inner agent loop boundary. Implementations may be
	// a single LM call, a multi-turn planner, or a deterministic stub;
	// the harness only depends on this contract.
	//
	// Run must honor ctx cancellation promptly where the inner loop can;
	// a blocking operation that cannot be interrupted is allowed to run
	// to completion (§5 cancellation policy) and its result is still
	// reported.
	Executor interface {
		Run(ctx context.Context, prompt PromptContext, exec ToolExecutor, resumeSnapshot []byte) (Output, []byte, error)
	}
)
