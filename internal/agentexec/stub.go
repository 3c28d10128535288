package agentexec

import "context"

// Stub is a minimal Executor that returns its input as output without
// calling any tools. It is modeled on goa-ai's stubPlanner
// (cmd/demo/main.go) and is used by harness tests and the cmd/harnessd
// demonstration CLI when no real inner agent is configured.
type Stub struct {
	// Result, when non-nil, overrides the default echo-input behavior.
	Result any
}

// Run implements Executor.
func (s Stub) Run(ctx context.Context, prompt PromptContext, exec ToolExecutor, resumeSnapshot []byte) (Output, []byte, error) {
	if s.Result != nil {
		return Output{Result: s.Result}, nil, nil
	}
	return Output{Result: prompt.Input}, nil, nil
}
