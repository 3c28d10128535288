// Package toolcall implements the tool-call manager: the bounded,
// retrying, budget- and permission-enforcing contract a harness uses to
// invoke tools on behalf of its inner agent executor.
//
// Modeled on goa-ai's runtime/toolregistry/executor package (the
// Execute contract shape; construction here takes an Options struct). The
// RetryReason/CapsState vocabulary retries and budget enforcement draw on
// was learned from goa-ai's generated agents/runtime/policy package before
// that generated tree was trimmed from this module (see DESIGN.md).
// Backoff pacing uses github.com/cenkalti/backoff/v4 configured to the
// deterministic baseBackoffMs*2^(i-1) schedule; an optional
// golang.org/x/time/rate limiter paces every transient retry.
package toolcall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/kestrel-systems/harness/internal/events"
	"github.com/kestrel-systems/harness/internal/telemetry"
	"github.com/kestrel-systems/harness/internal/toolspec"
)

// RetryReason mirrors the planner-facing retry vocabulary used to decide
// whether a failure is transient.
type RetryReason string

const (
	RetryReasonTimeout     RetryReason = "timeout"
	RetryReasonTransient   RetryReason = "transient"
	RetryReasonRateLimited RetryReason = "rate_limited"
)

var (
	// ErrPermissionDenied is returned when the calling agent is not in
	// the tool's permitted set.
	ErrPermissionDenied = errors.New("toolcall: permission denied")
	// ErrBudgetExceeded is returned when the harness has exhausted its
	// tool-call budget.
	ErrBudgetExceeded = errors.New("toolcall: budget exceeded")
)

// Call describes a single tool invocation request.
type Call struct {
	ToolID    toolspec.Ident
	Arguments map[string]any
}

// Record is the append-only audit entry for one tool call, successful,
// retried, or rejected.
type Record struct {
	ToolID     toolspec.Ident
	Arguments  map[string]any
	Result     any
	Err        error
	DurationMs int64
	RetryCount int
	Rejected   bool
	Timestamp  time.Time
}

// Options configures a Manager's budgets, timeouts, and retry schedule.
type Options struct {
	MaxTotalCalls int
	CallTimeout   time.Duration
	MaxRetries    int
	BaseBackoff   time.Duration
	// RateLimit, when set, is waited on before every transient retry's
	// backoff delay. Nil disables rate pacing.
	RateLimit *rate.Limiter
}

// DefaultOptions returns the manager defaults from the tool-call
// contract: 100 call budget, 30s per-attempt timeout, 3 retries, 1s base
// backoff.
func DefaultOptions() Options {
	return Options{
		MaxTotalCalls: 100,
		CallTimeout:   30 * time.Second,
		MaxRetries:    3,
		BaseBackoff:   time.Second,
	}
}

// Manager executes tool calls for a single harness. It is not
// concurrency-safe across harnesses; each harness owns its own instance,
// matching the single-threaded inner-agent assumption in the contract
// this type implements.
type Manager struct {
	opts     Options
	registry *toolspec.Registry
	bus      events.Bus
	logger   telemetry.Logger

	harnessID string
	history   []Record
	total     int
}

// New constructs a Manager bound to a specific harness id and registry.
func New(harnessID string, registry *toolspec.Registry, bus events.Bus, logger telemetry.Logger, opts Options) *Manager {
	if opts.MaxTotalCalls <= 0 {
		opts.MaxTotalCalls = DefaultOptions().MaxTotalCalls
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultOptions().CallTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultOptions().MaxRetries
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultOptions().BaseBackoff
	}
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Manager{opts: opts, registry: registry, bus: bus, logger: logger, harnessID: harnessID}
}

// History returns every recorded call (executed and rejected) in order.
func (m *Manager) History() []Record {
	return append([]Record(nil), m.history...)
}

// TotalCalls is the monotonic count of executed calls used against
// MaxTotalCalls; rejected calls and calls that fail argument validation
// are not counted.
func (m *Manager) TotalCalls() int {
	return m.total
}

// RestoreHistory reinstates a manager's call history and budget-consumption
// count from a checkpoint, so budget enforcement resumes exactly where it
// left off. Rejected calls never consumed budget, so they are excluded
// from the restored total.
func (m *Manager) RestoreHistory(history []Record) {
	m.history = append([]Record(nil), history...)
	total := 0
	for _, r := range history {
		if !r.Rejected {
			total++
		}
	}
	m.total = total
}

// Execute runs call on behalf of agentName, enforcing permission, budget,
// timeout, and retry semantics, then records and emits a tool_call event
// for the outcome.
func (m *Manager) Execute(ctx context.Context, call Call, agentName string) (any, error) {
	if !m.registry.Permitted(call.ToolID, agentName) {
		m.reject(call, events.ErrorKindPermission, ErrPermissionDenied)
		return nil, ErrPermissionDenied
	}
	if m.total >= m.opts.MaxTotalCalls {
		m.reject(call, events.ErrorKindBudget, ErrBudgetExceeded)
		return nil, ErrBudgetExceeded
	}

	spec, tool, ok := m.registry.Lookup(call.ToolID)
	if !ok {
		m.reject(call, events.ErrorKindNonTransient, fmt.Errorf("toolcall: unknown tool %q", call.ToolID))
		return nil, fmt.Errorf("toolcall: unknown tool %q", call.ToolID)
	}
	if err := spec.ValidateArguments(call.Arguments); err != nil {
		m.recordFailure(call, err, 0, events.ErrorKindNonTransient, 0)
		return nil, err
	}

	start := time.Now()
	result, attempts, err := m.executeWithRetry(ctx, tool, call)
	duration := time.Since(start)

	m.total++
	if err != nil {
		kind := classifyFinal(tool, err)
		m.recordFailure(call, err, attempts, kind, duration.Milliseconds())
		return nil, err
	}

	m.history = append(m.history, Record{
		ToolID:     call.ToolID,
		Arguments:  call.Arguments,
		Result:     result,
		RetryCount: attempts,
		DurationMs: duration.Milliseconds(),
		Timestamp:  start,
	})
	m.emit(call.ToolID, duration, true, attempts, "")
	return result, nil
}

// executeWithRetry retries transient failures on the deterministic
// baseBackoffMs*2^(i-1) schedule (RandomizationFactor 0 so tests can
// assert exact delays), stopping at MaxRetries attempts past the first.
func (m *Manager) executeWithRetry(ctx context.Context, tool toolspec.Tool, call Call) (any, int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.BaseBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // bounded by MaxRetries, not elapsed wall time
	b.Reset()            // start the schedule from BaseBackoff, not the library default

	var (
		result   any
		attempts int
		lastErr  error
	)
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
		res, err := tool.Invoke(attemptCtx, call.Arguments)
		cancel()

		if err == nil {
			return res, attempts, nil
		}
		lastErr = err
		result = res

		class := tool.Classify(err)
		if class != toolspec.ClassTransient || attempts >= m.opts.MaxRetries {
			return result, attempts, lastErr
		}
		if m.opts.RateLimit != nil {
			if werr := m.opts.RateLimit.Wait(ctx); werr != nil {
				return result, attempts, werr
			}
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return result, attempts, lastErr
		}
		select {
		case <-ctx.Done():
			return result, attempts, ctx.Err()
		case <-time.After(delay):
		}
		attempts++
	}
}

func classifyFinal(tool toolspec.Tool, err error) events.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return events.ErrorKindTimeout
	}
	if tool.Classify(err) == toolspec.ClassTransient {
		return events.ErrorKindTransient
	}
	return events.ErrorKindNonTransient
}

func (m *Manager) reject(call Call, kind events.ErrorKind, err error) {
	m.history = append(m.history, Record{
		ToolID:    call.ToolID,
		Arguments: call.Arguments,
		Err:       err,
		Rejected:  true,
		Timestamp: time.Now(),
	})
	m.emit(call.ToolID, 0, false, 0, kind)
}

func (m *Manager) recordFailure(call Call, err error, retries int, kind events.ErrorKind, durationMs int64) {
	m.history = append(m.history, Record{
		ToolID:     call.ToolID,
		Arguments:  call.Arguments,
		Err:        err,
		RetryCount: retries,
		DurationMs: durationMs,
		Timestamp:  time.Now(),
	})
	m.emit(call.ToolID, time.Duration(durationMs)*time.Millisecond, false, retries, kind)
}

func (m *Manager) emit(toolID toolspec.Ident, duration time.Duration, success bool, retries int, kind events.ErrorKind) {
	if m.bus == nil {
		return
	}
	evt := events.NewToolCallEvent(m.harnessID, string(toolID), duration, success, retries, kind)
	if err := m.bus.Publish(context.Background(), evt); err != nil {
		m.logger.Warn(context.Background(), "tool_call event publish failed", "error", err)
	}
}
