// Package gate implements the human-in-loop gate: the autonomy-level
// rule table that decides where step dispatch must pause for human
// approval, and the one-shot Gate record itself.
//
// Modeled on goa-ai's runtime/agent/interrupt.Controller (the
// pause/resume/signal vocabulary a gate blocks on) and
// runtime/agent/runtime/confirmation.go (the approve/deny shape).
package gate

import (
	"errors"
	"fmt"
	"time"
)

// Status is the tagged status of a gate.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ErrAlreadyResolved is returned by Approve/Reject on a gate that has
// already been resolved; gates are one-shot and cannot be reopened.
var ErrAlreadyResolved = errors.New("gate: already resolved")

// Gate is a single human-in-loop checkpoint attached to a plan step.
type Gate struct {
	ID         string
	StepID     string
	Status     Status
	CreatedAt  time.Time
	ResolvedAt time.Time
	Reason     string // populated on rejection
}

// New creates a pending gate for stepID.
func New(id, stepID string) *Gate {
	return &Gate{ID: id, StepID: stepID, Status: StatusPending, CreatedAt: time.Now()}
}

// Approve resolves the gate as approved and returns how long it waited.
func (g *Gate) Approve() (time.Duration, error) {
	if g.Status != StatusPending {
		return 0, fmt.Errorf("%w: gate %s", ErrAlreadyResolved, g.ID)
	}
	g.ResolvedAt = time.Now()
	g.Status = StatusApproved
	return g.ResolvedAt.Sub(g.CreatedAt), nil
}

// Reject resolves the gate as rejected with reason and returns how long
// it waited.
func (g *Gate) Reject(reason string) (time.Duration, error) {
	if g.Status != StatusPending {
		return 0, fmt.Errorf("%w: gate %s", ErrAlreadyResolved, g.ID)
	}
	g.ResolvedAt = time.Now()
	g.Status = StatusRejected
	g.Reason = reason
	return g.ResolvedAt.Sub(g.CreatedAt), nil
}

// ShouldGate applies the autonomy-level placement rule: levels 1 and 2
// gate every step, level 3 gates only critical steps, levels 4 and 5
// never gate.
func ShouldGate(autonomyLevel int, critical bool) bool {
	switch {
	case autonomyLevel <= 2:
		return true
	case autonomyLevel == 3:
		return critical
	default:
		return false
	}
}
