// Package plan implements the execution plan: a dependency-ordered DAG of
// steps with readiness evaluation, transitive failure propagation, and
// completion detection.
//
// A Plan holds its Steps in an arena (a slice, append-only after
// construction) and keeps an id-to-index map alongside it, so lookups by
// step id never walk the slice and step order is still the plan's
// iteration and dispatch order.
package plan

import (
	"errors"
	"fmt"
	"time"
)

// StepStatus is the tagged status of a single plan step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepReady     StepStatus = "ready"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepBlocked   StepStatus = "blocked"
)

// Valid reports whether s is one of the known step statuses.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepReady, StepRunning, StepCompleted, StepFailed, StepBlocked:
		return true
	default:
		return false
	}
}

// ErrPlanConstructionFailed is returned by New when the requested steps
// would violate a plan invariant (duplicate id, dangling dependency,
// cyclic dependency).
var ErrPlanConstructionFailed = errors.New("plan construction failed")

// StepSpec describes a step to add to a plan under construction.
type StepSpec struct {
	ID           string
	Description  string
	AssignedName string
	Dependencies []string
	Critical     bool
}

// Step is one node of the plan DAG.
type Step struct {
	ID           string
	Description  string
	AssignedName string
	Dependencies []string
	Critical     bool
	Status       StepStatus
	Output       any
	Err          error
}

// Plan is an ordered, append-only arena of Steps plus an id index.
type Plan struct {
	CreatedAt time.Time
	Steps     []*Step
	index     map[string]int
}

// New validates specs against the plan invariants (unique ids, resolvable
// dependencies, acyclic graph) and constructs a Plan with every step
// initialized to pending, except steps with no dependencies which start
// ready.
func New(specs []StepSpec) (*Plan, error) {
	index := make(map[string]int, len(specs))
	for i, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("%w: step %d has empty id", ErrPlanConstructionFailed, i)
		}
		if _, dup := index[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate step id %q", ErrPlanConstructionFailed, s.ID)
		}
		if s.Description == "" {
			return nil, fmt.Errorf("%w: step %q has empty description", ErrPlanConstructionFailed, s.ID)
		}
		index[s.ID] = i
	}
	for _, s := range specs {
		for _, dep := range s.Dependencies {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("%w: step %q depends on unknown step %q", ErrPlanConstructionFailed, s.ID, dep)
			}
		}
	}
	if cycle := findCycle(specs, index); cycle != "" {
		return nil, fmt.Errorf("%w: dependency cycle through step %q", ErrPlanConstructionFailed, cycle)
	}

	steps := make([]*Step, len(specs))
	for i, s := range specs {
		status := StepPending
		if len(s.Dependencies) == 0 {
			status = StepReady
		}
		steps[i] = &Step{
			ID:           s.ID,
			Description:  s.Description,
			AssignedName: s.AssignedName,
			Dependencies: append([]string(nil), s.Dependencies...),
			Critical:     s.Critical,
			Status:       status,
		}
	}
	return &Plan{CreatedAt: time.Now(), Steps: steps, index: index}, nil
}

func findCycle(specs []StepSpec, index map[string]int) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(specs))
	var visit func(i int) string
	visit = func(i int) string {
		color[i] = gray
		for _, dep := range specs[i].Dependencies {
			j := index[dep]
			switch color[j] {
			case gray:
				return specs[j].ID
			case white:
				if c := visit(j); c != "" {
					return c
				}
			}
		}
		color[i] = black
		return ""
	}
	for i := range specs {
		if color[i] == white {
			if c := visit(i); c != "" {
				return c
			}
		}
	}
	return ""
}

// Step looks up a step by id in O(1).
func (p *Plan) Step(id string) (*Step, bool) {
	i, ok := p.index[id]
	if !ok {
		return nil, false
	}
	return p.Steps[i], true
}

// Dependents returns the steps that directly depend on id, in plan order.
func (p *Plan) Dependents(id string) []*Step {
	var out []*Step
	for _, s := range p.Steps {
		for _, dep := range s.Dependencies {
			if dep == id {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// Ready returns the steps currently in StepReady status, in plan order —
// this is also their dispatch order when multiple steps become ready at
// once.
func (p *Plan) Ready() []*Step {
	var out []*Step
	for _, s := range p.Steps {
		if s.Status == StepReady {
			out = append(out, s)
		}
	}
	return out
}

// Complete reports whether every step has reached StepCompleted.
func (p *Plan) Complete() bool {
	for _, s := range p.Steps {
		if s.Status != StepCompleted {
			return false
		}
	}
	return true
}

// Failed reports whether the plan contains a failed or blocked leaf,
// meaning it can never reach completion.
func (p *Plan) Failed() bool {
	for _, s := range p.Steps {
		if s.Status == StepFailed || s.Status == StepBlocked {
			return true
		}
	}
	return false
}

// MarkCompleted transitions a step to completed, records its output, and
// returns the steps newly made ready by the transition (apart from New,
// which readies steps with no dependencies, this readiness evaluation is
// the only path to StepReady).
func (p *Plan) MarkCompleted(id string, output any) []*Step {
	s, ok := p.Step(id)
	if !ok {
		return nil
	}
	s.Status = StepCompleted
	s.Output = output

	var newlyReady []*Step
	for _, dep := range p.Dependents(id) {
		if dep.Status != StepPending {
			continue
		}
		if p.allDependenciesCompleted(dep) {
			dep.Status = StepReady
			newlyReady = append(newlyReady, dep)
		}
	}
	return newlyReady
}

func (p *Plan) allDependenciesCompleted(s *Step) bool {
	for _, dep := range s.Dependencies {
		d, ok := p.Step(dep)
		if !ok || d.Status != StepCompleted {
			return false
		}
	}
	return true
}

// MarkFailed transitions a step to failed, records its error, and
// transitively marks every dependent step blocked in one topological
// pass. It returns the ids of every step newly marked blocked.
func (p *Plan) MarkFailed(id string, err error) []string {
	s, ok := p.Step(id)
	if !ok {
		return nil
	}
	s.Status = StepFailed
	s.Err = err

	var blocked []string
	queue := []string{id}
	seen := map[string]bool{id: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range p.Dependents(cur) {
			if seen[dep.ID] {
				continue
			}
			seen[dep.ID] = true
			if dep.Status == StepCompleted || dep.Status == StepFailed {
				continue
			}
			dep.Status = StepBlocked
			blocked = append(blocked, dep.ID)
			queue = append(queue, dep.ID)
		}
	}
	return blocked
}
