package plan

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// dagCase is a randomly generated acyclic step graph: step i may only
// depend on steps with a lower index, so construction is acyclic by
// definition regardless of which dependency bits are set.
type dagCase struct {
	specs []StepSpec
}

func genDAGCase() gopter.Gen {
	return gen.IntRange(1, 7).FlatMap(func(nAny any) gopter.Gen {
		n := nAny.(int)
		pairCount := n * (n - 1) / 2
		return gen.SliceOfN(pairCount, gen.Bool()).Map(func(flags []bool) dagCase {
			depsFor := make([][]string, n)
			idx := 0
			for i := 0; i < n; i++ {
				for j := 0; j < i; j++ {
					if flags[idx] {
						depsFor[i] = append(depsFor[i], fmt.Sprintf("s%d", j))
					}
					idx++
				}
			}
			specs := make([]StepSpec, n)
			for i := 0; i < n; i++ {
				specs[i] = StepSpec{ID: fmt.Sprintf("s%d", i), Description: "step", Dependencies: depsFor[i]}
			}
			return dagCase{specs: specs}
		})
	}, reflect.TypeOf(dagCase{}))
}

// TestReadinessNeverPrecedesDependencyCompletion verifies that at every
// point during a plan's execution, a step is only ever in StepReady once
// every one of its dependencies has reached StepCompleted, and that a
// correctly built DAG can always be driven to full completion by
// repeatedly completing whichever step is ready.
func TestReadinessNeverPrecedesDependencyCompletion(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ready steps always have every dependency completed", prop.ForAll(
		func(tc dagCase) bool {
			p, err := New(tc.specs)
			if err != nil {
				return false
			}

			completed := 0
			for completed < len(tc.specs) {
				ready := p.Ready()
				if len(ready) == 0 {
					// A well-formed acyclic DAG always has at least one
					// ready step until every step is completed.
					return false
				}
				for _, s := range ready {
					for _, depID := range s.Dependencies {
						dep, ok := p.Step(depID)
						if !ok || dep.Status != StepCompleted {
							return false
						}
					}
				}
				p.MarkCompleted(ready[0].ID, nil)
				completed++
			}
			return p.Complete()
		},
		genDAGCase(),
	))

	properties.TestingRun(t)
}

// TestFailurePropagatesToEveryTransitiveDependent verifies that failing a
// step blocks every step reachable from it through the dependency graph,
// and never touches a step outside that reachable set.
func TestFailurePropagatesToEveryTransitiveDependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("MarkFailed blocks exactly the transitive dependents", prop.ForAll(
		func(tc dagCase) bool {
			p, err := New(tc.specs)
			if err != nil {
				return false
			}

			failIdx := len(tc.specs) / 2
			failID := tc.specs[failIdx].ID
			reachable := transitiveDependents(tc.specs, failID)

			p.MarkFailed(failID, fmt.Errorf("boom"))

			for _, s := range p.Steps {
				if s.ID == failID {
					if s.Status != StepFailed {
						return false
					}
					continue
				}
				if reachable[s.ID] {
					if s.Status != StepBlocked {
						return false
					}
				} else if s.Status == StepBlocked {
					return false
				}
			}
			return true
		},
		genDAGCase(),
	))

	properties.TestingRun(t)
}

// transitiveDependents computes, by brute-force graph walk over the
// original specs, every step reachable from id by following "depends on"
// edges backward (i.e. every step that depends on id, directly or
// transitively) — the reference answer dependency_property_test.go checks
// Plan.MarkFailed's blocked-propagation against.
func transitiveDependents(specs []StepSpec, id string) map[string]bool {
	reachable := make(map[string]bool)
	var visit func(string)
	visit = func(cur string) {
		for _, s := range specs {
			for _, dep := range s.Dependencies {
				if dep == cur && !reachable[s.ID] {
					reachable[s.ID] = true
					visit(s.ID)
				}
			}
		}
	}
	visit(id)
	return reachable
}
