// Package scheduler decides job execution order for one run: it resolves
// the dependency graph and branch/tag filters into per-job states, hands
// out ready jobs, and cascades failures and skips to dependents.
package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wiheto/niworkflows/internal/graph"
	"github.com/wiheto/niworkflows/internal/pipeline"
)

// Scheduler tracks per-job state for a single run. It is safe for
// concurrent use; the engine calls it from multiple worker goroutines.
type Scheduler struct {
	mu    sync.Mutex
	g     *graph.Graph
	state map[string]State
}

// New builds a scheduler for the pipeline's workflow evaluated against
// ref. Filter predicates are evaluated here, before any job starts:
// filtered-out jobs begin in StateSkipped and cascade that skip to jobs
// that require them.
func New(p *pipeline.Pipeline, ref pipeline.Ref) (*Scheduler, error) {
	requires := make(map[string][]string, len(p.Workflow.Jobs))
	for _, wj := range p.Workflow.Jobs {
		requires[wj.Name] = wj.Requires
	}

	g, err := graph.Build(requires)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		g:     g,
		state: make(map[string]State, len(requires)),
	}
	for _, name := range g.Nodes() {
		s.state[name] = StatePending
	}

	// Pre-execution filter pass: mark filtered-out jobs skipped, then
	// cascade so dependents of a skipped job never run.
	for _, wj := range p.Workflow.Jobs {
		if !wj.Filters.Match(ref) {
			s.state[wj.Name] = StateSkipped
		}
	}
	s.cascadeLocked()

	return s, nil
}

// Graph exposes the underlying dependency graph.
func (s *Scheduler) Graph() *graph.Graph { return s.g }

// Ready returns pending jobs whose dependencies have all succeeded,
// sorted by name for determinism.
func (s *Scheduler) Ready() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyLocked()
}

func (s *Scheduler) readyLocked() []string {
	var ready []string
	for _, name := range s.g.Nodes() {
		if s.state[name] != StatePending {
			continue
		}
		ok := true
		for _, dep := range s.g.Dependencies(name) {
			if !s.state[dep].IsSuccess() {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)
	return ready
}

// Start transitions a job from pending to running.
func (s *Scheduler) Start(name string) error {
	return s.transition(name, StatePending, StateRunning)
}

// Succeed transitions a running job to succeeded.
func (s *Scheduler) Succeed(name string) error {
	return s.transition(name, StateRunning, StateSucceeded)
}

// Fail transitions a running job to failed and marks every transitive
// dependent skipped. Never retried: a failed dependency always skips
// its dependents.
func (s *Scheduler) Fail(name string) error {
	if err := s.transition(name, StateRunning, StateFailed); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cascadeLocked()
	return nil
}

// Cancel marks every pending job skipped. Running jobs keep their state;
// the engine is responsible for stopping them via context.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, st := range s.state {
		if st == StatePending {
			s.state[name] = StateSkipped
		}
	}
}

// State returns the current state of a job.
func (s *Scheduler) State(name string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[name]
}

// States returns a copy of all job states.
func (s *Scheduler) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

// Done reports whether every job reached a terminal state.
func (s *Scheduler) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.state {
		if !st.IsTerminal() {
			return false
		}
	}
	return true
}

// Stalled reports whether no job is running and none can become ready,
// while non-terminal jobs remain. With filters applied up front this
// does not happen; it guards the dispatch loop against livelock.
func (s *Scheduler) Stalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.state {
		if st == StateRunning {
			return false
		}
	}
	return len(s.readyLocked()) == 0 && !s.doneLocked()
}

// Success reports whether every job either succeeded or was skipped.
func (s *Scheduler) Success() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.state {
		if st == StateFailed {
			return false
		}
	}
	return true
}

func (s *Scheduler) transition(name string, from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.state[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	if cur != from || !allowedTransition(from, to) {
		return fmt.Errorf("invalid transition for %q: %s -> %s (current %s)", name, from, to, cur)
	}
	s.state[name] = to
	return nil
}

// cascadeLocked marks pending jobs skipped when any dependency is in a
// terminal non-success state. Repeats until a fixpoint so transitive
// dependents are covered.
func (s *Scheduler) cascadeLocked() {
	for {
		changed := false
		for _, name := range s.g.Nodes() {
			if s.state[name] != StatePending {
				continue
			}
			for _, dep := range s.g.Dependencies(name) {
				st := s.state[dep]
				if st.IsTerminal() && !st.IsSuccess() {
					s.state[name] = StateSkipped
					changed = true
					break
				}
			}
		}
		if !changed {
			return
		}
	}
}

func (s *Scheduler) doneLocked() bool {
	for _, st := range s.state {
		if !st.IsTerminal() {
			return false
		}
	}
	return true
}
