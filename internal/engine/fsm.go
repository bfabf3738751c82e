package engine

import (
	"sync"

	"github.com/rmead777/agentflow/pkg/schema"
)

// TransitionHook is called before or after a run state transition.
type TransitionHook func(from, to schema.RunStatus) error

type runHookKey struct {
	from, to schema.RunStatus
}

// RunFSM manages the lifecycle of a single flow run. A fresh FSM is
// constructed per run; terminal states have no outgoing transitions.
type RunFSM struct {
	mu     sync.Mutex
	state  schema.RunStatus
	before map[runHookKey][]TransitionHook
	after  map[runHookKey][]TransitionHook
}

// NewRunFSM creates a run FSM starting in the idle state.
func NewRunFSM() *RunFSM {
	return &RunFSM{
		state:  schema.RunStatusIdle,
		before: make(map[runHookKey][]TransitionHook),
		after:  make(map[runHookKey][]TransitionHook),
	}
}

// State returns the current run state.
func (f *RunFSM) State() schema.RunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// OnBefore registers a hook called before a transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a state transition from the current
// state. Before-hooks run first and veto the transition on error.
func (f *RunFSM) Transition(to schema.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := f.state
	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}
	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	f.state = to

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	allowed, ok := ValidRunTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// ValidRunTransitions defines the allowed state transitions for a run.
// Failed is reachable from validating (validation or resolution rejected
// the graph) and from running (the run was torn down mid-flight);
// completed only from running.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusIdle:       {schema.RunStatusValidating},
	schema.RunStatusValidating: {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusRunning:    {schema.RunStatusCompleted, schema.RunStatusFailed},
	schema.RunStatusCompleted:  {},
	schema.RunStatusFailed:     {},
}
