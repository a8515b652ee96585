package module

import (
	"fmt"
	"sync"
	"time"
)

// Runtime is the guarded lifecycle state machine modules embed to get
// consistent transitions and health snapshots.
//
// Allowed transitions:
//
//	created  -> starting
//	starting -> running | failed
//	running  -> degraded | stopping | failed
//	degraded -> running | stopping | failed
//	stopping -> stopped | failed
//	stopped  -> starting            (restart)
//	failed   -> starting | stopping (restart / cleanup)
type Runtime struct {
	mu        sync.RWMutex
	state     State
	message   string
	changedAt time.Time
}

func NewRuntime() *Runtime {
	return &Runtime{state: StateCreated, changedAt: time.Now()}
}

func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runtime) Health() Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Health{State: r.state, Message: r.message, ChangedAt: r.changedAt}
}

// Starting guards the created/stopped/failed -> starting transition.
func (r *Runtime) Starting() error {
	return r.transition(StateStarting, StateCreated, StateStopped, StateFailed)
}

// Running guards the starting -> running transition. Degraded modules may
// also recover to running.
func (r *Runtime) Running() error {
	return r.transition(StateRunning, StateStarting, StateDegraded)
}

// Degrade marks a running module degraded with a diagnostic message.
func (r *Runtime) Degrade(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning && r.state != StateDegraded {
		return fmt.Errorf("cannot degrade from state %q", r.state)
	}
	r.set(StateDegraded, message)
	return nil
}

// Stopping guards the transition into the stopping state. Calling it from
// stopped or stopping is a no-op so Stop stays idempotent; stopping from
// failed is allowed for cleanup.
func (r *Runtime) Stopping() (alreadyStopped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateStopped || r.state == StateStopping {
		return true
	}
	r.set(StateStopping, "")
	return false
}

func (r *Runtime) Stopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set(StateStopped, "")
}

// Fail records an unrecoverable error and moves the module to failed from
// any state.
func (r *Runtime) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	message := ""
	if err != nil {
		message = err.Error()
	}
	r.set(StateFailed, message)
}

func (r *Runtime) transition(to State, from ...State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, state := range from {
		if r.state == state {
			r.set(to, "")
			return nil
		}
	}
	return fmt.Errorf("invalid transition %q -> %q", r.state, to)
}

func (r *Runtime) set(state State, message string) {
	r.state = state
	r.message = message
	r.changedAt = time.Now()
}
