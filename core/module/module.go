// Package module defines the capability contract every assistant module
// implements, the lifecycle state machine, and the module error taxonomy.
package module

import (
	"context"
	"time"

	"github.com/koscakluka/ada-core/core/events"
)

// State is a module lifecycle state.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDegraded State = "degraded"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Terminal reports whether no further transitions are expected without an
// explicit restart.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Topics declares the topics a module consumes and the topics it may emit.
// The publishes set is fixed at registration and never changes at runtime.
type Topics struct {
	Subscribes []events.Topic
	Publishes  []events.Topic
}

// Health is a point-in-time, non-blocking module state report.
type Health struct {
	State   State
	Message string
	// ChangedAt is when the module last transitioned state.
	ChangedAt time.Time
}

// Module is the contract every perception and reasoning unit implements to
// participate in the assistant runtime.
//
// Start acquires resources and transitions Created -> Starting -> Running;
// it fails with a *StartupError when a required resource is unavailable.
// Stop releases resources, is idempotent, and is safe to call from the
// failed state. Health must not block; the supervisor calls it on every
// supervision tick. A module that hits an unrecoverable internal error
// transitions itself to failed and publishes a health event; it must never
// panic out of its processing loop into the supervisor.
type Module interface {
	Name() string
	Topics() Topics
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() Health
}
