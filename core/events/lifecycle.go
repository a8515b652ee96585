package events

// LifecyclePhase identifies a supervisor announcement.
type LifecyclePhase string

const (
	// LifecycleStarted marks the assistant reaching steady state.
	LifecycleStarted LifecyclePhase = "started"
	// LifecycleStopping marks the beginning of the shutdown sequence.
	LifecycleStopping LifecyclePhase = "stopping"
	// LifecycleModuleRestarted marks a successful module restart.
	LifecycleModuleRestarted LifecyclePhase = "module_restarted"
	// LifecycleDegraded marks a module as permanently failed; the
	// assistant keeps running without it.
	LifecycleDegraded LifecyclePhase = "degraded"
)

// Lifecycle carries a supervisor announcement about the runtime as a whole.
type Lifecycle struct {
	Base
	Phase LifecyclePhase
	// Module names the module the announcement concerns, if any.
	Module string
	Detail string
}

func NewLifecycle(source string, phase LifecyclePhase, module, detail string) Lifecycle {
	return Lifecycle{Base: NewBase(TopicLifecycle, source), Phase: phase, Module: module, Detail: detail}
}
