package module

import (
	"errors"
	"testing"
)

func TestRuntimeHappyPathTransitions(t *testing.T) {
	r := NewRuntime()

	if got := r.State(); got != StateCreated {
		t.Fatalf("expected created state, got %q", got)
	}
	if err := r.Starting(); err != nil {
		t.Fatalf("starting from created failed: %v", err)
	}
	if err := r.Running(); err != nil {
		t.Fatalf("running from starting failed: %v", err)
	}
	if alreadyStopped := r.Stopping(); alreadyStopped {
		t.Fatalf("expected first stop to not be a no-op")
	}
	r.Stopped()
	if got := r.State(); got != StateStopped {
		t.Fatalf("expected stopped state, got %q", got)
	}
}

func TestRuntimeRejectsInvalidTransitions(t *testing.T) {
	r := NewRuntime()

	if err := r.Running(); err == nil {
		t.Fatalf("expected running from created to fail")
	}
	if err := r.Degrade("no frames"); err == nil {
		t.Fatalf("expected degrade from created to fail")
	}
}

func TestRuntimeStopIsIdempotent(t *testing.T) {
	r := NewRuntime()
	if err := r.Starting(); err != nil {
		t.Fatalf("starting failed: %v", err)
	}
	if err := r.Running(); err != nil {
		t.Fatalf("running failed: %v", err)
	}

	r.Stopping()
	r.Stopped()
	if alreadyStopped := r.Stopping(); !alreadyStopped {
		t.Fatalf("expected repeated stop to be a no-op")
	}
	if got := r.State(); got != StateStopped {
		t.Fatalf("expected stopped state after repeated stop, got %q", got)
	}
}

func TestRuntimeStopIsSafeFromFailed(t *testing.T) {
	r := NewRuntime()
	r.Fail(errors.New("camera disappeared"))

	if alreadyStopped := r.Stopping(); alreadyStopped {
		t.Fatalf("expected stop from failed to proceed")
	}
	r.Stopped()
	if got := r.State(); got != StateStopped {
		t.Fatalf("expected stopped state, got %q", got)
	}
}

func TestRuntimeRestartAfterFailure(t *testing.T) {
	r := NewRuntime()
	r.Fail(errors.New("device busy"))

	if err := r.Starting(); err != nil {
		t.Fatalf("expected restart from failed to be allowed: %v", err)
	}
	if err := r.Running(); err != nil {
		t.Fatalf("running after restart failed: %v", err)
	}
}

func TestRuntimeDegradeAndRecover(t *testing.T) {
	r := NewRuntime()
	if err := r.Starting(); err != nil {
		t.Fatalf("starting failed: %v", err)
	}
	if err := r.Running(); err != nil {
		t.Fatalf("running failed: %v", err)
	}

	if err := r.Degrade("subscriber handler keeps failing"); err != nil {
		t.Fatalf("degrade from running failed: %v", err)
	}
	health := r.Health()
	if health.State != StateDegraded || health.Message == "" {
		t.Fatalf("expected degraded health with message, got %+v", health)
	}

	if err := r.Running(); err != nil {
		t.Fatalf("recovery from degraded failed: %v", err)
	}
}

func TestStartupErrorUnwraps(t *testing.T) {
	cause := errors.New("no capture device")
	err := NewStartupError("audio", cause)

	var startupErr *StartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("expected errors.As to find StartupError")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be preserved")
	}
}
