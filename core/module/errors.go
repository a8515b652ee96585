package module

import "fmt"

// StartupError marks a start attempt that failed because a required
// resource (device, model file, socket) was unavailable. The supervisor
// retries these with backoff.
type StartupError struct {
	Module string
	Err    error
}

func NewStartupError(module string, err error) *StartupError {
	return &StartupError{Module: module, Err: err}
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("%s failed to start: %v", e.Module, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// FatalError marks an unrecoverable internal error. The owning module
// converts it to a failed-state transition and a health event rather than
// letting it escape its processing loop.
type FatalError struct {
	Module string
	Err    error
}

func NewFatalError(module string, err error) *FatalError {
	return &FatalError{Module: module, Err: err}
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s hit a fatal error: %v", e.Module, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
