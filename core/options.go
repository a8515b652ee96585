package assistant

import (
	"time"

	"github.com/koscakluka/ada-core/core/module"
)

const (
	defaultSupervisionInterval = 1 * time.Second
	defaultStartTimeout        = 10 * time.Second
	defaultStopGracePeriod     = 5 * time.Second
	defaultStartupRetries      = 3
	defaultStartupBackoff      = 200 * time.Millisecond
	defaultRestartLimit        = 3
	defaultRestartBackoff      = 500 * time.Millisecond
)

type options struct {
	modules             []module.Module
	supervisionInterval time.Duration
	startTimeout        time.Duration
	stopGracePeriod     time.Duration
	startupRetries      int
	startupBackoff      time.Duration
	restartLimit        int
	restartBackoff      time.Duration
}

func defaultOptions() options {
	return options{
		supervisionInterval: defaultSupervisionInterval,
		startTimeout:        defaultStartTimeout,
		stopGracePeriod:     defaultStopGracePeriod,
		startupRetries:      defaultStartupRetries,
		startupBackoff:      defaultStartupBackoff,
		restartLimit:        defaultRestartLimit,
		restartBackoff:      defaultRestartBackoff,
	}
}

type Option func(*options)

// WithModule registers a module with the assistant. Registration order is
// the tie-break for startup ordering.
func WithModule(m module.Module) Option {
	return func(o *options) {
		o.modules = append(o.modules, m)
	}
}

// WithSupervisionInterval sets how often the supervision loop polls module
// health.
func WithSupervisionInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.supervisionInterval = interval
		}
	}
}

// WithStartTimeout bounds a single module start attempt.
func WithStartTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.startTimeout = timeout
		}
	}
}

// WithStopGracePeriod bounds how long shutdown waits for each module to
// stop before abandoning it.
func WithStopGracePeriod(grace time.Duration) Option {
	return func(o *options) {
		if grace > 0 {
			o.stopGracePeriod = grace
		}
	}
}

// WithStartupRetries bounds how many times a failed start attempt is
// retried before the module is declared degraded.
func WithStartupRetries(retries int) Option {
	return func(o *options) {
		if retries >= 0 {
			o.startupRetries = retries
		}
	}
}

// WithStartupBackoff sets the initial delay between start attempts. The
// delay doubles on every retry.
func WithStartupBackoff(backoff time.Duration) Option {
	return func(o *options) {
		if backoff > 0 {
			o.startupBackoff = backoff
		}
	}
}

// WithRestartLimit bounds how many restarts the supervision loop attempts
// on a failed module before degrading it permanently.
func WithRestartLimit(limit int) Option {
	return func(o *options) {
		if limit >= 0 {
			o.restartLimit = limit
		}
	}
}

// WithRestartBackoff sets the initial delay between supervised restarts.
// The delay doubles on every attempt.
func WithRestartBackoff(backoff time.Duration) Option {
	return func(o *options) {
		if backoff > 0 {
			o.restartBackoff = backoff
		}
	}
}
