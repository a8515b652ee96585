// Package assistant owns the runtime as a whole: it validates the topic
// graph, starts modules in dependency order, supervises their health, and
// shuts them down in reverse order. A single failed module degrades
// capability; it never terminates the assistant.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/koscakluka/ada-core/core/bus"
	"github.com/koscakluka/ada-core/core/events"
	"github.com/koscakluka/ada-core/core/module"
)

// Name is the supervisor identity used on published lifecycle events.
const Name = "assistant"

// ModuleHealth pairs a module's identity with its latest health report.
type ModuleHealth struct {
	Name   string
	Health module.Health
	// Degraded is true once the supervisor has given up on the module.
	Degraded bool
}

type Assistant struct {
	bus     *bus.Bus
	options options

	// mu is the supervision lock: the module registry is only mutated
	// during startup, shutdown, and restart, never concurrently with
	// steady-state operation.
	mu        sync.Mutex
	started   []module.Module
	degraded  map[string]string
	restarts  map[string]int
	nextRetry map[string]time.Time

	closeOnce sync.Once
	closing   chan struct{}
}

// New creates an assistant supervising the registered modules. The
// assistant takes ownership of the bus and closes it on shutdown.
func New(eventBus *bus.Bus, opts ...Option) *Assistant {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Assistant{
		bus:       eventBus,
		options:   options,
		degraded:  map[string]string{},
		restarts:  map[string]int{},
		nextRetry: map[string]time.Time{},
		closing:   make(chan struct{}),
	}
}

// Run starts all modules and blocks in the supervision loop until the
// context is cancelled or Close is called, then shuts everything down in
// reverse start order. Call Run at most once per assistant instance.
func (a *Assistant) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "run assistant")
	defer span.End()

	if err := validateTopology(a.options.modules); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("invalid module topology: %w", err)
	}

	for _, m := range startOrder(a.options.modules) {
		if err := a.startModule(ctx, m); err != nil {
			var startupErr *module.StartupError
			if errors.As(err, &startupErr) {
				a.mu.Lock()
				a.degradeLocked(m, err.Error())
				a.mu.Unlock()
				continue
			}

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			a.shutdown(ctx)
			return fmt.Errorf("failed to start module %q: %w", m.Name(), err)
		}

		a.mu.Lock()
		a.started = append(a.started, m)
		a.mu.Unlock()
	}

	a.publish(events.NewLifecycle(Name, events.LifecycleStarted, "", ""))
	logger.Info("assistant started", "modules", len(a.options.modules))

	a.supervise(ctx)

	a.publish(events.NewLifecycle(Name, events.LifecycleStopping, "", ""))
	a.shutdown(ctx)
	return nil
}

// Close asks a running assistant to shut down. Safe to call multiple
// times and from any goroutine; Run returns once shutdown completes.
func (a *Assistant) Close() {
	a.closeOnce.Do(func() { close(a.closing) })
}

// Snapshot returns the current health of every registered module, in
// registration order.
func (a *Assistant) Snapshot() []ModuleHealth {
	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := make([]ModuleHealth, 0, len(a.options.modules))
	for _, m := range a.options.modules {
		_, degraded := a.degraded[m.Name()]
		snapshot = append(snapshot, ModuleHealth{
			Name:     m.Name(),
			Health:   m.Health(),
			Degraded: degraded,
		})
	}
	return snapshot
}

// startModule attempts a bounded number of start attempts with doubling
// backoff. Only startup errors are retried; anything else aborts startup.
func (a *Assistant) startModule(ctx context.Context, m module.Module) error {
	ctx, span := tracer.Start(ctx, "start module")
	defer span.End()
	span.SetAttributes(attribute.String("module.name", m.Name()))

	backoff := a.options.startupBackoff
	var lastErr error
	for attempt := 0; attempt <= a.options.startupRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		startCtx, cancel := context.WithTimeout(ctx, a.options.startTimeout)
		err := m.Start(startCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		var startupErr *module.StartupError
		if !errors.As(err, &startupErr) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		logger.Warn("module start attempt failed",
			"module", m.Name(), "attempt", attempt+1, "error", err)
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return lastErr
}

// shutdown stops modules in reverse start order, each within the stop
// grace period. Modules that miss the grace period are abandoned and
// logged. The bus closes last so stopping modules can still publish.
func (a *Assistant) shutdown(ctx context.Context) {
	a.mu.Lock()
	started := a.started
	a.started = nil
	a.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		m := started[i]
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.options.stopGracePeriod)
		if err := m.Stop(stopCtx); err != nil {
			logger.Error("module did not stop within grace period",
				"module", m.Name(), "error", err)
		}
		cancel()
	}

	a.bus.Close()
}

// degradeLocked marks a module as permanently failed and announces the
// degraded capability. The assistant keeps running without the module.
// Callers hold a.mu.
func (a *Assistant) degradeLocked(m module.Module, detail string) {
	if _, alreadyDegraded := a.degraded[m.Name()]; alreadyDegraded {
		return
	}
	a.degraded[m.Name()] = detail

	logger.Error("module permanently degraded", "module", m.Name(), "detail", detail)
	a.publish(events.NewLifecycle(Name, events.LifecycleDegraded, m.Name(), detail))

	if counter, err := meter.Int64Counter("ada.assistant.degraded_modules"); err == nil {
		counter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("module", m.Name()),
		))
	}
}

func (a *Assistant) publish(event events.Event) {
	if err := a.bus.Publish(event); err != nil && !errors.Is(err, bus.ErrBusClosed) {
		logger.Error("failed to publish event", "topic", string(event.Topic()), "error", err)
	}
}
