package assistant

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/koscakluka/ada-core/core/events"
	"github.com/koscakluka/ada-core/core/module"
)

// supervise is the steady-state loop: it polls every started module's
// health on a fixed interval and restarts failed modules with a bounded,
// backed-off retry budget. It returns when the context is cancelled or
// Close is called.
func (a *Assistant) supervise(ctx context.Context) {
	ticker := time.NewTicker(a.options.supervisionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closing:
			return
		case <-ticker.C:
			a.checkModules(ctx)
		}
	}
}

func (a *Assistant) checkModules(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	for _, m := range a.started {
		if _, degraded := a.degraded[m.Name()]; degraded {
			continue
		}
		health := m.Health()
		if health.State != module.StateFailed {
			continue
		}
		if now.Before(a.nextRetry[m.Name()]) {
			continue
		}

		attempts := a.restarts[m.Name()]
		if attempts >= a.options.restartLimit {
			a.degradeLocked(m, "restart limit reached: "+health.Message)
			continue
		}

		a.restarts[m.Name()] = attempts + 1
		a.nextRetry[m.Name()] = now.Add(a.options.restartBackoff << attempts)
		a.restartModule(ctx, m, attempts+1)
	}
}

// restartModule stops and restarts one failed module. Stop is safe from
// the failed state; a failed start attempt just consumes another slot of
// the retry budget on a later tick. Callers hold a.mu.
func (a *Assistant) restartModule(ctx context.Context, m module.Module, attempt int) {
	ctx, span := tracer.Start(ctx, "restart module")
	defer span.End()
	span.SetAttributes(
		attribute.String("module.name", m.Name()),
		attribute.Int("restart.attempt", attempt),
	)

	if counter, err := meter.Int64Counter("ada.assistant.module_restarts"); err == nil {
		counter.Add(ctx, 1, metric.WithAttributes(attribute.String("module", m.Name())))
	}

	stopCtx, cancel := context.WithTimeout(ctx, a.options.stopGracePeriod)
	if err := m.Stop(stopCtx); err != nil {
		logger.Warn("failed to stop module before restart", "module", m.Name(), "error", err)
	}
	cancel()

	startCtx, cancel := context.WithTimeout(ctx, a.options.startTimeout)
	err := m.Start(startCtx)
	cancel()
	if err != nil {
		span.RecordError(err)
		logger.Warn("module restart failed",
			"module", m.Name(), "attempt", attempt, "error", err)
		return
	}

	logger.Info("module restarted", "module", m.Name(), "attempt", attempt)
	a.publish(events.NewLifecycle(Name, events.LifecycleModuleRestarted, m.Name(), ""))
}
