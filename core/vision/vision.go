// Package vision implements the camera perception module: it captures
// frames on a fixed cadence, runs them through a selected detection
// backend, and publishes detection events.
package vision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/koscakluka/ada-core/core/bus"
	"github.com/koscakluka/ada-core/core/events"
	"github.com/koscakluka/ada-core/core/module"
	"github.com/koscakluka/ada-core/core/vision/backends"
)

// Name is the module identity used on published events.
const Name = "vision"

// Camera is the capture-device seam. Open fails when the device is
// unavailable; ReadFrame blocks until a frame is ready or the context is
// cancelled.
type Camera interface {
	Open(ctx context.Context) error
	ReadFrame(ctx context.Context) (backends.Frame, error)
	Close() error
}

type Module struct {
	runtime  *module.Runtime
	bus      *bus.Bus
	camera   Camera
	registry *backends.Registry
	options  options

	mu      sync.Mutex
	backend backends.Backend
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ module.Module = (*Module)(nil)

func New(b *bus.Bus, camera Camera, registry *backends.Registry, opts ...Option) *Module {
	options := defaultModuleOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Module{
		runtime:  module.NewRuntime(),
		bus:      b,
		camera:   camera,
		registry: registry,
		options:  options,
	}
}

func (m *Module) Name() string { return Name }

func (m *Module) Topics() module.Topics {
	return module.Topics{
		Publishes: []events.Topic{events.TopicDetection, events.TopicHealth},
	}
}

func (m *Module) Health() module.Health { return m.runtime.Health() }

func (m *Module) Start(ctx context.Context) error {
	if err := m.runtime.Starting(); err != nil {
		return err
	}
	if m.camera == nil || m.registry == nil {
		err := module.NewStartupError(Name, errors.New("camera and backend registry are required"))
		m.runtime.Fail(err)
		return err
	}

	if err := m.camera.Open(ctx); err != nil {
		startupErr := module.NewStartupError(Name, fmt.Errorf("failed to open camera: %w", err))
		m.runtime.Fail(startupErr)
		return startupErr
	}

	backend, err := m.registry.Select(m.options.capability)
	if err != nil {
		_ = m.camera.Close()
		startupErr := module.NewStartupError(Name, err)
		m.runtime.Fail(startupErr)
		return startupErr
	}

	m.mu.Lock()
	m.backend = backend
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.captureLoop(loopCtx, backend, m.done)

	if err := m.runtime.Running(); err != nil {
		return err
	}
	m.publishHealth()
	logger.Info("vision module running", "backend", backend.Name())
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if alreadyStopped := m.runtime.Stopping(); alreadyStopped {
		return nil
	}

	m.mu.Lock()
	cancel, done, backend := m.cancel, m.done, m.backend
	m.cancel, m.done, m.backend = nil, nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			m.runtime.Fail(fmt.Errorf("capture loop did not stop: %w", ctx.Err()))
			return ctx.Err()
		}
	}

	if err := m.camera.Close(); err != nil {
		logger.Warn("failed to close camera", "error", err)
	}
	if backend != nil {
		if err := backend.Close(); err != nil {
			logger.Warn("failed to close backend", "error", err)
		}
	}

	m.runtime.Stopped()
	return nil
}

// captureLoop paces capture with a fixed ticker. A bad frame or a failed
// detection is recoverable: it is logged and skipped. Only a run of
// consecutive failures exceeding the configured bound fails the module.
func (m *Module) captureLoop(ctx context.Context, backend backends.Backend, done chan struct{}) {
	defer close(done)

	framesProcessed, _ := meter.Int64Counter("ada.vision.frames_processed")
	frameErrors, _ := meter.Int64Counter("ada.vision.frame_errors")

	ticker := time.NewTicker(m.options.frameInterval)
	defer ticker.Stop()

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		observations, err := m.processFrame(ctx, backend)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveErrors++
			if frameErrors != nil {
				frameErrors.Add(ctx, 1)
			}
			logger.Warn("failed to process frame", "error", err, "consecutive", consecutiveErrors)

			if consecutiveErrors >= m.options.maxFrameErrors {
				fatal := module.NewFatalError(Name, fmt.Errorf("%d consecutive frame failures, last: %w", consecutiveErrors, err))
				m.runtime.Fail(fatal)
				m.publishHealth()
				return
			}
			continue
		}
		consecutiveErrors = 0
		if framesProcessed != nil {
			framesProcessed.Add(ctx, 1)
		}

		if detection, ok := m.toDetection(observations); ok {
			if err := m.bus.Publish(detection); err != nil {
				logger.Error("failed to publish detection", "error", err)
			}
		}
	}
}

func (m *Module) processFrame(ctx context.Context, backend backends.Backend) ([]backends.Observation, error) {
	ctx, span := tracer.Start(ctx, "process frame")
	defer span.End()
	span.SetAttributes(attribute.String("backend.name", backend.Name()))

	frame, err := m.camera.ReadFrame(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}

	observations, err := backend.Detect(ctx, frame)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to detect: %w", err)
	}
	span.SetAttributes(attribute.Int("detections.count", len(observations)))
	return observations, nil
}

// toDetection filters observations by confidence and folds the survivors
// into a single detection event. Empty results publish nothing.
func (m *Module) toDetection(observations []backends.Observation) (events.Detection, bool) {
	var labels []string
	lowest := 1.0
	for _, observation := range observations {
		if observation.Confidence < m.options.minConfidence {
			continue
		}
		labels = append(labels, observation.Label)
		if observation.Confidence < lowest {
			lowest = observation.Confidence
		}
	}
	if len(labels) == 0 {
		return events.Detection{}, false
	}
	return events.NewDetection(Name, labels, lowest), true
}

func (m *Module) publishHealth() {
	health := m.runtime.Health()
	if err := m.bus.Publish(events.NewHealth(Name, string(health.State), health.Message)); err != nil {
		logger.Error("failed to publish health", "error", err)
	}
}
