package vision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ada-core/core/bus"
	"github.com/koscakluka/ada-core/core/events"
	"github.com/koscakluka/ada-core/core/module"
	"github.com/koscakluka/ada-core/core/vision/backends"
)

type fakeCamera struct {
	openErr error
	readErr error

	mu     sync.Mutex
	opened bool
	closed bool
}

func (c *fakeCamera) Open(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	c.opened = true
	return nil
}

func (c *fakeCamera) ReadFrame(ctx context.Context) (backends.Frame, error) {
	c.mu.Lock()
	readErr := c.readErr
	c.mu.Unlock()
	if readErr != nil {
		return backends.Frame{}, readErr
	}
	return backends.Frame{Width: 640, Height: 480, CapturedAt: time.Now()}, nil
}

func (c *fakeCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeBackend struct {
	observations []backends.Observation
	detectErr    error
}

func (b *fakeBackend) Name() string { return "fake" }
func (b *fakeBackend) Capabilities() []backends.Capability {
	return []backends.Capability{backends.CapabilityObjectDetection}
}
func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) Detect(context.Context, backends.Frame) ([]backends.Observation, error) {
	if b.detectErr != nil {
		return nil, b.detectErr
	}
	return b.observations, nil
}

func collectDetections(t *testing.T, b *bus.Bus) <-chan events.Detection {
	t.Helper()

	detections := make(chan events.Detection, 16)
	if _, err := b.Subscribe(events.TopicDetection, "test-listener", func(_ context.Context, delivery bus.Delivery) error {
		if detection, ok := delivery.Event.(events.Detection); ok {
			detections <- detection
		}
		return nil
	}); err != nil {
		t.Fatalf("failed to subscribe to detections: %v", err)
	}
	return detections
}

func TestModulePublishesDetections(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()
	detections := collectDetections(t, eventBus)

	backend := &fakeBackend{observations: []backends.Observation{
		{Label: "cup", Confidence: 0.9},
		{Label: "keyboard", Confidence: 0.7},
	}}
	m := New(eventBus, &fakeCamera{}, backends.NewRegistry(backend),
		WithFrameInterval(5*time.Millisecond))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("failed to start module: %v", err)
	}
	defer func() { _ = m.Stop(context.Background()) }()

	select {
	case detection := <-detections:
		if len(detection.Objects) != 2 || detection.Objects[0] != "cup" {
			t.Errorf("unexpected detection objects %v", detection.Objects)
		}
		if detection.Confidence != 0.7 {
			t.Errorf("expected the lowest confidence 0.7, got %v", detection.Confidence)
		}
		if detection.Source() != Name {
			t.Errorf("expected source %q, got %q", Name, detection.Source())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a detection")
	}
}

func TestModuleFiltersLowConfidenceObservations(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()
	detections := collectDetections(t, eventBus)

	backend := &fakeBackend{observations: []backends.Observation{
		{Label: "cup", Confidence: 0.9},
		{Label: "ghost", Confidence: 0.1},
	}}
	m := New(eventBus, &fakeCamera{}, backends.NewRegistry(backend),
		WithFrameInterval(5*time.Millisecond),
		WithMinConfidence(0.5))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("failed to start module: %v", err)
	}
	defer func() { _ = m.Stop(context.Background()) }()

	select {
	case detection := <-detections:
		if len(detection.Objects) != 1 || detection.Objects[0] != "cup" {
			t.Errorf("expected only the cup to survive the filter, got %v", detection.Objects)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a detection")
	}
}

func TestModuleStartFailsWithoutCameraDevice(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()

	camera := &fakeCamera{openErr: errors.New("device not found")}
	m := New(eventBus, camera, backends.NewRegistry(&fakeBackend{}))

	err := m.Start(context.Background())
	if err == nil {
		t.Fatalf("expected start to fail without a camera")
	}
	var startupErr *module.StartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("expected a startup error, got %v", err)
	}
	if got := m.Health().State; got != module.StateFailed {
		t.Errorf("expected failed state, got %q", got)
	}
}

func TestModuleStartFailsWithoutMatchingBackend(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()

	m := New(eventBus, &fakeCamera{}, backends.NewRegistry(),
		WithCapability(backends.CapabilityFaceRecognition))

	err := m.Start(context.Background())
	var startupErr *module.StartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("expected a startup error, got %v", err)
	}
	if !errors.Is(err, backends.ErrNoBackend) {
		t.Errorf("expected the missing backend to be reported, got %v", err)
	}
}

func TestModuleToleratesTransientFrameErrors(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()
	detections := collectDetections(t, eventBus)

	camera := &fakeCamera{}
	backend := &fakeBackend{observations: []backends.Observation{{Label: "cup", Confidence: 0.9}}}
	m := New(eventBus, camera, backends.NewRegistry(backend),
		WithFrameInterval(5*time.Millisecond),
		WithMaxFrameErrors(100))

	camera.mu.Lock()
	camera.readErr = errors.New("frame corrupted")
	camera.mu.Unlock()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("failed to start module: %v", err)
	}
	defer func() { _ = m.Stop(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	if got := m.Health().State; got != module.StateRunning {
		t.Fatalf("expected the module to keep running through bad frames, got %q", got)
	}

	camera.mu.Lock()
	camera.readErr = nil
	camera.mu.Unlock()

	select {
	case <-detections:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected detections to resume after transient errors")
	}
}

func TestModuleFailsAfterPersistentFrameErrors(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()

	camera := &fakeCamera{readErr: errors.New("device wedged")}
	m := New(eventBus, camera, backends.NewRegistry(&fakeBackend{}),
		WithFrameInterval(time.Millisecond),
		WithMaxFrameErrors(3))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("failed to start module: %v", err)
	}
	defer func() { _ = m.Stop(context.Background()) }()

	deadline := time.After(5 * time.Second)
	for m.Health().State != module.StateFailed {
		select {
		case <-deadline:
			t.Fatalf("expected the module to fail after persistent frame errors, still %q", m.Health().State)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestModuleStopIsIdempotent(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()

	camera := &fakeCamera{}
	m := New(eventBus, camera, backends.NewRegistry(&fakeBackend{}),
		WithFrameInterval(5*time.Millisecond))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("failed to start module: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("failed to stop module: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Errorf("expected repeated stop to be a no-op, got %v", err)
	}

	camera.mu.Lock()
	closed := camera.closed
	camera.mu.Unlock()
	if !closed {
		t.Errorf("expected the camera to be closed")
	}
}
