// Package backends defines the perception-backend seam of the vision
// module and a registry that selects a concrete backend per requested
// capability. The core treats backends opaquely; it only consumes their
// observations.
package backends

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Capability names one kind of perception a backend can provide.
type Capability string

const (
	CapabilityObjectDetection Capability = "object-detection"
	CapabilityFaceRecognition Capability = "face-recognition"
)

// Frame is one captured camera frame handed to a backend.
type Frame struct {
	Pixels     []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Observation is one labeled detection extracted from a frame.
type Observation struct {
	Label      string
	Confidence float64
}

// Backend is a concrete perception implementation (a specific detection
// model). Detect must honor context cancellation.
type Backend interface {
	Name() string
	Capabilities() []Capability
	Detect(ctx context.Context, frame Frame) ([]Observation, error)
	Close() error
}

// ErrNoBackend is returned when no registered backend provides the
// requested capability.
var ErrNoBackend = errors.New("no backend provides the requested capability")

// Registry holds the available backends and picks one per capability.
// Registration order is the preference order.
type Registry struct {
	mu       sync.RWMutex
	backends []Backend
}

func NewRegistry(backends ...Backend) *Registry {
	return &Registry{backends: backends}
}

func (r *Registry) Register(backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = append(r.backends, backend)
}

// Select returns the first registered backend providing the capability.
func (r *Registry) Select(capability Capability) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, backend := range r.backends {
		for _, provided := range backend.Capabilities() {
			if provided == capability {
				return backend, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoBackend, capability)
}
