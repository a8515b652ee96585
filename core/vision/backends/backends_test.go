package backends

import (
	"context"
	"errors"
	"testing"
)

type staticBackend struct {
	name         string
	capabilities []Capability
}

func (b *staticBackend) Name() string               { return b.name }
func (b *staticBackend) Capabilities() []Capability { return b.capabilities }
func (b *staticBackend) Close() error               { return nil }

func (b *staticBackend) Detect(context.Context, Frame) ([]Observation, error) {
	return nil, nil
}

func TestRegistrySelectsByCapability(t *testing.T) {
	registry := NewRegistry(
		&staticBackend{name: "faces", capabilities: []Capability{CapabilityFaceRecognition}},
		&staticBackend{name: "objects", capabilities: []Capability{CapabilityObjectDetection}},
	)

	backend, err := registry.Select(CapabilityObjectDetection)
	if err != nil {
		t.Fatalf("failed to select a backend: %v", err)
	}
	if backend.Name() != "objects" {
		t.Errorf("expected the objects backend, got %q", backend.Name())
	}
}

func TestRegistryPrefersRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&staticBackend{name: "primary", capabilities: []Capability{CapabilityObjectDetection}})
	registry.Register(&staticBackend{name: "fallback", capabilities: []Capability{CapabilityObjectDetection}})

	backend, err := registry.Select(CapabilityObjectDetection)
	if err != nil {
		t.Fatalf("failed to select a backend: %v", err)
	}
	if backend.Name() != "primary" {
		t.Errorf("expected the first registered backend, got %q", backend.Name())
	}
}

func TestRegistryReportsMissingCapability(t *testing.T) {
	registry := NewRegistry(
		&staticBackend{name: "objects", capabilities: []Capability{CapabilityObjectDetection}},
	)

	if _, err := registry.Select(CapabilityFaceRecognition); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("expected ErrNoBackend, got %v", err)
	}
}
