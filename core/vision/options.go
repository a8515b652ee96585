package vision

import (
	"time"

	"github.com/koscakluka/ada-core/core/vision/backends"
)

const (
	defaultFrameInterval  = 200 * time.Millisecond
	defaultMinConfidence  = 0.5
	defaultMaxFrameErrors = 30
)

type options struct {
	frameInterval  time.Duration
	capability     backends.Capability
	minConfidence  float64
	maxFrameErrors int
}

func defaultModuleOptions() options {
	return options{
		frameInterval:  defaultFrameInterval,
		capability:     backends.CapabilityObjectDetection,
		minConfidence:  defaultMinConfidence,
		maxFrameErrors: defaultMaxFrameErrors,
	}
}

type Option func(*options)

// WithFrameInterval caps the detection rate. Frames arriving faster than
// the interval are never captured in the first place.
func WithFrameInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.frameInterval = interval
		}
	}
}

// WithCapability selects which perception capability the module requests
// from the backend registry.
func WithCapability(capability backends.Capability) Option {
	return func(o *options) {
		if capability != "" {
			o.capability = capability
		}
	}
}

// WithMinConfidence filters observations below the threshold out of
// published detections.
func WithMinConfidence(confidence float64) Option {
	return func(o *options) {
		if confidence >= 0 && confidence <= 1 {
			o.minConfidence = confidence
		}
	}
}

// WithMaxFrameErrors bounds how many consecutive capture or detection
// failures the module tolerates before declaring itself failed.
func WithMaxFrameErrors(count int) Option {
	return func(o *options) {
		if count > 0 {
			o.maxFrameErrors = count
		}
	}
}
