package bus

import (
	"context"
	"time"

	"github.com/koscakluka/ada-core/core/events"
)

// OverflowPolicy decides what happens when a subscriber's queue is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued delivery to make room. Suited
	// to high-frequency topics where stale data has no value, like raw
	// detections.
	DropOldest OverflowPolicy = iota
	// BlockPublisher makes Publish wait, up to the configured timeout,
	// for the subscriber to drain. Suited to low-frequency topics that
	// must not lose events, like responses.
	BlockPublisher
)

const (
	defaultQueueCapacity = 64
	defaultBlockTimeout  = time.Second
)

type options struct {
	baseContext     context.Context
	queueCapacity   int
	blockTimeout    time.Duration
	policies        map[events.Topic]OverflowPolicy
	onHandlerError  func(topic events.Topic, subscriber string, err error)
	onDroppedEvent  func(topic events.Topic, subscriber string)
}

func defaultOptions() options {
	return options{
		baseContext:   context.Background(),
		queueCapacity: defaultQueueCapacity,
		blockTimeout:  defaultBlockTimeout,
		policies:      map[events.Topic]OverflowPolicy{},
	}
}

type Option func(*options)

// WithBaseContext sets the context handlers are invoked with.
func WithBaseContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.baseContext = ctx
		}
	}
}

// WithQueueCapacity sets the default per-subscriber queue capacity.
func WithQueueCapacity(capacity int) Option {
	return func(o *options) {
		if capacity > 0 {
			o.queueCapacity = capacity
		}
	}
}

// WithOverflowPolicy overrides the overflow policy for a single topic.
// Topics without an override use DropOldest.
func WithOverflowPolicy(topic events.Topic, policy OverflowPolicy) Option {
	return func(o *options) {
		o.policies[topic] = policy
	}
}

// WithBlockTimeout bounds how long Publish waits on a full queue under the
// BlockPublisher policy before failing with an OverflowError.
func WithBlockTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.blockTimeout = timeout
		}
	}
}

// WithHandlerErrorCallback registers a callback invoked after a subscriber
// handler returns an error or panics. The failure is already logged and
// counted by the time the callback runs.
func WithHandlerErrorCallback(callback func(topic events.Topic, subscriber string, err error)) Option {
	return func(o *options) {
		o.onHandlerError = callback
	}
}

// WithDroppedEventCallback registers a callback invoked for every delivery
// evicted under the DropOldest policy.
func WithDroppedEventCallback(callback func(topic events.Topic, subscriber string)) Option {
	return func(o *options) {
		o.onDroppedEvent = callback
	}
}

// SubscribeOption tunes a single subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	queueCapacity int
}

// WithSubscriberQueueCapacity overrides the queue capacity for one
// subscriber.
func WithSubscriberQueueCapacity(capacity int) SubscribeOption {
	return func(o *subscribeOptions) {
		if capacity > 0 {
			o.queueCapacity = capacity
		}
	}
}
