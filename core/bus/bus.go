// Package bus implements the in-process publish/subscribe router that
// decouples the assistant's perception and reasoning modules.
//
// Publishers never learn about subscribers. Each subscriber gets its own
// bounded queue and its own delivery goroutine, so one slow consumer never
// stalls producers or other consumers. Per topic, deliveries carry a
// strictly increasing sequence number stamped at publish time.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ada-core/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Delivery is one event as seen by a single subscriber.
type Delivery struct {
	// Sequence is unique and strictly increasing per topic.
	Sequence uint64
	Event    events.Event
}

// Handler consumes deliveries for one subscription. Errors returned (or
// panics raised) are contained by the bus: they are logged, counted, and
// reported through the handler-error callback, never propagated to the
// publisher or to other subscribers.
type Handler func(ctx context.Context, delivery Delivery) error

// OverflowError is returned by Publish when a BlockPublisher topic could
// not hand a delivery to a subscriber within the configured timeout.
type OverflowError struct {
	Topic      events.Topic
	Subscriber string
	Timeout    time.Duration
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("bus overflow: subscriber %q did not drain topic %q within %s", e.Subscriber, e.Topic, e.Timeout)
}

var ErrBusClosed = errors.New("bus closed")

type Bus struct {
	mu     sync.RWMutex
	topics map[events.Topic]*topicState
	closed bool

	workers sync.WaitGroup
	options options

	droppedEvents metric.Int64Counter
	handlerErrors metric.Int64Counter
}

func New(opts ...Option) *Bus {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	b := &Bus{
		topics:  map[events.Topic]*topicState{},
		options: options,
	}

	// Telemetry is fire-and-forget; a failed instrument never fails the bus.
	b.droppedEvents, _ = meter.Int64Counter("ada.bus.dropped_events")
	b.handlerErrors, _ = meter.Int64Counter("ada.bus.handler_errors")

	return b
}

type topicState struct {
	mu          sync.Mutex
	sequence    uint64
	subscribers []*subscriber
	policy      OverflowPolicy
}

// Publish stamps the event with the next per-topic sequence number and
// enqueues it for every current subscriber of its topic.
//
// Under the default DropOldest policy Publish returns immediately. Under
// BlockPublisher it may wait, up to the configured timeout per subscriber,
// and returns an *OverflowError when the timeout elapses.
func (b *Bus) Publish(event events.Event) error {
	if event == nil {
		return nil
	}

	topic, err := b.topicState(event.Topic())
	if err != nil {
		return err
	}

	topic.mu.Lock()
	defer topic.mu.Unlock()

	topic.sequence++
	delivery := Delivery{Sequence: topic.sequence, Event: event}

	var publishErr error
	for _, subscriber := range topic.subscribers {
		switch topic.policy {
		case BlockPublisher:
			if err := subscriber.enqueueBlocking(delivery, b.options.blockTimeout); err != nil {
				publishErr = errors.Join(publishErr, err)
			}
		default:
			if dropped := subscriber.enqueueDropOldest(delivery); dropped {
				b.recordDrop(event.Topic(), subscriber.name)
			}
		}
	}

	return publishErr
}

// Subscribe registers a handler for future events on the topic. The
// returned subscription detaches the handler when cancelled.
func (b *Bus) Subscribe(topic events.Topic, name string, handler Handler, opts ...SubscribeOption) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	subscribeOptions := subscribeOptions{queueCapacity: b.options.queueCapacity}
	for _, opt := range opts {
		opt(&subscribeOptions)
	}

	state, err := b.topicState(topic)
	if err != nil {
		return nil, err
	}

	subscriber := newSubscriber(topic, name, handler, subscribeOptions.queueCapacity)

	state.mu.Lock()
	state.subscribers = append(state.subscribers, subscriber)
	state.mu.Unlock()

	b.workers.Add(1)
	go func() {
		defer b.workers.Done()
		subscriber.run(b.options.baseContext, b.onHandlerError)
	}()

	logger.Debug("subscribed", "topic", string(topic), "subscriber", name)
	return &Subscription{bus: b, subscriber: subscriber}, nil
}

// Close detaches all subscribers and waits for in-flight deliveries to
// finish. Publishing on a closed bus returns ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := make([]*topicState, 0, len(b.topics))
	for _, state := range b.topics {
		topics = append(topics, state)
	}
	b.mu.Unlock()

	for _, state := range topics {
		state.mu.Lock()
		subscribers := state.subscribers
		state.subscribers = nil
		state.mu.Unlock()
		for _, subscriber := range subscribers {
			subscriber.close()
		}
	}

	b.workers.Wait()
}

func (b *Bus) topicState(topic events.Topic) (*topicState, error) {
	b.mu.RLock()
	state, ok := b.topics[topic]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrBusClosed
	}
	if ok {
		return state, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if state, ok := b.topics[topic]; ok {
		return state, nil
	}
	state = &topicState{policy: b.options.policies[topic]}
	b.topics[topic] = state
	return state, nil
}

func (b *Bus) recordDrop(topic events.Topic, subscriber string) {
	if b.droppedEvents != nil {
		b.droppedEvents.Add(b.options.baseContext, 1, metric.WithAttributes(
			attribute.String("topic", string(topic)),
			attribute.String("subscriber", subscriber),
		))
	}
	if b.options.onDroppedEvent != nil {
		b.options.onDroppedEvent(topic, subscriber)
	}
}

func (b *Bus) onHandlerError(topic events.Topic, subscriber string, err error) {
	logger.Error("subscriber handler failed", "topic", string(topic), "subscriber", subscriber, "error", err)
	if b.handlerErrors != nil {
		b.handlerErrors.Add(b.options.baseContext, 1, metric.WithAttributes(
			attribute.String("topic", string(topic)),
			attribute.String("subscriber", subscriber),
		))
	}
	if b.options.onHandlerError != nil {
		b.options.onHandlerError(topic, subscriber, err)
	}
}

// Subscription is a handle to one registered handler.
type Subscription struct {
	bus        *Bus
	subscriber *subscriber
	once       sync.Once
}

// Unsubscribe detaches the handler. Already-queued deliveries are
// discarded; Unsubscribe is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		state, err := s.bus.topicState(s.subscriber.topic)
		if err == nil {
			state.mu.Lock()
			for i, candidate := range state.subscribers {
				if candidate == s.subscriber {
					state.subscribers = append(state.subscribers[:i], state.subscribers[i+1:]...)
					break
				}
			}
			state.mu.Unlock()
		}
		s.subscriber.close()
	})
}
