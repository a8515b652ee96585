package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ada-core/core/events"
)

type subscriber struct {
	topic   events.Topic
	name    string
	handler Handler

	queue chan Delivery
	done  chan struct{}

	closeOnce sync.Once
}

func newSubscriber(topic events.Topic, name string, handler Handler, queueCapacity int) *subscriber {
	return &subscriber{
		topic:   topic,
		name:    name,
		handler: handler,
		queue:   make(chan Delivery, queueCapacity),
		done:    make(chan struct{}),
	}
}

// enqueueDropOldest never blocks; when the queue is full it evicts the
// oldest queued delivery to make room. Callers serialize enqueues per
// topic, so eviction cannot starve.
func (s *subscriber) enqueueDropOldest(delivery Delivery) (dropped bool) {
	for {
		select {
		case s.queue <- delivery:
			return dropped
		case <-s.done:
			return dropped
		default:
		}

		select {
		case <-s.queue:
			dropped = true
		default:
		}
	}
}

// enqueueBlocking waits for queue space up to the timeout, then gives up
// with an *OverflowError.
func (s *subscriber) enqueueBlocking(delivery Delivery, timeout time.Duration) error {
	select {
	case s.queue <- delivery:
		return nil
	case <-s.done:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.queue <- delivery:
		return nil
	case <-s.done:
		return nil
	case <-timer.C:
		return &OverflowError{Topic: s.topic, Subscriber: s.name, Timeout: timeout}
	}
}

// run delivers queued events to the handler until the subscription is
// cancelled. Handler errors and panics are contained here.
func (s *subscriber) run(ctx context.Context, onError func(events.Topic, string, error)) {
	for {
		select {
		case <-s.done:
			return
		case delivery := <-s.queue:
			if err := s.invoke(ctx, delivery); err != nil {
				onError(s.topic, s.name, err)
			}
		}
	}
}

func (s *subscriber) invoke(ctx context.Context, delivery Delivery) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panicked: %v", recovered)
		}
	}()

	return s.handler(ctx, delivery)
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
