package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ada-core/core/events"
)

func TestSingleTopicDeliveriesArriveInSequenceOrder(t *testing.T) {
	b := New()
	defer b.Close()

	const published = 100
	received := make(chan Delivery, published)

	_, err := b.Subscribe(events.TopicUtterance, "collector", func(_ context.Context, delivery Delivery) error {
		received <- delivery
		return nil
	}, WithSubscriberQueueCapacity(published))
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	for i := 0; i < published; i++ {
		if err := b.Publish(events.NewUtterance("test", fmt.Sprintf("utterance %d", i))); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}

	var lastSequence uint64
	for i := 0; i < published; i++ {
		select {
		case delivery := <-received:
			if delivery.Sequence != lastSequence+1 {
				t.Fatalf("expected sequence %d, got %d", lastSequence+1, delivery.Sequence)
			}
			lastSequence = delivery.Sequence
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i)
		}
	}
}

func TestSequencesAreIndependentPerTopic(t *testing.T) {
	b := New()
	defer b.Close()

	utterances := make(chan Delivery, 2)
	detections := make(chan Delivery, 2)

	if _, err := b.Subscribe(events.TopicUtterance, "u", func(_ context.Context, d Delivery) error {
		utterances <- d
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if _, err := b.Subscribe(events.TopicDetection, "d", func(_ context.Context, d Delivery) error {
		detections <- d
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	_ = b.Publish(events.NewUtterance("test", "hello"))
	_ = b.Publish(events.NewDetection("test", []string{"cup"}, 0.9))

	for name, ch := range map[string]chan Delivery{"utterance": utterances, "detection": detections} {
		select {
		case delivery := <-ch:
			if delivery.Sequence != 1 {
				t.Fatalf("expected %s topic to start at sequence 1, got %d", name, delivery.Sequence)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s delivery", name)
		}
	}
}

func TestHandlerErrorDoesNotAffectOtherSubscribersOrPublisher(t *testing.T) {
	var handlerErrors []string
	var mu sync.Mutex

	b := New(WithHandlerErrorCallback(func(_ events.Topic, subscriber string, _ error) {
		mu.Lock()
		handlerErrors = append(handlerErrors, subscriber)
		mu.Unlock()
	}))
	defer b.Close()

	healthy := make(chan Delivery, 3)

	if _, err := b.Subscribe(events.TopicUtterance, "failing", func(_ context.Context, _ Delivery) error {
		return errors.New("handler broke")
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if _, err := b.Subscribe(events.TopicUtterance, "healthy", func(_ context.Context, d Delivery) error {
		healthy <- d
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := b.Publish(events.NewUtterance("test", "hello")); err != nil {
			t.Fatalf("publish must not surface handler errors, got %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case <-healthy:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for healthy subscriber delivery %d", i)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		count := len(handlerErrors)
		mu.Unlock()
		if count == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 handler error reports, got %d", count)
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, subscriber := range handlerErrors {
		if subscriber != "failing" {
			t.Fatalf("expected error reports for %q, got %q", "failing", subscriber)
		}
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	errored := make(chan error, 1)
	b := New(WithHandlerErrorCallback(func(_ events.Topic, _ string, err error) {
		select {
		case errored <- err:
		default:
		}
	}))
	defer b.Close()

	if _, err := b.Subscribe(events.TopicUtterance, "panicking", func(_ context.Context, _ Delivery) error {
		panic("boom")
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := b.Publish(events.NewUtterance("test", "hello")); err != nil {
		t.Fatalf("publish must not surface handler panics, got %v", err)
	}

	select {
	case err := <-errored:
		if err == nil {
			t.Fatalf("expected panic to be reported as an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for panic report")
	}
}

func TestDropOldestEvictsStaleDeliveries(t *testing.T) {
	droppedCount := 0
	var mu sync.Mutex
	b := New(WithDroppedEventCallback(func(events.Topic, string) {
		mu.Lock()
		droppedCount++
		mu.Unlock()
	}))
	defer b.Close()

	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	received := make(chan string, 8)

	_, err := b.Subscribe(events.TopicDetection, "slow", func(_ context.Context, d Delivery) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
		received <- d.Event.(events.Detection).Objects[0]
		return nil
	}, WithSubscriberQueueCapacity(2))
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	_ = b.Publish(events.NewDetection("test", []string{"first"}, 1))
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for handler to start")
	}

	// The handler holds the first delivery while four more arrive; the
	// two-slot queue should keep only the newest two.
	for _, label := range []string{"second", "third", "fourth", "fifth"} {
		_ = b.Publish(events.NewDetection("test", []string{label}, 1))
	}
	close(gate)

	expected := []string{"first", "fourth", "fifth"}
	for _, want := range expected {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("expected delivery %q, got %q", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %q", want)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if droppedCount != 2 {
		t.Fatalf("expected 2 dropped deliveries, got %d", droppedCount)
	}
}

func TestBlockPublisherTimesOutWithOverflowError(t *testing.T) {
	b := New(
		WithOverflowPolicy(events.TopicResponse, BlockPublisher),
		WithBlockTimeout(50*time.Millisecond),
	)
	defer b.Close()

	gate := make(chan struct{})
	defer close(gate)

	_, err := b.Subscribe(events.TopicResponse, "stuck", func(_ context.Context, _ Delivery) error {
		<-gate
		return nil
	}, WithSubscriberQueueCapacity(1))
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// First delivery parks in the handler, second fills the queue; the
	// third must block and then time out.
	_ = b.Publish(events.NewResponse("conversation", "one", 1))
	_ = b.Publish(events.NewResponse("conversation", "two", 2))

	deadline := time.Now().Add(2 * time.Second)
	for {
		err = b.Publish(events.NewResponse("conversation", "three", 3))
		if err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected publish to eventually overflow")
		}
	}

	var overflowErr *OverflowError
	if !errors.As(err, &overflowErr) {
		t.Fatalf("expected OverflowError, got %v", err)
	}
	if overflowErr.Topic != events.TopicResponse || overflowErr.Subscriber != "stuck" {
		t.Fatalf("unexpected overflow details: %+v", overflowErr)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	received := make(chan Delivery, 4)
	subscription, err := b.Subscribe(events.TopicUtterance, "leaving", func(_ context.Context, d Delivery) error {
		received <- d
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	_ = b.Publish(events.NewUtterance("test", "before"))
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for pre-unsubscribe delivery")
	}

	subscription.Unsubscribe()
	subscription.Unsubscribe() // safe to repeat

	_ = b.Publish(events.NewUtterance("test", "after"))
	select {
	case delivery := <-received:
		t.Fatalf("expected no delivery after unsubscribe, got %v", delivery.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	b := New()
	b.Close()

	if err := b.Publish(events.NewUtterance("test", "hello")); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}
}
