package display

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koscakluka/ada-core/core/bus"
	"github.com/koscakluka/ada-core/core/events"
	"github.com/koscakluka/ada-core/core/module"
)

func startDisplay(t *testing.T, eventBus *bus.Bus, opts ...Option) *Module {
	t.Helper()

	m := New(eventBus, append([]Option{WithAddr("127.0.0.1:0")}, opts...)...)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("failed to start display: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func dialDisplay(t *testing.T, m *Module) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+m.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("failed to dial display: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		t.Fatalf("failed to unmarshal frame %q: %v", payload, err)
	}
	return f
}

func TestDisplayBroadcastsResponses(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()
	m := startDisplay(t, eventBus)
	conn := dialDisplay(t, m)

	// The subscription is registered at start, but the upgrade races the
	// publish; poll until the frame arrives.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := eventBus.Publish(events.NewResponse("conversation", "hello", 1)); err != nil {
			t.Fatalf("failed to publish response: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, payload, err := conn.ReadMessage()
		if err == nil {
			var f frame
			if err := json.Unmarshal(payload, &f); err != nil {
				t.Fatalf("failed to unmarshal frame %q: %v", payload, err)
			}
			if f.Kind != string(events.TopicResponse) || f.Text != "hello" || f.Source != "conversation" {
				t.Fatalf("unexpected frame %+v", f)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for a response frame: %v", err)
		}
	}
}

func TestDisplayBroadcastsDetectionsAndLifecycle(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()
	m := startDisplay(t, eventBus)
	conn := dialDisplay(t, m)

	// Await the first delivered frame to know the client is registered.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := eventBus.Publish(events.NewDetection("vision", []string{"cup"}, 0.9)); err != nil {
			t.Fatalf("failed to publish detection: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, payload, err := conn.ReadMessage()
		if err == nil {
			var f frame
			if err := json.Unmarshal(payload, &f); err != nil {
				t.Fatalf("failed to unmarshal frame: %v", err)
			}
			if f.Kind != string(events.TopicDetection) || len(f.Objects) != 1 || f.Objects[0] != "cup" {
				t.Fatalf("unexpected detection frame %+v", f)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for a detection frame")
		}
	}

	if err := eventBus.Publish(events.NewLifecycle("assistant", events.LifecycleDegraded, "vision", "camera gone")); err != nil {
		t.Fatalf("failed to publish lifecycle event: %v", err)
	}
	f := readFrame(t, conn)
	for f.Kind == string(events.TopicDetection) {
		f = readFrame(t, conn)
	}
	if f.Kind != string(events.TopicLifecycle) || f.Phase != string(events.LifecycleDegraded) || f.Module != "vision" {
		t.Fatalf("unexpected lifecycle frame %+v", f)
	}
}

func TestDisplayPublishesTypedUtterances(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()

	utterances := make(chan events.Utterance, 1)
	if _, err := eventBus.Subscribe(events.TopicUtterance, "test-listener", func(_ context.Context, delivery bus.Delivery) error {
		if utterance, ok := delivery.Event.(events.Utterance); ok {
			utterances <- utterance
		}
		return nil
	}); err != nil {
		t.Fatalf("failed to subscribe to utterances: %v", err)
	}

	m := startDisplay(t, eventBus)
	conn := dialDisplay(t, m)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("what time is it?")); err != nil {
		t.Fatalf("failed to send text: %v", err)
	}

	select {
	case utterance := <-utterances:
		if utterance.Text != "what time is it?" {
			t.Errorf("unexpected utterance %q", utterance.Text)
		}
		if utterance.Transcribed {
			t.Errorf("typed input must not be marked as transcribed")
		}
		if utterance.Source() != Name {
			t.Errorf("expected source %q, got %q", Name, utterance.Source())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the typed utterance")
	}
}

func TestDisplayPublishesInjectedDetections(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()

	detections := make(chan events.Detection, 1)
	if _, err := eventBus.Subscribe(events.TopicDetection, "test-listener", func(_ context.Context, delivery bus.Delivery) error {
		if detection, ok := delivery.Event.(events.Detection); ok {
			detections <- detection
		}
		return nil
	}); err != nil {
		t.Fatalf("failed to subscribe to detections: %v", err)
	}

	m := startDisplay(t, eventBus)
	conn := dialDisplay(t, m)

	payload := `{"kind":"detection","objects":["cup","keyboard"],"confidence":0.8}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("failed to send detection: %v", err)
	}

	select {
	case detection := <-detections:
		if len(detection.Objects) != 2 || detection.Objects[0] != "cup" {
			t.Errorf("unexpected detection objects %v", detection.Objects)
		}
		if detection.Confidence != 0.8 {
			t.Errorf("unexpected confidence %v", detection.Confidence)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the injected detection")
	}
}

func TestDisplaySurvivesSlowClients(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()
	m := startDisplay(t, eventBus, WithClientBuffer(1))
	conn := dialDisplay(t, m)

	// Never read from conn; flood the broadcast and make sure the module
	// stays healthy and publishing never stalls.
	for i := 0; i < 100; i++ {
		if err := eventBus.Publish(events.NewDetection("vision", []string{"cup"}, 0.9)); err != nil {
			t.Fatalf("failed to publish detection: %v", err)
		}
	}

	time.Sleep(50 * time.Millisecond)
	if got := m.Health().State; got != module.StateRunning {
		t.Fatalf("expected the display to keep running, got %q", got)
	}
	_ = conn
}

func TestDisplayStartFailsOnBusyAddress(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()

	first := startDisplay(t, eventBus)
	second := New(eventBus, WithAddr(first.Addr()))

	err := second.Start(context.Background())
	if err == nil {
		t.Fatalf("expected start to fail on a busy address")
	}
	var startupErr *module.StartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("expected a startup error, got %v", err)
	}
}
