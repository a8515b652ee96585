package events

import (
	"testing"
	"time"
)

func TestConstructorsEmitExpectedTopics(t *testing.T) {
	testCases := []struct {
		name     string
		event    Event
		expected Topic
	}{
		{name: "utterance", event: NewUtterance("console", "hello"), expected: TopicUtterance},
		{name: "transcribed utterance", event: NewTranscribedUtterance("audio", "hello"), expected: TopicUtterance},
		{name: "detection", event: NewDetection("vision", []string{"cup"}, 0.9), expected: TopicDetection},
		{name: "response", event: NewResponse("conversation", "hi", 1), expected: TopicResponse},
		{name: "fallback response", event: NewFallbackResponse("conversation", "please repeat", 1), expected: TopicResponse},
		{name: "health", event: NewHealth("vision", "running", ""), expected: TopicHealth},
		{name: "lifecycle", event: NewLifecycle("assistant", LifecycleDegraded, "vision", "retries exhausted"), expected: TopicLifecycle},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.Topic(); got != testCase.expected {
				t.Fatalf("expected topic %q, got %q", testCase.expected, got)
			}
		})
	}
}

func TestBaseCarriesSourceAndTimestamp(t *testing.T) {
	before := time.Now()
	event := NewUtterance("console", "hello")

	if got := event.Source(); got != "console" {
		t.Fatalf("expected source %q, got %q", "console", got)
	}
	if event.Timestamp().Before(before) || event.Timestamp().After(time.Now()) {
		t.Fatalf("expected timestamp between construction bounds, got %v", event.Timestamp())
	}
}

func TestDetectionSummary(t *testing.T) {
	if got := NewDetection("vision", []string{"cup", "keyboard"}, 0.8).Summary(); got != "objects in view: cup, keyboard" {
		t.Fatalf("unexpected summary %q", got)
	}
	if got := NewDetection("vision", nil, 0).Summary(); got != "" {
		t.Fatalf("expected empty summary for empty detection, got %q", got)
	}
}
