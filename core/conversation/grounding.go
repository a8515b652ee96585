package conversation

import (
	"sync"
	"time"

	"github.com/koscakluka/ada-core/core/events"
)

const defaultGroundingCapacity = 16

// groundingBuffer keeps the most recent detections so a turn can attach
// best-effort perceptual context. It is a bounded ring; stale entries fall
// off the front.
type groundingBuffer struct {
	mu         sync.Mutex
	capacity   int
	detections []events.Detection
}

func newGroundingBuffer(capacity int) *groundingBuffer {
	if capacity <= 0 {
		capacity = defaultGroundingCapacity
	}
	return &groundingBuffer{capacity: capacity}
}

func (g *groundingBuffer) Add(detection events.Detection) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.detections = append(g.detections, detection)
	if len(g.detections) > g.capacity {
		g.detections = g.detections[len(g.detections)-g.capacity:]
	}
}

// Recent returns summaries of detections newer than maxAge, oldest first.
// Empty summaries are skipped.
func (g *groundingBuffer) Recent(maxAge time.Duration, now time.Time) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := now.Add(-maxAge)
	var summaries []string
	for _, detection := range g.detections {
		if detection.Timestamp().Before(cutoff) {
			continue
		}
		if summary := detection.Summary(); summary != "" {
			summaries = append(summaries, summary)
		}
	}
	return summaries
}

func (g *groundingBuffer) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detections = nil
}
