package events

import "time"

// Topic is a named category of events.
type Topic string

const (
	TopicUtterance Topic = "utterance"
	TopicDetection Topic = "detection"
	TopicResponse  Topic = "response"
	TopicHealth    Topic = "health"
	TopicLifecycle Topic = "lifecycle"
)

// Topics lists every topic known to the core, in declaration order.
func Topics() []Topic {
	return []Topic{TopicUtterance, TopicDetection, TopicResponse, TopicHealth, TopicLifecycle}
}

type Event interface {
	Topic() Topic
	// Source identifies the module that published the event.
	Source() string
	Timestamp() time.Time
}

type Base struct {
	topic     Topic
	source    string
	timestamp time.Time
}

func NewBase(topic Topic, source string) Base {
	return Base{topic: topic, source: source, timestamp: time.Now()}
}

func (b Base) Topic() Topic {
	return b.topic
}

func (b Base) Source() string {
	return b.source
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}
