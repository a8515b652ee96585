package conversation

import "time"

const (
	defaultGroundingWindow   = 300 * time.Millisecond
	defaultGroundingMaxAge   = 2 * time.Second
	defaultGenerationTimeout = 5 * time.Second
	defaultHistoryWindow     = 10
	defaultQueueCapacity     = 16
	defaultFallbackText      = "I didn't catch that, could you repeat?"
)

type options struct {
	groundingWindow   time.Duration
	groundingMaxAge   time.Duration
	generationTimeout time.Duration
	historyWindow     int
	queueCapacity     int
	fallbackText      string
	instructions      string
	supersede         bool
}

func defaultHandlerOptions() options {
	return options{
		groundingWindow:   defaultGroundingWindow,
		groundingMaxAge:   defaultGroundingMaxAge,
		generationTimeout: defaultGenerationTimeout,
		historyWindow:     defaultHistoryWindow,
		queueCapacity:     defaultQueueCapacity,
		fallbackText:      defaultFallbackText,
	}
}

type Option func(*options)

// WithGroundingWindow bounds how long a turn waits for detection context
// before generating. Grounding is best-effort; the turn proceeds when the
// window elapses whether or not detections arrived.
func WithGroundingWindow(window time.Duration) Option {
	return func(o *options) {
		if window >= 0 {
			o.groundingWindow = window
		}
	}
}

// WithGroundingMaxAge bounds how old a detection may be and still be
// attached as context.
func WithGroundingMaxAge(maxAge time.Duration) Option {
	return func(o *options) {
		if maxAge > 0 {
			o.groundingMaxAge = maxAge
		}
	}
}

// WithGenerationTimeout bounds a single reply generation. On timeout the
// turn aborts and the fallback response is published instead.
func WithGenerationTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.generationTimeout = timeout
		}
	}
}

// WithHistoryWindow bounds how many prior terminal turns are sent to the
// generator.
func WithHistoryWindow(window int) Option {
	return func(o *options) {
		if window > 0 {
			o.historyWindow = window
		}
	}
}

// WithFallbackText overrides the canned reply published when generation
// fails or times out.
func WithFallbackText(text string) Option {
	return func(o *options) {
		if text != "" {
			o.fallbackText = text
		}
	}
}

// WithInstructions sets the system prompt forwarded to the generator.
func WithInstructions(instructions string) Option {
	return func(o *options) {
		o.instructions = instructions
	}
}

// WithSupersedingUtterances lets a newly queued utterance cancel the
// in-flight generation. Off by default: the in-flight generation runs to
// completion or timeout before the next queued utterance is processed.
func WithSupersedingUtterances() Option {
	return func(o *options) {
		o.supersede = true
	}
}
