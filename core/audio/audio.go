// Package audio implements the speech perception and speech output
// module: it streams microphone audio into a transcriber, publishes
// finalized transcripts as utterance events, and speaks response events
// through a synthesizer and playback device.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/codes"

	"github.com/koscakluka/ada-core/core/bus"
	"github.com/koscakluka/ada-core/core/events"
	"github.com/koscakluka/ada-core/core/module"
)

// Name is the module identity used on published events.
const Name = "audio"

// CaptureClient is the microphone seam. StartCapture begins streaming
// chunks into onAudio and fails when the capture device is unavailable.
type CaptureClient interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
	EncodingInfo() EncodingInfo
}

// Transcriber is the speech-to-text seam. Start opens the stream and
// reports each finalized utterance through onTranscript; interim results
// never surface here.
type Transcriber interface {
	Start(ctx context.Context, encoding EncodingInfo, onTranscript func(transcript string)) error
	SendAudio(audio []byte) error
	Close() error
}

// Synthesizer renders reply text as audio ready for the playback device.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// PlaybackClient is the speaker seam.
type PlaybackClient interface {
	StartPlayback(ctx context.Context) error
	SendAudio(audio []byte) error
	StopPlayback() error
}

type Module struct {
	runtime     *module.Runtime
	bus         *bus.Bus
	capture     CaptureClient
	transcriber Transcriber
	options     options

	mu           sync.Mutex
	subscription *bus.Subscription
	capturing    bool
}

var _ module.Module = (*Module)(nil)

// New wires a capture client and a transcriber into an audio module.
// Speech output is optional: without a synthesizer and playback client
// the module stays input-only and responses are left to other sinks.
func New(b *bus.Bus, capture CaptureClient, transcriber Transcriber, opts ...Option) *Module {
	options := defaultModuleOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Module{
		runtime:     module.NewRuntime(),
		bus:         b,
		capture:     capture,
		transcriber: transcriber,
		options:     options,
	}
}

func (m *Module) Name() string { return Name }

func (m *Module) Topics() module.Topics {
	return module.Topics{
		Subscribes: []events.Topic{events.TopicResponse},
		Publishes:  []events.Topic{events.TopicUtterance, events.TopicHealth},
	}
}

func (m *Module) Health() module.Health { return m.runtime.Health() }

func (m *Module) Start(ctx context.Context) error {
	if err := m.runtime.Starting(); err != nil {
		return err
	}
	if m.capture == nil || m.transcriber == nil {
		err := module.NewStartupError(Name, errors.New("capture client and transcriber are required"))
		m.runtime.Fail(err)
		return err
	}

	if err := m.transcriber.Start(ctx, m.capture.EncodingInfo(), m.onTranscript); err != nil {
		startupErr := module.NewStartupError(Name, fmt.Errorf("failed to start transcriber: %w", err))
		m.runtime.Fail(startupErr)
		return startupErr
	}

	if err := m.capture.StartCapture(ctx, m.onAudio); err != nil {
		_ = m.transcriber.Close()
		startupErr := module.NewStartupError(Name, fmt.Errorf("failed to start capture: %w", err))
		m.runtime.Fail(startupErr)
		return startupErr
	}
	m.mu.Lock()
	m.capturing = true
	m.mu.Unlock()

	if m.speaks() {
		if err := m.options.playback.StartPlayback(ctx); err != nil {
			m.teardownCapture()
			startupErr := module.NewStartupError(Name, fmt.Errorf("failed to start playback: %w", err))
			m.runtime.Fail(startupErr)
			return startupErr
		}
	}

	subscription, err := m.bus.Subscribe(events.TopicResponse, Name, m.onResponse)
	if err != nil {
		m.teardownCapture()
		startupErr := module.NewStartupError(Name, err)
		m.runtime.Fail(startupErr)
		return startupErr
	}
	m.mu.Lock()
	m.subscription = subscription
	m.mu.Unlock()

	if err := m.runtime.Running(); err != nil {
		return err
	}
	m.publishHealth()
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if alreadyStopped := m.runtime.Stopping(); alreadyStopped {
		return nil
	}

	m.mu.Lock()
	subscription := m.subscription
	m.subscription = nil
	m.mu.Unlock()
	if subscription != nil {
		subscription.Unsubscribe()
	}

	m.teardownCapture()
	if m.speaks() {
		if err := m.options.playback.StopPlayback(); err != nil {
			logger.Warn("failed to stop playback", "error", err)
		}
	}

	m.runtime.Stopped()
	return nil
}

// onAudio forwards one captured chunk to the transcriber. A failed write
// is recoverable; the transcriber reconnects or the next chunk retries.
func (m *Module) onAudio(audio []byte) {
	if err := m.transcriber.SendAudio(audio); err != nil {
		logger.Warn("failed to forward audio to transcriber", "error", err)
	}
}

func (m *Module) onTranscript(transcript string) {
	if transcript == "" {
		return
	}
	if err := m.bus.Publish(events.NewTranscribedUtterance(Name, transcript)); err != nil {
		logger.Error("failed to publish utterance", "error", err)
	}
}

// onResponse speaks one reply. A failed synthesis or playback loses only
// that reply and marks the module degraded; the next spoken reply
// recovers it. Output failures never fail the module.
func (m *Module) onResponse(ctx context.Context, delivery bus.Delivery) error {
	if !m.speaks() {
		return nil
	}
	response, ok := delivery.Event.(events.Response)
	if !ok {
		return fmt.Errorf("unexpected event type %T on response topic", delivery.Event)
	}

	ctx, span := tracer.Start(ctx, "speak response")
	defer span.End()

	synthesized, err := m.options.synthesizer.Synthesize(ctx, response.Text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.degrade(err)
		return fmt.Errorf("failed to synthesize response: %w", err)
	}

	if err := m.options.playback.SendAudio(synthesized); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.degrade(err)
		return fmt.Errorf("failed to play response: %w", err)
	}

	m.recoverFromDegraded()
	return nil
}

func (m *Module) degrade(err error) {
	if transitionErr := m.runtime.Degrade(err.Error()); transitionErr == nil {
		m.publishHealth()
	}
}

func (m *Module) recoverFromDegraded() {
	if m.runtime.State() != module.StateDegraded {
		return
	}
	if err := m.runtime.Running(); err == nil {
		m.publishHealth()
	}
}

func (m *Module) speaks() bool {
	return m.options.synthesizer != nil && m.options.playback != nil
}

func (m *Module) teardownCapture() {
	m.mu.Lock()
	capturing := m.capturing
	m.capturing = false
	m.mu.Unlock()

	if capturing {
		if err := m.capture.StopCapture(); err != nil {
			logger.Warn("failed to stop capture", "error", err)
		}
	}
	if err := m.transcriber.Close(); err != nil {
		logger.Warn("failed to close transcriber", "error", err)
	}
}

func (m *Module) publishHealth() {
	health := m.runtime.Health()
	if err := m.bus.Publish(events.NewHealth(Name, string(health.State), health.Message)); err != nil {
		logger.Error("failed to publish health", "error", err)
	}
}
