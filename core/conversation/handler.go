// Package conversation implements the assistant's reasoning module: it
// turns utterance events into response events through a strictly
// serialized turn state machine, attaching recent detections as
// best-effort grounding.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/koscakluka/ada-core/core/bus"
	"github.com/koscakluka/ada-core/core/events"
	"github.com/koscakluka/ada-core/core/llms"
	"github.com/koscakluka/ada-core/core/module"
)

// Name is the module identity used on published events.
const Name = "conversation"

// Phase is the handler's turn-processing state.
//
//	idle -> awaiting_grounding -> generating -> idle
//
// Completion and abortion are terminal states of the turn itself (see
// TurnStatus); the handler always returns to idle. While generating,
// incoming utterances queue in arrival order; at most one generation is in
// flight at any instant.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseAwaitingGrounding Phase = "awaiting_grounding"
	PhaseGenerating        Phase = "generating"
)

type Handler struct {
	runtime   *module.Runtime
	bus       *bus.Bus
	generator llms.Generator
	session   *Session
	grounding *groundingBuffer
	options   options

	phase atomic.Value // Phase

	queue         chan events.Utterance
	subscriptions []*bus.Subscription

	superseded       atomic.Bool
	cancelMu         sync.Mutex
	cancelGeneration context.CancelFunc

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

var _ module.Module = (*Handler)(nil)

func New(b *bus.Bus, generator llms.Generator, opts ...Option) *Handler {
	options := defaultHandlerOptions()
	for _, opt := range opts {
		opt(&options)
	}

	h := &Handler{
		runtime:   module.NewRuntime(),
		bus:       b,
		generator: generator,
		session:   NewSession(),
		grounding: newGroundingBuffer(defaultGroundingCapacity),
		options:   options,
	}
	h.phase.Store(PhaseIdle)
	return h
}

func (h *Handler) Name() string { return Name }

func (h *Handler) Topics() module.Topics {
	return module.Topics{
		Subscribes: []events.Topic{events.TopicUtterance, events.TopicDetection},
		Publishes:  []events.Topic{events.TopicResponse, events.TopicHealth},
	}
}

func (h *Handler) Health() module.Health { return h.runtime.Health() }

// Session exposes the owned session for snapshotting. All mutation stays
// inside the handler.
func (h *Handler) Session() *Session { return h.session }

// Phase returns the current turn-processing phase.
func (h *Handler) Phase() Phase { return h.phase.Load().(Phase) }

func (h *Handler) Start(ctx context.Context) error {
	if err := h.runtime.Starting(); err != nil {
		return err
	}
	if h.generator == nil {
		err := module.NewStartupError(Name, errors.New("no generator configured"))
		h.runtime.Fail(err)
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h.cancelLoop = cancel
	h.loopDone = make(chan struct{})
	h.queue = make(chan events.Utterance, h.options.queueCapacity)

	utteranceSubscription, err := h.bus.Subscribe(events.TopicUtterance, Name, func(_ context.Context, delivery bus.Delivery) error {
		utterance, ok := delivery.Event.(events.Utterance)
		if !ok {
			return fmt.Errorf("unexpected event type %T on utterance topic", delivery.Event)
		}
		h.enqueue(loopCtx, utterance)
		return nil
	})
	if err != nil {
		startupErr := module.NewStartupError(Name, err)
		h.runtime.Fail(startupErr)
		return startupErr
	}
	h.subscriptions = append(h.subscriptions, utteranceSubscription)

	detectionSubscription, err := h.bus.Subscribe(events.TopicDetection, Name, func(_ context.Context, delivery bus.Delivery) error {
		detection, ok := delivery.Event.(events.Detection)
		if !ok {
			return fmt.Errorf("unexpected event type %T on detection topic", delivery.Event)
		}
		h.grounding.Add(detection)
		return nil
	})
	if err != nil {
		h.stopSubscriptions()
		startupErr := module.NewStartupError(Name, err)
		h.runtime.Fail(startupErr)
		return startupErr
	}
	h.subscriptions = append(h.subscriptions, detectionSubscription)

	go h.processLoop(loopCtx)

	if err := h.runtime.Running(); err != nil {
		return err
	}
	h.publishHealth()
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	if alreadyStopped := h.runtime.Stopping(); alreadyStopped {
		return nil
	}

	h.stopSubscriptions()
	h.supersedeGeneration()
	if h.cancelLoop != nil {
		h.cancelLoop()
	}

	if h.loopDone != nil {
		select {
		case <-h.loopDone:
		case <-ctx.Done():
			h.runtime.Fail(fmt.Errorf("processing loop did not stop: %w", ctx.Err()))
			return ctx.Err()
		}
	}

	h.runtime.Stopped()
	return nil
}

// enqueue hands an utterance to the processing loop. The send blocks when
// the queue is full, backpressuring only this module's bus worker:
// utterances are queued, never dropped.
func (h *Handler) enqueue(ctx context.Context, utterance events.Utterance) {
	select {
	case h.queue <- utterance:
	case <-ctx.Done():
		return
	}

	if h.options.supersede && h.Phase() == PhaseGenerating {
		h.supersedeGeneration()
	}
}

func (h *Handler) processLoop(ctx context.Context) {
	defer close(h.loopDone)

	for {
		select {
		case <-ctx.Done():
			return
		case utterance := <-h.queue:
			h.processTurn(ctx, utterance)
		}
	}
}

func (h *Handler) processTurn(ctx context.Context, utterance events.Utterance) {
	ctx, span := tracer.Start(ctx, "process turn")
	defer span.End()
	span.SetAttributes(attribute.Bool("utterance.transcribed", utterance.Transcribed))

	defer h.phase.Store(PhaseIdle)

	h.phase.Store(PhaseAwaitingGrounding)
	h.awaitGrounding(ctx)
	grounding := h.grounding.Recent(h.options.groundingMaxAge, time.Now())
	span.SetAttributes(attribute.Int("turn.grounding_lines", len(grounding)))

	history := h.session.History(h.options.historyWindow)

	if _, err := h.session.AppendUser(utterance.Text, grounding); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("failed to append user turn", "error", err)
		return
	}
	assistantTurn, err := h.session.BeginAssistant()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("failed to open assistant turn", "error", err)
		return
	}

	h.phase.Store(PhaseGenerating)
	h.superseded.Store(false)
	generateOpts := []llms.GenerateOption{
		llms.WithHistory(history...),
		llms.WithGrounding(grounding...),
	}
	if h.options.instructions != "" {
		generateOpts = append(generateOpts, llms.WithInstructions(h.options.instructions))
	}

	generateCtx, cancel := context.WithTimeout(ctx, h.options.generationTimeout)
	h.setCancelGeneration(cancel)
	reply, err := h.generator.Generate(generateCtx, utterance.Text, generateOpts...)
	h.setCancelGeneration(nil)
	cancel()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if abortErr := h.session.Abort(assistantTurn.ID, err.Error()); abortErr != nil {
			logger.Error("failed to abort assistant turn", "error", abortErr)
		}
		if h.superseded.Load() && errors.Is(err, context.Canceled) {
			span.AddEvent("turn superseded by newer utterance")
			return
		}
		h.publish(events.NewFallbackResponse(Name, h.options.fallbackText, assistantTurn.ID))
		return
	}

	if completeErr := h.session.Complete(assistantTurn.ID, reply); completeErr != nil {
		logger.Error("failed to complete assistant turn", "error", completeErr)
	}
	h.publish(events.NewResponse(Name, reply, assistantTurn.ID))
}

// awaitGrounding waits out the grounding window. The turn proceeds when
// the window elapses, with or without detections.
func (h *Handler) awaitGrounding(ctx context.Context) {
	if h.options.groundingWindow <= 0 {
		return
	}

	timer := time.NewTimer(h.options.groundingWindow)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (h *Handler) publish(event events.Event) {
	if err := h.bus.Publish(event); err != nil {
		logger.Error("failed to publish event", "topic", string(event.Topic()), "error", err)
	}
}

func (h *Handler) publishHealth() {
	health := h.runtime.Health()
	h.publish(events.NewHealth(Name, string(health.State), health.Message))
}

func (h *Handler) stopSubscriptions() {
	for _, subscription := range h.subscriptions {
		subscription.Unsubscribe()
	}
	h.subscriptions = nil
}

func (h *Handler) setCancelGeneration(cancel context.CancelFunc) {
	h.cancelMu.Lock()
	defer h.cancelMu.Unlock()
	h.cancelGeneration = cancel
}

func (h *Handler) supersedeGeneration() {
	h.cancelMu.Lock()
	defer h.cancelMu.Unlock()
	if h.cancelGeneration != nil {
		h.superseded.Store(true)
		h.cancelGeneration()
	}
}
