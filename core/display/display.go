// Package display exposes the assistant's event stream over a websocket
// endpoint: connected clients see responses, detections, and lifecycle
// announcements as JSON frames. Input flows the other way too: plain
// text becomes a typed utterance, and JSON-framed detections let remote
// perception clients stand in for a local camera.
package display

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koscakluka/ada-core/core/bus"
	"github.com/koscakluka/ada-core/core/events"
	"github.com/koscakluka/ada-core/core/module"
)

// Name is the module identity used on published events.
const Name = "display"

// frame is the JSON shape sent to connected clients, one per event.
type frame struct {
	Kind      string    `json:"kind"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`

	Text     string   `json:"text,omitempty"`
	Fallback bool     `json:"fallback,omitempty"`
	Objects  []string `json:"objects,omitempty"`
	Phase    string   `json:"phase,omitempty"`
	Module   string   `json:"module,omitempty"`
	Detail   string   `json:"detail,omitempty"`
}

type Module struct {
	runtime *module.Runtime
	bus     *bus.Bus
	options options

	upgrader websocket.Upgrader
	server   *http.Server

	mu            sync.Mutex
	addr          string
	clients       map[*client]struct{}
	subscriptions []*bus.Subscription
}

var _ module.Module = (*Module)(nil)

func New(b *bus.Bus, opts ...Option) *Module {
	options := defaultModuleOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Module{
		runtime: module.NewRuntime(),
		bus:     b,
		options: options,
		clients: map[*client]struct{}{},
	}
}

func (m *Module) Name() string { return Name }

func (m *Module) Topics() module.Topics {
	return module.Topics{
		Subscribes: []events.Topic{events.TopicResponse, events.TopicDetection, events.TopicLifecycle},
		Publishes:  []events.Topic{events.TopicUtterance, events.TopicDetection, events.TopicHealth},
	}
}

func (m *Module) Health() module.Health { return m.runtime.Health() }

// Addr returns the bound listen address, useful when the configured
// address uses an ephemeral port.
func (m *Module) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

func (m *Module) Start(ctx context.Context) error {
	if err := m.runtime.Starting(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", m.options.addr)
	if err != nil {
		startupErr := module.NewStartupError(Name, fmt.Errorf("failed to listen on %s: %w", m.options.addr, err))
		m.runtime.Fail(startupErr)
		return startupErr
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.handleWebsocket)

	m.mu.Lock()
	m.addr = listener.Addr().String()
	m.server = &http.Server{Handler: mux}
	server := m.server
	m.mu.Unlock()

	for _, topic := range []events.Topic{events.TopicResponse, events.TopicDetection, events.TopicLifecycle} {
		subscription, err := m.bus.Subscribe(topic, Name, m.onEvent)
		if err != nil {
			m.stopSubscriptions()
			_ = listener.Close()
			startupErr := module.NewStartupError(Name, err)
			m.runtime.Fail(startupErr)
			return startupErr
		}
		m.mu.Lock()
		m.subscriptions = append(m.subscriptions, subscription)
		m.mu.Unlock()
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.runtime.Fail(module.NewFatalError(Name, err))
			m.publishHealth()
		}
	}()

	if err := m.runtime.Running(); err != nil {
		return err
	}
	m.publishHealth()
	logger.Info("display listening", "addr", m.addr)
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if alreadyStopped := m.runtime.Stopping(); alreadyStopped {
		return nil
	}

	m.stopSubscriptions()

	m.mu.Lock()
	server := m.server
	m.server = nil
	clients := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = map[*client]struct{}{}
	m.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			m.runtime.Fail(fmt.Errorf("server did not shut down: %w", err))
			return err
		}
	}

	m.runtime.Stopped()
	return nil
}

func (m *Module) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("failed to upgrade websocket", "error", err)
		return
	}

	c := newClient(conn, m.options.clientBuffer)
	m.mu.Lock()
	m.clients[c] = struct{}{}
	m.mu.Unlock()

	go c.writeLoop()
	go m.readLoop(c)
}

// input is what connected clients may send in: plain text becomes a
// typed utterance; JSON lets remote perception clients inject detections.
type input struct {
	Kind       string   `json:"kind"`
	Text       string   `json:"text"`
	Objects    []string `json:"objects"`
	Confidence float64  `json:"confidence"`
}

// readLoop turns inbound frames from one client into bus events.
func (m *Module) readLoop(c *client) {
	defer func() {
		m.mu.Lock()
		delete(m.clients, c)
		m.mu.Unlock()
		c.close()
	}()

	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage || len(msg) == 0 {
			continue
		}

		if err := m.bus.Publish(toEvent(msg)); err != nil {
			logger.Error("failed to publish client input", "error", err)
		}
	}
}

func toEvent(msg []byte) events.Event {
	var parsed input
	if err := json.Unmarshal(msg, &parsed); err == nil {
		switch events.Topic(parsed.Kind) {
		case events.TopicUtterance:
			return events.NewUtterance(Name, parsed.Text)
		case events.TopicDetection:
			return events.NewDetection(Name, parsed.Objects, parsed.Confidence)
		}
	}
	return events.NewUtterance(Name, string(msg))
}

// onEvent fans one bus event out to every connected client. A client
// whose queue is full loses the frame; the broadcast never blocks.
func (m *Module) onEvent(_ context.Context, delivery bus.Delivery) error {
	f, ok := toFrame(delivery.Event)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	m.mu.Lock()
	clients := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		if dropped := c.send(payload); dropped {
			logger.Warn("dropped frame for slow display client")
		}
	}
	return nil
}

func toFrame(event events.Event) (frame, bool) {
	base := frame{
		Kind:      string(event.Topic()),
		Source:    event.Source(),
		Timestamp: event.Timestamp(),
	}

	switch typed := event.(type) {
	case events.Response:
		base.Text = typed.Text
		base.Fallback = typed.Fallback
	case events.Detection:
		base.Objects = typed.Objects
	case events.Lifecycle:
		base.Phase = string(typed.Phase)
		base.Module = typed.Module
		base.Detail = typed.Detail
	default:
		return frame{}, false
	}
	return base, true
}

func (m *Module) stopSubscriptions() {
	m.mu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.mu.Unlock()

	for _, subscription := range subscriptions {
		subscription.Unsubscribe()
	}
}

func (m *Module) publishHealth() {
	health := m.runtime.Health()
	if err := m.bus.Publish(events.NewHealth(Name, string(health.State), health.Message)); err != nil {
		logger.Error("failed to publish health", "error", err)
	}
}

type client struct {
	conn  *websocket.Conn
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func newClient(conn *websocket.Conn, buffer int) *client {
	return &client{
		conn:  conn,
		queue: make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

func (c *client) send(payload []byte) (dropped bool) {
	select {
	case c.queue <- payload:
		return false
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.queue:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
