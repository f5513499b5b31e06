package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maishede/little-eighteen/internal/config"
)

// Topics group events by the component that emits them.
const (
	TopicCamera  = "camera"
	TopicSpeech  = "speech"
	TopicCommand = "command"
	TopicDemo    = "demo"
)

// Event represents a telemetry event with SSE formatting.
type Event struct {
	ID    int64                  `json:"id,omitempty"`
	Type  string                 `json:"type"`
	Data  map[string]interface{} `json:"data"`
	Topic string                 `json:"topic,omitempty"`
}

// Client represents an SSE client connection.
type Client struct {
	ID     string
	Writer http.ResponseWriter
	Cancel context.CancelFunc
	Topic  string
	Events chan Event

	ctx context.Context
	mu  sync.Mutex // protects Writer
}

type listener struct {
	events chan Event
	once   sync.Once
}

// Hub fans events out to SSE clients and in-process listeners.
//
// Lock ordering: h.mu, then Client.mu. The buffer is only touched under h.mu.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	listeners map[*listener]struct{}
	nextID    int64
	buffer    *EventBuffer
	snapshot  func() interface{}

	config config.TelemetryConfig

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHub creates a new telemetry hub with the specified configuration.
func NewHub(cfg config.TelemetryConfig) *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		listeners: make(map[*listener]struct{}),
		buffer:    NewEventBuffer(cfg.EventBufferSize),
		config:    cfg,
		done:      make(chan struct{}),
	}
}

// SetSnapshot sets the function whose result is sent as the ready event.
func (h *Hub) SetSnapshot(fn func() interface{}) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Subscribe handles an SSE client with Last-Event-ID resume. It blocks until
// the client disconnects or the hub stops. ?topic= restricts the stream.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	clientCtx, cancel := context.WithCancel(ctx)

	lastEventID := int64(0)
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if id, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastEventID = id
		}
	}

	client := &Client{
		ID:     uuid.NewString(),
		Writer: w,
		Cancel: cancel,
		Topic:  r.URL.Query().Get("topic"),
		Events: make(chan Event, 100),
		ctx:    clientCtx,
	}

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		cancel()
		return fmt.Errorf("telemetry hub stopped")
	default:
	}
	h.clients[client.ID] = client
	if h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	readyID := h.nextID
	var replay []Event
	if lastEventID > 0 {
		replay = h.buffer.GetEventsAfter(lastEventID)
	}
	h.mu.Unlock()

	defer h.unregisterClient(client.ID)

	if err := h.sendReadyEvent(client, readyID); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	for _, event := range replay {
		if !client.wants(event) {
			continue
		}
		if err := h.sendEventToClient(client, event); err != nil {
			return fmt.Errorf("failed to replay events: %w", err)
		}
	}

	for {
		select {
		case <-client.ctx.Done():
			return nil
		case <-h.done:
			return nil
		case event := <-client.Events:
			if err := h.sendEventToClient(client, event); err != nil {
				return nil
			}
		}
	}
}

// Listen registers an in-process listener. Events are dropped when its
// buffer is full. The returned function unregisters it and closes the channel.
func (h *Hub) Listen(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	l := &listener{events: make(chan Event, buffer)}

	h.mu.Lock()
	h.listeners[l] = struct{}{}
	h.mu.Unlock()

	return l.events, func() {
		h.mu.Lock()
		delete(h.listeners, l)
		h.mu.Unlock()
		l.once.Do(func() { close(l.events) })
	}
}

// Publish assigns an ID, buffers the event and delivers it to every client.
func (h *Hub) Publish(event Event) error {
	select {
	case <-h.done:
		return fmt.Errorf("telemetry hub stopped")
	default:
	}

	h.mu.Lock()
	h.nextID++
	event.ID = h.nextID
	if event.Type != "heartbeat" {
		h.buffer.AddEvent(event)
	}
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	// Listener sends happen under the lock so unregistering cannot close a channel mid-send.
	for l := range h.listeners {
		select {
		case l.events <- event:
		default:
		}
	}
	h.mu.Unlock()

	for _, client := range clients {
		if !client.wants(event) {
			continue
		}
		select {
		case <-client.ctx.Done():
			continue
		case <-h.done:
			return nil
		case client.Events <- event:
		case <-time.After(100 * time.Millisecond):
			// Drop event if client is slow to prevent blocking
		}
	}

	return nil
}

// PublishTopic publishes an event under a topic.
func (h *Hub) PublishTopic(topic string, event Event) error {
	event.Topic = topic
	return h.Publish(event)
}

// ClientCount returns the number of connected SSE clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) wants(event Event) bool {
	return c.Topic == "" || event.Topic == "" || event.Topic == c.Topic
}

// sendReadyEvent sends the initial ready event to a client.
func (h *Hub) sendReadyEvent(client *Client, id int64) error {
	h.mu.RLock()
	fn := h.snapshot
	h.mu.RUnlock()

	data := map[string]interface{}{}
	if fn != nil {
		data["snapshot"] = fn()
	}

	// The ready event carries the ID current at registration; later events arrive on client.Events.
	return h.sendEventToClient(client, Event{ID: id, Type: "ready", Data: data})
}

// sendEventToClient sends a single event to a client via SSE.
func (h *Hub) sendEventToClient(client *Client, event Event) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if event.ID > 0 {
		if _, err := fmt.Fprintf(client.Writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(client.Writer, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(client.Writer, "data: %s\n\n", string(data)); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	if flusher, ok := client.Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	return nil
}

// unregisterClient removes a client from the hub.
func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, exists := h.clients[clientID]
	if !exists {
		return
	}
	client.Cancel()
	delete(h.clients, clientID)

	if len(h.clients) == 0 {
		h.stopHeartbeatLocked()
	}
}

// startHeartbeat starts the heartbeat ticker. Caller must hold h.mu.
func (h *Hub) startHeartbeat() {
	interval := h.config.HeartbeatInterval
	if interval <= 0 {
		return
	}

	// Add jitter to prevent thundering herd
	actualInterval := interval + time.Duration(float64(h.config.HeartbeatJitter)*0.5)

	h.heartbeatTicker = time.NewTicker(actualInterval)
	h.stopHeartbeat = make(chan struct{})

	ticker := h.heartbeatTicker
	stopChan := h.stopHeartbeat

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				h.sendHeartbeat()
			case <-stopChan:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// stopHeartbeatLocked stops the heartbeat goroutine. Caller must hold h.mu.
func (h *Hub) stopHeartbeatLocked() {
	if h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
	}
	if h.stopHeartbeat != nil {
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
}

// sendHeartbeat sends a heartbeat event to all clients.
func (h *Hub) sendHeartbeat() {
	_ = h.Publish(Event{
		Type: "heartbeat",
		Data: map[string]interface{}{
			"ts": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// Stop stops the hub, disconnects SSE clients and closes listeners.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, client := range h.clients {
			client.Cancel()
		}
		h.stopHeartbeatLocked()
		for l := range h.listeners {
			l.once.Do(func() { close(l.events) })
			delete(h.listeners, l)
		}
		h.mu.Unlock()

		done := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			// Goroutines may be stuck
		}
	})
}

// EventBuffer maintains a bounded buffer of recent events.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewEventBuffer creates a new event buffer with the specified capacity.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventBuffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// AddEvent adds an event to the buffer, evicting the oldest when full.
func (b *EventBuffer) AddEvent(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[1:]
	}
}

// GetEventsAfter returns events after the specified ID.
func (b *EventBuffer) GetEventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.ID > lastID {
			result = append(result, event)
		}
	}

	return result
}

// GetSize returns the current buffer size.
func (b *EventBuffer) GetSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
