// Package websocket streams growth events to connected clients. Clients
// subscribe to patients; every event published for a patient is pushed to
// that patient's subscribers.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/drhazemibclc/pediatric-clinic/internal/platform/events"
)

// Notification is the frame pushed to subscribers for every event.
type Notification struct {
	Type       string          `json:"type"`
	PatientID  string          `json:"patient_id"`
	EventID    string          `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Reply acknowledges a subscription change. Patients the caller may not
// read are listed under Denied.
type Reply struct {
	Type     string   `json:"type"`
	Patients []string `json:"patients"`
	Denied   []string `json:"denied,omitempty"`
}

// ClientMessage represents an inbound message from a WebSocket client.
type ClientMessage struct {
	Action   string   `json:"action"`
	Patients []string `json:"patients"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents a single WebSocket connection. admit maps a requested
// patient id to the key events are published under and reports whether the
// client may subscribe to it; nil admits every id unchanged.
type Client struct {
	ID       string
	Patients []string
	Send     chan []byte
	admit    func(patientID string) (key string, ok bool)
}

func (c *Client) key(patientID string) (string, bool) {
	if c.admit == nil {
		return patientID, true
	}
	return c.admit(patientID)
}

// Hub tracks clients and their patient subscriptions. It implements
// events.Publisher so it can sit next to the broker publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // patient -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
	dropped func()
}

// NewHub creates a new Hub. onDrop, when set, is called for every frame
// discarded because a client's buffer was full.
func NewHub(logger zerolog.Logger, onDrop func()) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
		dropped: onDrop,
	}
}

// Register adds a client to the hub and subscribes it to its initial
// patients.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, pid := range client.Patients {
		h.addLocked(pid, client)
	}
}

// Unregister removes a client from every subscription and closes its Send
// channel. Unregistering twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(client)
}

func (h *Hub) unregisterLocked(client *Client) {
	if _, ok := h.all[client]; !ok {
		return
	}
	for _, pid := range client.Patients {
		h.removeLocked(pid, client)
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) addLocked(pid string, client *Client) {
	if h.clients[pid] == nil {
		h.clients[pid] = make(map[*Client]struct{})
	}
	h.clients[pid][client] = struct{}{}
}

func (h *Hub) removeLocked(pid string, client *Client) {
	if subscribers, ok := h.clients[pid]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, pid)
		}
	}
}

// Subscribe adds the permitted patients to a registered client and returns
// the ones that were refused.
func (h *Hub) Subscribe(client *Client, patients []string) (denied []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return nil
	}
	for _, requested := range patients {
		pid, ok := client.key(requested)
		if !ok {
			denied = append(denied, requested)
			continue
		}
		if _, already := h.clients[pid][client]; already {
			continue
		}
		h.addLocked(pid, client)
		client.Patients = append(client.Patients, pid)
	}
	return denied
}

// Unsubscribe removes patients from a registered client.
func (h *Hub) Unsubscribe(client *Client, patients []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(patients))
	for _, requested := range patients {
		pid, ok := client.key(requested)
		if !ok {
			continue
		}
		removeSet[pid] = struct{}{}
		h.removeLocked(pid, client)
	}

	remaining := make([]string, 0, len(client.Patients))
	for _, pid := range client.Patients {
		if _, rm := removeSet[pid]; !rm {
			remaining = append(remaining, pid)
		}
	}
	client.Patients = remaining
}

// ProcessMessage applies a ClientMessage and returns the reply to send back,
// or nil for unknown actions.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) *Reply {
	switch msg.Action {
	case "subscribe":
		denied := h.Subscribe(client, msg.Patients)
		return &Reply{Type: "subscribed", Patients: h.patientsOf(client), Denied: denied}
	case "unsubscribe":
		h.Unsubscribe(client, msg.Patients)
		return &Reply{Type: "unsubscribed", Patients: h.patientsOf(client)}
	}
	return nil
}

func (h *Hub) patientsOf(client *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string{}, client.Patients...)
}

// Reply queues r for client. Clients that already left are skipped.
func (h *Hub) Reply(client *Client, r *Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

// Publish pushes evt to every client subscribed to the event's patient key.
func (h *Hub) Publish(_ context.Context, evt events.Event) error {
	data, err := json.Marshal(Notification{
		Type:       evt.Type,
		PatientID:  evt.Key,
		EventID:    evt.ID,
		OccurredAt: evt.OccurredAt,
		Data:       evt.Data,
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[evt.Key] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("event_type", evt.Type).Msg("client buffer full, dropping event")
			if h.dropped != nil {
				h.dropped()
			}
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.all {
		h.unregisterLocked(client)
	}
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// PatientCount returns the number of clients subscribed to a patient.
func (h *Hub) PatientCount(patientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[patientID])
}
