// Package websocket pushes change notifications to connected clinic staff so
// their lists refresh without polling. Subscriptions are scoped to the
// clinic the connection authenticated against.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/db"
)

// Topics clients may subscribe to.
const (
	TopicAppointments   = "appointments"
	TopicMedicalRecords = "medical-records"
	TopicInvoices       = "invoices"
)

var knownTopics = map[string]bool{
	TopicAppointments:   true,
	TopicMedicalRecords: true,
	TopicInvoices:       true,
}

// Event is one change notification.
type Event struct {
	Type         string          `json:"type"`
	Topic        string          `json:"topic"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
	Clinic       string          `json:"-"`
}

// NewEvent builds an event for resource id; data is marshalled when non-nil.
func NewEvent(topic, eventType, resourceType string, id uuid.UUID, data interface{}) Event {
	ev := Event{
		Type:         eventType,
		Topic:        topic,
		ResourceType: resourceType,
		ResourceID:   id.String(),
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

// ClientMessage is an inbound subscribe/unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Publisher is implemented by Hub. Services depend on this.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Client is one connection.
type Client struct {
	ID     string
	Clinic string
	UserID string
	Send   chan []byte

	topics []string
}

func NewClient(clinic, userID string, buffer int) *Client {
	return &Client{
		ID:     uuid.NewString(),
		Clinic: clinic,
		UserID: userID,
		Send:   make(chan []byte, buffer),
	}
}

// Hub tracks clients per clinic topic. All methods are safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // clinic/topic -> clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

func topicKey(clinic, topic string) string { return clinic + "/" + topic }

// Register adds a client and subscribes it to topics. Unknown topics are
// ignored.
func (h *Hub) Register(client *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
	h.subscribeLocked(client, topics)
}

// Unregister removes the client and closes its Send channel. Calling it twice
// is safe.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	h.unsubscribeLocked(client, client.topics)
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribeLocked(client, topics)
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(client, topics)
}

func (h *Hub) subscribeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if !knownTopics[topic] || hasTopic(client.topics, topic) {
			continue
		}
		key := topicKey(client.Clinic, topic)
		if h.clients[key] == nil {
			h.clients[key] = make(map[*Client]struct{})
		}
		h.clients[key][client] = struct{}{}
		client.topics = append(client.topics, topic)
	}
}

func (h *Hub) unsubscribeLocked(client *Client, topics []string) {
	remove := make(map[string]bool, len(topics))
	for _, topic := range topics {
		remove[topic] = true
		key := topicKey(client.Clinic, topic)
		if subs, ok := h.clients[key]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.clients, key)
			}
		}
	}

	kept := client.topics[:0]
	for _, t := range client.topics {
		if !remove[t] {
			kept = append(kept, t)
		}
	}
	client.topics = kept
}

func hasTopic(topics []string, topic string) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

// ProcessMessage applies a subscribe or unsubscribe request.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Publish delivers event to the clinic's subscribers of event.Topic. The clinic
// defaults to the one in ctx. Slow clients miss events rather than block the
// publisher.
func (h *Hub) Publish(ctx context.Context, event Event) error {
	if event.Clinic == "" {
		event.Clinic = db.ClinicFromContext(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topicKey(event.Clinic, event.Topic)] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client", client.ID).Str("topic", event.Topic).Msg("send buffer full, event dropped")
		}
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of subscribers to a clinic topic.
func (h *Hub) TopicCount(clinic, topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topicKey(clinic, topic)])
}

// Topics returns a copy of the client's current subscriptions.
func (h *Hub) Topics(client *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(client.topics))
	copy(out, client.topics)
	return out
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

// Handler upgrades /ws requests and pumps events to the connection.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler allows upgrades from allowedOrigins; "*" allows any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(strings.TrimSpace(a), origin) {
				return true
			}
		}
		return false
	}
}

func (wh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wh.HandleConnect)
}

// HandleConnect subscribes the connection to the comma-separated topics
// query parameter, or to every topic when it is absent.
func (wh *Handler) HandleConnect(c echo.Context) error {
	topics := []string{TopicAppointments, TopicMedicalRecords, TopicInvoices}
	if q := c.QueryParam("topics"); q != "" {
		topics = strings.Split(q, ",")
	}

	ws, err := wh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	clinic, _ := c.Get("clinic_id").(string)
	userID, _ := c.Get("user_id").(string)
	client := NewClient(clinic, userID, 256)
	wh.hub.Register(client, topics...)

	go wh.writePump(client, ws)
	go wh.readPump(client, ws)
	return nil
}

func (wh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if _, ok := err.(*json.SyntaxError); ok {
				continue
			}
			return
		}
		wh.hub.ProcessMessage(client, msg)
	}
}

func (wh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
