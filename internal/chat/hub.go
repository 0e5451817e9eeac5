// Package chat implements the responder chat and its realtime event stream.
package chat

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/firealarmweb/firealarm/internal/apperr"
	"github.com/firealarmweb/firealarm/internal/metrics"
	"github.com/firealarmweb/firealarm/internal/models"
)

// DefaultSendBuffer is the per-connection event queue size.
const DefaultSendBuffer = 64

// Event types sent on the stream.
const (
	EventConnected      = "connected"
	EventNewMessage     = "new_message"
	EventTyping         = "typing"
	EventMessageDeleted = "message_deleted"
)

// Envelope is the JSON frame carried in each SSE data line.
type Envelope struct {
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// TypingData is the payload of a typing event.
type TypingData struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// DeletionData is the payload of a message_deleted event.
type DeletionData struct {
	MessageID string `json:"messageId"`
}

// ConnState is the lifecycle state of a stream connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Conn is one registered event stream.
type Conn struct {
	ID       string
	UserID   string
	Username string

	events    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

// State returns the connection state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// Events returns the connection's FIFO of encoded frames.
func (c *Conn) Events() <-chan []byte {
	return c.events
}

// Done is closed when the connection is unregistered.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// deliver queues payload without blocking. It reports false when the
// queue is full or the connection has closed.
func (c *Conn) deliver(payload []byte) bool {
	if c.State() == StateClosed {
		return false
	}
	select {
	case <-c.done:
		return false
	case c.events <- payload:
		return true
	default:
		return false
	}
}

// OnlineUser is one distinct connected user.
type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// OnlineUsers is the presence summary.
type OnlineUsers struct {
	Count int          `json:"count"`
	Users []OnlineUser `json:"users"`
}

// Hub fans chat events out to every registered connection.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]*Conn
	logger     *zap.Logger
	sendBuffer int
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(l *zap.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithSendBuffer sets the per-connection queue size.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		conns:      make(map[string]*Conn),
		logger:     zap.NewNop(),
		sendBuffer: DefaultSendBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a connection for user in the connecting state.
func (h *Hub) Register(user models.Identity) (*Conn, error) {
	if !user.Authenticated() {
		return nil, apperr.Unauthorized("authentication required")
	}

	c := &Conn{
		ID:       uuid.New().String(),
		UserID:   user.UserID,
		Username: user.Username,
		events:   make(chan []byte, h.sendBuffer),
		done:     make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	h.mu.Lock()
	h.conns[c.ID] = c
	n := len(h.conns)
	metrics.ChatConnectionsActive.Set(float64(n))
	h.mu.Unlock()

	h.logger.Debug("stream registered",
		zap.String("conn_id", c.ID),
		zap.String("user_id", c.UserID),
		zap.Int("connections", n),
	)
	return c, nil
}

// MarkOpen moves c to the open state once the greeting has been flushed.
func (h *Hub) MarkOpen(c *Conn) {
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// Unregister closes c and removes it. Safe to call more than once.
func (h *Hub) Unregister(c *Conn) {
	c.state.Store(int32(StateClosed))
	c.closeOnce.Do(func() { close(c.done) })

	h.mu.Lock()
	_, ok := h.conns[c.ID]
	delete(h.conns, c.ID)
	n := len(h.conns)
	if ok {
		metrics.ChatConnectionsActive.Set(float64(n))
	}
	h.mu.Unlock()

	if ok {
		h.logger.Debug("stream unregistered",
			zap.String("conn_id", c.ID),
			zap.String("user_id", c.UserID),
			zap.Int("connections", n),
		)
	}
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Online returns the distinct connected users sorted by username.
func (h *Hub) Online() OnlineUsers {
	seen := make(map[string]OnlineUser)
	for _, c := range h.snapshot() {
		seen[c.UserID] = OnlineUser{UserID: c.UserID, Username: c.Username}
	}

	users := make([]OnlineUser, 0, len(seen))
	for _, u := range seen {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username == users[j].Username {
			return users[i].UserID < users[j].UserID
		}
		return users[i].Username < users[j].Username
	})
	return OnlineUsers{Count: len(users), Users: users}
}

// BroadcastMessage sends new_message to every connection, including the
// author's. is_own_message is set per recipient.
func (h *Hub) BroadcastMessage(msg *models.Message) {
	own, err := encode(Envelope{Type: EventNewMessage, Data: msg.ForViewer(msg.UserID)})
	if err != nil {
		h.logger.Error("encode message event", zap.Error(err))
		return
	}
	other, err := encode(Envelope{Type: EventNewMessage, Data: msg.ForViewer("")})
	if err != nil {
		h.logger.Error("encode message event", zap.Error(err))
		return
	}

	h.fanout(EventNewMessage, func(c *Conn) []byte {
		if c.UserID == msg.UserID {
			return own
		}
		return other
	})
}

// BroadcastTyping sends a typing event to every connection not owned by userID.
func (h *Hub) BroadcastTyping(userID, username string, isTyping bool) {
	payload, err := encode(Envelope{Type: EventTyping, Data: TypingData{
		UserID:   userID,
		Username: username,
		IsTyping: isTyping,
	}})
	if err != nil {
		h.logger.Error("encode typing event", zap.Error(err))
		return
	}

	h.fanout(EventTyping, func(c *Conn) []byte {
		if c.UserID == userID {
			return nil
		}
		return payload
	})
}

// BroadcastDeletion sends message_deleted to every connection.
func (h *Hub) BroadcastDeletion(messageID string) {
	payload, err := encode(Envelope{Type: EventMessageDeleted, Data: DeletionData{MessageID: messageID}})
	if err != nil {
		h.logger.Error("encode deletion event", zap.Error(err))
		return
	}

	h.fanout(EventMessageDeleted, func(*Conn) []byte { return payload })
}

// fanout delivers to a snapshot of connections outside the lock.
// A nil payload skips that connection.
func (h *Hub) fanout(eventType string, payloadFor func(*Conn) []byte) {
	metrics.ChatEventsBroadcast.WithLabelValues(eventType).Inc()

	for _, c := range h.snapshot() {
		payload := payloadFor(c)
		if payload == nil {
			continue
		}
		if !c.deliver(payload) {
			metrics.ChatDeliveriesDropped.WithLabelValues(eventType).Inc()
			h.logger.Debug("event dropped",
				zap.String("type", eventType),
				zap.String("conn_id", c.ID),
				zap.String("state", c.State().String()),
			)
		}
	}
}

func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

func encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Close unregisters every connection, ending their streams.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		h.Unregister(c)
	}
}
