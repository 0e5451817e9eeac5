package chat

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/firealarmweb/firealarm/internal/apperr"
	"github.com/firealarmweb/firealarm/internal/models"
	"github.com/firealarmweb/firealarm/internal/storage"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200

	typingRate    = 5
	typingBurst   = 5
	typingIdleTTL = time.Minute
)

type typingEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Service implements the chat operations on top of storage and the hub.
type Service struct {
	store  storage.Storage
	hub    *Hub
	logger *zap.Logger
	now    func() time.Time

	typingMu    sync.Mutex
	typing      map[string]*typingEntry
	typingSwept time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a chat service.
func NewService(store storage.Storage, hub *Hub, opts ...Option) *Service {
	s := &Service{
		store:  store,
		hub:    hub,
		logger: zap.NewNop(),
		now:    time.Now,
		typing: make(map[string]*typingEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send persists a message and broadcasts it.
func (s *Service) Send(ctx context.Context, actor models.Identity, body string, kind string) (*models.Message, error) {
	if !actor.Authenticated() {
		return nil, apperr.Unauthorized("authentication required")
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Validation("message is required")
	}
	if utf8.RuneCountInString(body) > models.MaxMessageLength {
		return nil, apperr.Validation("message must be at most 1000 characters")
	}

	k, ok := models.ParseMessageKind(kind)
	if !ok {
		return nil, apperr.Validation("invalid message type")
	}
	if k == models.MessageKindSystem && !actor.IsAdmin() {
		return nil, apperr.Forbidden("only admins can post system messages")
	}

	msg := &models.Message{
		ID:        uuid.New().String(),
		UserID:    actor.UserID,
		Body:      body,
		Kind:      k,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Messages().Create(ctx, msg); err != nil {
		return nil, s.storageErr("create message", err)
	}

	saved, err := s.store.Messages().GetByID(ctx, msg.ID)
	if err != nil {
		return nil, s.storageErr("get message", err)
	}
	if saved == nil {
		saved = msg
		saved.Username = actor.Username
		saved.Role = actor.Role
	}

	s.hub.BroadcastMessage(saved)

	s.logger.Debug("message sent",
		zap.String("message_id", saved.ID),
		zap.String("user_id", saved.UserID),
		zap.String("type", string(saved.Kind)),
	)
	return saved.ForViewer(actor.UserID), nil
}

// List returns one page of history, oldest first.
func (s *Service) List(ctx context.Context, viewer models.Identity, page, limit int) ([]*models.Message, error) {
	if !viewer.Authenticated() {
		return nil, apperr.Unauthorized("authentication required")
	}
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	msgs, err := s.store.Messages().List(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, s.storageErr("list messages", err)
	}

	out := make([]*models.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m.ForViewer(viewer.UserID)
	}
	return out, nil
}

// Typing relays a typing indicator to everyone else. Start events above
// the per-user rate are dropped; stop events are always relayed.
func (s *Service) Typing(actor models.Identity, isTyping bool) error {
	if !actor.Authenticated() {
		return apperr.Unauthorized("authentication required")
	}
	if isTyping && !s.allowTyping(actor.UserID) {
		return nil
	}
	s.hub.BroadcastTyping(actor.UserID, actor.Username, isTyping)
	return nil
}

// Delete removes a message and tells every stream about it.
func (s *Service) Delete(ctx context.Context, messageID string, requester models.Identity) error {
	if !requester.Authenticated() {
		return apperr.Unauthorized("authentication required")
	}

	msg, err := s.store.Messages().GetByID(ctx, messageID)
	if err != nil {
		return s.storageErr("get message", err)
	}
	if msg == nil {
		return apperr.NotFound("message not found")
	}
	if msg.UserID != requester.UserID && !requester.IsAdmin() {
		return apperr.Forbidden("you can only delete your own messages")
	}

	deleted, err := s.store.Messages().Delete(ctx, messageID)
	if err != nil {
		return s.storageErr("delete message", err)
	}
	if !deleted {
		return apperr.NotFound("message not found")
	}

	s.hub.BroadcastDeletion(messageID)

	s.logger.Info("message deleted",
		zap.String("message_id", messageID),
		zap.String("deleted_by", requester.UserID),
	)
	return nil
}

// Online returns who currently holds an open stream.
func (s *Service) Online() OnlineUsers {
	return s.hub.Online()
}

func (s *Service) allowTyping(userID string) bool {
	s.typingMu.Lock()
	now := s.now()
	if now.Sub(s.typingSwept) >= typingIdleTTL {
		s.sweepTyping(now)
	}
	e, ok := s.typing[userID]
	if !ok {
		e = &typingEntry{limiter: rate.NewLimiter(rate.Limit(typingRate), typingBurst)}
		s.typing[userID] = e
	}
	e.lastSeen = now
	s.typingMu.Unlock()

	return e.limiter.Allow()
}

// sweepTyping drops limiters idle for longer than typingIdleTTL.
// Caller holds typingMu.
func (s *Service) sweepTyping(now time.Time) {
	cutoff := now.Add(-typingIdleTTL)
	for id, e := range s.typing {
		if e.lastSeen.Before(cutoff) {
			delete(s.typing, id)
		}
	}
	s.typingSwept = now
}

func (s *Service) storageErr(op string, err error) error {
	s.logger.Error("storage failure", zap.String("op", op), zap.Error(err))
	return apperr.Storage(op, err)
}
