// Package session is the in-memory browser session store.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/firealarmweb/firealarm/internal/models"
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

type Session struct {
	ID        string
	UserID    string
	Username  string
	Role      models.Role
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Identity returns the caller the session authenticates.
func (s *Session) Identity() models.Identity {
	return models.Identity{UserID: s.UserID, Username: s.Username, Role: s.Role}
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore creates a store and starts its expiry sweep. Call Close to stop it.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go s.cleanupLoop(5 * time.Minute)
	return s
}

func (s *Store) Create(id models.Identity) (*Session, error) {
	sid, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &Session{
		ID:        sid,
		UserID:    id.UserID,
		Username:  id.Username,
		Role:      id.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[sid] = session
	s.mu.Unlock()

	return session, nil
}

func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok || s.now().After(session.ExpiresAt) {
		return nil, false
	}
	return session, true
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len returns the number of stored sessions, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// TTL returns the session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Close stops the expiry sweep. Sessions stay readable.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, id)
		}
	}
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
