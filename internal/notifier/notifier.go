// Package notifier provides notification dispatching for incident events.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/firealarmweb/firealarm/internal/metrics"
	"github.com/firealarmweb/firealarm/internal/models"
)

// EventKind identifies what happened to an incident.
type EventKind string

const (
	EventVerified EventKind = "verified"
	EventFiled    EventKind = "filed"
)

// Event describes an incident state change worth telling responders about.
type Event struct {
	Kind         EventKind
	IncidentID   string
	DeviceID     string
	AlertLevel   models.AlertLevel
	EventAt      time.Time
	Actor        string
	Notes        string
	IncidentType string
}

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the notifier name (e.g., "slack").
	Name() string
	// Send sends an incident notification.
	Send(ctx context.Context, ev Event) error
	// Close releases any resources.
	Close() error
}

// Dispatcher manages multiple notifiers and fans events out to them.
type Dispatcher struct {
	mu          sync.RWMutex
	notifiers   map[string]Notifier
	rateLimiter *RateLimiter
}

// NewDispatcher creates a new notification dispatcher with default rate limiting.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithRateLimit(DefaultRateLimitConfig())
}

// NewDispatcherWithRateLimit creates a dispatcher with custom rate limit configuration.
func NewDispatcherWithRateLimit(config RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		rateLimiter: NewRateLimiter(config),
	}
}

// Register adds a notifier to the dispatcher.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Unregister removes a notifier from the dispatcher.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notifiers, name)
}

// Get returns a notifier by name.
func (d *Dispatcher) Get(name string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[name]
	return n, ok
}

// Len returns the number of registered notifiers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.notifiers)
}

// ErrRateLimited is returned when a notification is dropped due to rate limiting.
var ErrRateLimited = errors.New("notification rate limited")

// Dispatch sends an event to every registered notifier.
// Returns ErrRateLimited if the notification is dropped due to rate limiting.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.notifiers) == 0 {
		return nil
	}

	// Check rate limit
	if d.rateLimiter != nil && !d.rateLimiter.Allow() {
		metrics.NotificationsTotal.WithLabelValues("rate_limited").Inc()
		return ErrRateLimited
	}

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Send(ctx, ev); err != nil {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %w", errors.Join(errs...))
	}
	return nil
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	if d.rateLimiter == nil {
		return RateLimitStats{}
	}
	return d.rateLimiter.Stats()
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.notifiers = make(map[string]Notifier)

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}
