package chat

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/firealarmweb/firealarm/internal/models"
)

const (
	// DefaultHeartbeat is the keepalive comment interval.
	DefaultHeartbeat = 15 * time.Second
	// DefaultRetryMillis is the reconnect delay advertised to clients.
	DefaultRetryMillis = 5000

	connectedMessage = "Connected to message stream"
)

// ErrStreamingUnsupported is returned when the response cannot be flushed.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// StreamOptions configures Stream.
type StreamOptions struct {
	Heartbeat   time.Duration
	RetryMillis int
	Logger      *zap.Logger
}

// Stream serves hub events to one client until it disconnects or the hub
// drops the connection. A non-nil error means nothing was written to w.
func Stream(w http.ResponseWriter, r *http.Request, hub *Hub, user models.Identity, opts StreamOptions) error {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.RetryMillis <= 0 {
		opts.RetryMillis = DefaultRetryMillis
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Check for SSE support
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreamingUnsupported
	}

	conn, err := hub.Register(user)
	if err != nil {
		return err
	}
	defer hub.Unregister(conn)

	logger = logger.With(zap.String("conn_id", conn.ID), zap.String("user_id", conn.UserID))

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sse := NewSSEWriter(w, flusher)

	if err := sse.SendRetry(opts.RetryMillis); err != nil {
		logger.Debug("stream write failed", zap.Error(err))
		return nil
	}
	greeting, _ := encode(Envelope{Type: EventConnected, Message: connectedMessage})
	if err := sse.SendData(greeting); err != nil {
		logger.Debug("stream write failed", zap.Error(err))
		return nil
	}
	hub.MarkOpen(conn)

	ticker := time.NewTicker(opts.Heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			// Client disconnected
			return nil

		case <-conn.Done():
			return nil

		case payload := <-conn.Events():
			if err := sse.SendData(payload); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return nil
			}

		case <-ticker.C:
			if err := sse.SendComment("heartbeat"); err != nil {
				logger.Debug("heartbeat failed", zap.Error(err))
				return nil
			}
		}
	}
}
