package chat

import (
	"fmt"
	"net/http"
)

// SSEWriter provides Server-Sent Events writing capabilities.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer.
func NewSSEWriter(w http.ResponseWriter, flusher http.Flusher) *SSEWriter {
	return &SSEWriter{
		w:       w,
		flusher: flusher,
	}
}

// SendData sends data without an event type (uses default "message" event).
// Format: data: <data>\n\n
func (s *SSEWriter) SendData(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SendComment sends a comment (ignored by clients, useful for keepalive).
// Format: : <comment>\n\n
func (s *SSEWriter) SendComment(comment string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", comment); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SendRetry tells the client to wait the specified milliseconds before reconnecting.
// Format: retry: <ms>\n\n
func (s *SSEWriter) SendRetry(milliseconds int) error {
	if _, err := fmt.Fprintf(s.w, "retry: %d\n\n", milliseconds); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
