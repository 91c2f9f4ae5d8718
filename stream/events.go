// SSE event framing for the C9 stream processor (§6 event catalogue).
package stream

import (
	"encoding/json"
	"fmt"
	"io"
)

// Event is one server-sent event: a name and a JSON-serializable payload.
type Event struct {
	Name string
	Data any
}

// Writer serializes Events onto an http.ResponseWriter-compatible sink in
// SSE wire format, flushing after every event so chat:chunk deltas arrive
// incrementally rather than buffered (§5 "SSE writes" suspension point).
type Writer struct {
	w       io.Writer
	flusher interface{ Flush() }
}

// NewWriter wraps w. If w also implements an http.Flusher-shaped Flush()
// method, each event is flushed immediately.
func NewWriter(w io.Writer) *Writer {
	wr := &Writer{w: w}
	if f, ok := w.(interface{ Flush() }); ok {
		wr.flusher = f
	}
	return wr
}

// Send writes one SSE event and flushes.
func (w *Writer) Send(ev Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("stream.Writer: marshal %s event: %w", ev.Name, err)
	}
	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", ev.Name, payload); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Event name constants (§6).
const (
	EventConnected            = "connected"
	EventChatStart            = "chat:start"
	EventChatChunk            = "chat:chunk"
	EventChatComplete         = "chat:complete"
	EventChatError            = "chat:error"
	EventDependenciesInstall  = "dependencies:installing"
	EventDependenciesInstalled = "dependencies:installed"
	EventDockerStarting       = "docker:starting"
	EventDockerStarted        = "docker:started"
	EventDockerOutput         = "docker:output"
	EventDockerError          = "docker:error"
	EventDockerClosed         = "docker:closed"
)
