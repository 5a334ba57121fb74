package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer wraps an http.ResponseWriter to emit Events as Server-Sent Events,
// the same header/flush shape as manifold's SSEWriter.
type Writer struct {
	w http.ResponseWriter
	f http.Flusher
}

// NewWriter sets the SSE headers and returns a Writer. ok is false if the
// underlying ResponseWriter does not support flushing.
func NewWriter(w http.ResponseWriter) (*Writer, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &Writer{w: w, f: flusher}, true
}

// Send writes one event in "data: <json>\n\n" form and flushes immediately.
func (w *Writer) Send(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal sse event: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.f.Flush()
	return nil
}

// Pump drains bus to the wire until a terminal event is sent, a write
// fails (client gone), or the request context is cancelled — in which case
// it switches to Drain so the runtime producing events never blocks.
func Pump(w *Writer, bus *Bus, done <-chan struct{}) {
	for {
		select {
		case e, ok := <-bus.Events():
			if !ok {
				return
			}
			if err := w.Send(e); err != nil {
				bus.Drain()
				return
			}
			if e.IsTerminal() {
				return
			}
		case <-done:
			bus.Drain()
			return
		}
	}
}
