package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
	ErrStreamingUnsupported = errors.New("streaming unsupported")

	// ErrEncodeEvent marks a value SendJSON could not encode. Nothing was
	// written, so the stream is still usable.
	ErrEncodeEvent = errors.New("encode event")
)

// EventStream writes server-sent events.
type EventStream struct {
	w http.ResponseWriter
	f http.Flusher
}

// NewEventStream sets the event-stream headers and sends an initial ping so
// the client sees the connection open.
func NewEventStream(w http.ResponseWriter) (*EventStream, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx
	if _, err := w.Write([]byte(": ping\n\n")); err != nil {
		return nil, err
	}
	f.Flush()
	return &EventStream{w: w, f: f}, nil
}

// SendJSON writes v as one data event.
func (s *EventStream) SendJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeEvent, err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
