package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	domchat "github.com/reactular/web3-insight-chat/internal/domain/chat"
)

// sseWriter frames chat events as server-sent events:
//
//	event: <name>\n
//	data: <JSON>\n
//	\n
//
// flushed after every event so chunks reach the client as they arrive.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	return &sseWriter{w: w, f: f}, nil
}

// Send writes one event frame and flushes it.
func (s *sseWriter) Send(ev domchat.Event) error {
	payload, err := json.Marshal(eventPayload(ev))
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.f.Flush()
	return nil
}

// eventPayload maps an event to its wire JSON shape.
func eventPayload(ev domchat.Event) any {
	switch ev.Type {
	case domchat.EventSources:
		sources := ev.Sources
		if sources == nil {
			sources = []domchat.Source{}
		}
		return map[string]any{"sources": sources}
	case domchat.EventStart:
		return map[string]any{"message": ev.Message}
	case domchat.EventChunk:
		return map[string]any{"content": ev.Content}
	case domchat.EventDone:
		return map[string]any{"message": ev.Message, "fullContent": ev.FullContent}
	case domchat.EventError:
		return map[string]any{"error": ev.Err}
	default:
		return map[string]any{}
	}
}
