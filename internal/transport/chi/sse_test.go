package chi

import (
	"net/http/httptest"
	"strings"
	"testing"

	domchat "github.com/reactular/web3-insight-chat/internal/domain/chat"
)

func TestSSEWriter_Headers(t *testing.T) {
	rec := httptest.NewRecorder()

	if _, err := newSSEWriter(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := rec.Header()
	if got := h.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("expected event-stream content type, got %q", got)
	}
	if got := h.Get("Cache-Control"); got != "no-cache" {
		t.Errorf("expected no-cache, got %q", got)
	}
	if got := h.Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("expected proxy buffering disabled, got %q", got)
	}
}

func TestSSEWriter_FrameFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := newSSEWriter(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := sse.Send(domchat.ChunkEvent("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	want := "event: chunk\ndata: {\"content\":\"hello\"}\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("expected frame %q, got %q", want, got)
	}
}

func TestSSEWriter_EventSequence(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := newSSEWriter(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := []domchat.Event{
		domchat.SourcesEvent([]domchat.Source{{Name: "Doc", URL: "https://x.test"}}),
		domchat.StartEvent("Generating response"),
		domchat.ChunkEvent("partial"),
		domchat.DoneEvent("Response complete", "partial"),
	}
	for _, ev := range events {
		if err := sse.Send(ev); err != nil {
			t.Fatalf("send %s: %v", ev.Type, err)
		}
	}

	body := rec.Body.String()
	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d: %q", len(frames), body)
	}

	wantPrefixes := []string{"event: sources\n", "event: start\n", "event: chunk\n", "event: done\n"}
	for i, prefix := range wantPrefixes {
		if !strings.HasPrefix(frames[i], prefix) {
			t.Errorf("frame %d: expected prefix %q, got %q", i, prefix, frames[i])
		}
	}
	if !strings.Contains(frames[3], `"fullContent":"partial"`) {
		t.Errorf("expected accumulated content on done frame, got %q", frames[3])
	}
}

func TestSSEWriter_NilSourcesSerializeAsEmptyList(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := newSSEWriter(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := sse.Send(domchat.SourcesEvent(nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := rec.Body.String(); !strings.Contains(got, `"sources":[]`) {
		t.Errorf("expected empty list, got %q", got)
	}
}

func TestSSEWriter_ErrorFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := newSSEWriter(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := sse.Send(domchat.ErrorEvent("The assistant is temporarily unavailable. Please try again.")); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := rec.Body.String()
	if !strings.HasPrefix(got, "event: error\n") {
		t.Errorf("expected error event name, got %q", got)
	}
	if !strings.Contains(got, `"error":"The assistant is temporarily unavailable. Please try again."`) {
		t.Errorf("expected error payload, got %q", got)
	}
}
