package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/reactular/web3-insight-chat/internal/domain"
	domchat "github.com/reactular/web3-insight-chat/internal/domain/chat"
	"github.com/reactular/web3-insight-chat/internal/domain/search/filter"
	"github.com/reactular/web3-insight-chat/internal/domain/search/result"
)

// --- Mocks ---

type mockRetriever struct {
	results []result.Result
	err     error
}

func (m *mockRetriever) Retrieve(_ context.Context, _ string, _ filter.Filter) ([]result.Result, error) {
	return m.results, m.err
}

type mockContextProvider struct {
	ctx domchat.ExternalContext
}

func (m *mockContextProvider) SearchContext(_ context.Context, _ string) domchat.ExternalContext {
	return m.ctx
}

type fakeChunkStream struct {
	chunks []string
	err    error // returned after chunks are drained instead of io.EOF
	pos    int
	closed bool
}

func (f *fakeChunkStream) Recv() (string, error) {
	if f.pos < len(f.chunks) {
		c := f.chunks[f.pos]
		f.pos++
		return c, nil
	}
	if f.err != nil {
		return "", f.err
	}
	return "", io.EOF
}

func (f *fakeChunkStream) Close() error {
	f.closed = true
	return nil
}

type mockCompleter struct {
	content   string
	stream    *fakeChunkStream
	openErr   error
	syncErr   error
	gotPrompt string
	gotCtx    string
}

func (m *mockCompleter) Complete(_ context.Context, prompt, contextText string) (string, error) {
	m.gotPrompt = prompt
	m.gotCtx = contextText
	if m.syncErr != nil {
		return "", m.syncErr
	}
	return m.content, nil
}

func (m *mockCompleter) StreamComplete(_ context.Context, prompt, contextText string) (domain.ChunkStream, error) {
	m.gotPrompt = prompt
	m.gotCtx = contextText
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m.stream, nil
}

func collect(t *testing.T, ch <-chan domchat.Event) []domchat.Event {
	t.Helper()
	var events []domchat.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream to close")
		}
	}
}

func eventTypes(events []domchat.Event) []domchat.EventType {
	types := make([]domchat.EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

// --- Stream ---

func TestStream_HappyPathOrdering(t *testing.T) {
	retriever := &mockRetriever{results: []result.Result{
		result.New(1, 0.9, "snippet", map[string]any{"title": "Doc A"}),
	}}
	market := &mockContextProvider{ctx: domchat.ExternalContext{
		Text:    "market snapshot",
		Sources: []domchat.Source{{Name: "CoinGecko Global Market"}},
	}}
	stream := &fakeChunkStream{chunks: []string{"Hello", ", ", "world"}}
	completer := &mockCompleter{stream: stream}
	svc := New(retriever, market, completer, nil)

	events := collect(t, svc.Stream(context.Background(), "what is up", filter.Filter{}))

	want := []domchat.EventType{
		domchat.EventSources, domchat.EventStart,
		domchat.EventChunk, domchat.EventChunk, domchat.EventChunk,
		domchat.EventDone,
	}
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	sources := events[0].Sources
	if len(sources) != 2 || sources[0].Name != "Doc A" || sources[1].Name != "CoinGecko Global Market" {
		t.Errorf("expected knowledge sources before external sources, got %v", sources)
	}
	if events[len(events)-1].FullContent != "Hello, world" {
		t.Errorf("expected accumulated content, got %q", events[len(events)-1].FullContent)
	}
	if !stream.closed {
		t.Error("expected the completion stream to be closed")
	}
	if completer.gotCtx == "" {
		t.Error("expected assembled context to reach the completer")
	}
}

func TestStream_MidStreamErrorPreservesChunks(t *testing.T) {
	stream := &fakeChunkStream{
		chunks: []string{"partial "},
		err:    fmt.Errorf("upstream reset: %w", domain.ErrCompletionProvider),
	}
	svc := New(&mockRetriever{}, &mockContextProvider{}, &mockCompleter{stream: stream}, nil)

	events := collect(t, svc.Stream(context.Background(), "q", filter.Filter{}))

	got := eventTypes(events)
	want := []domchat.EventType{domchat.EventSources, domchat.EventStart, domchat.EventChunk, domchat.EventError}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if events[2].Content != "partial " {
		t.Errorf("expected delivered chunk preserved, got %q", events[2].Content)
	}
	if events[3].Err != msgUnavailable {
		t.Errorf("expected generic unavailable message, got %q", events[3].Err)
	}
}

func TestStream_RetrievalFailureDegrades(t *testing.T) {
	retriever := &mockRetriever{err: errors.New("index offline")}
	market := &mockContextProvider{ctx: domchat.ExternalContext{
		Sources: []domchat.Source{{Name: "DefiLlama Protocols"}},
	}}
	stream := &fakeChunkStream{chunks: []string{"answer"}}
	svc := New(retriever, market, &mockCompleter{stream: stream}, nil)

	events := collect(t, svc.Stream(context.Background(), "q", filter.Filter{}))

	if events[0].Type != domchat.EventSources {
		t.Fatalf("expected sources first, got %v", events[0].Type)
	}
	if len(events[0].Sources) != 1 || events[0].Sources[0].Name != "DefiLlama Protocols" {
		t.Errorf("expected only external sources after retrieval failure, got %v", events[0].Sources)
	}
	if events[len(events)-1].Type != domchat.EventDone {
		t.Error("expected the stream to complete despite retrieval failure")
	}
}

func TestStream_NilCompleter(t *testing.T) {
	svc := New(&mockRetriever{}, &mockContextProvider{}, nil, nil)

	events := collect(t, svc.Stream(context.Background(), "q", filter.Filter{}))

	got := eventTypes(events)
	want := []domchat.EventType{domchat.EventSources, domchat.EventStart, domchat.EventError}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if events[2].Err != msgNotConfigured {
		t.Errorf("expected configuration message, got %q", events[2].Err)
	}
}

func TestStream_StreamOpenFailure(t *testing.T) {
	completer := &mockCompleter{openErr: fmt.Errorf("dial: %w", domain.ErrCompletionProvider)}
	svc := New(&mockRetriever{}, &mockContextProvider{}, completer, nil)

	events := collect(t, svc.Stream(context.Background(), "q", filter.Filter{}))

	last := events[len(events)-1]
	if last.Type != domchat.EventError {
		t.Fatalf("expected terminal error event, got %v", last.Type)
	}
	if last.Err != msgUnavailable {
		t.Errorf("expected user-safe message, got %q", last.Err)
	}
}

func TestStream_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := &fakeChunkStream{chunks: []string{"never"}}
	svc := New(&mockRetriever{}, &mockContextProvider{}, &mockCompleter{stream: stream}, nil)

	events := collect(t, svc.Stream(ctx, "q", filter.Filter{}))

	for _, ev := range events {
		if ev.Type == domchat.EventDone {
			t.Error("expected no done event after cancellation")
		}
	}
}

// --- Ask ---

func TestAsk_Success(t *testing.T) {
	retriever := &mockRetriever{results: []result.Result{
		result.New(3, 0.8, "snippet", map[string]any{"source": "docs"}),
	}}
	completer := &mockCompleter{content: "the answer"}
	svc := New(retriever, &mockContextProvider{}, completer, nil)

	resp, err := svc.Ask(context.Background(), "question", filter.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "the answer" {
		t.Errorf("expected completion content, got %q", resp.Content)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Name != "docs" {
		t.Errorf("expected snippet attribution, got %v", resp.Sources)
	}
	if completer.gotPrompt != "question" {
		t.Errorf("expected the user message forwarded, got %q", completer.gotPrompt)
	}
}

func TestAsk_NotConfigured(t *testing.T) {
	svc := New(&mockRetriever{}, &mockContextProvider{}, nil, nil)

	_, err := svc.Ask(context.Background(), "q", filter.Filter{})
	if !errors.Is(err, domain.ErrCompletionNotConfigured) {
		t.Fatalf("expected ErrCompletionNotConfigured, got %v", err)
	}
}

func TestAsk_CompletionFailure(t *testing.T) {
	completer := &mockCompleter{syncErr: fmt.Errorf("upstream: %w", domain.ErrCompletionProvider)}
	svc := New(&mockRetriever{}, &mockContextProvider{}, completer, nil)

	_, err := svc.Ask(context.Background(), "q", filter.Filter{})
	if !errors.Is(err, domain.ErrCompletionProvider) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
}
