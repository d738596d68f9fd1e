// Package chat orchestrates one chat request end to end: retrieval, external
// context, assembly, and completion, emitted as an ordered event stream.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/reactular/web3-insight-chat/internal/domain"
	domchat "github.com/reactular/web3-insight-chat/internal/domain/chat"
	"github.com/reactular/web3-insight-chat/internal/domain/search/filter"
	"github.com/reactular/web3-insight-chat/internal/domain/search/result"
	"github.com/reactular/web3-insight-chat/internal/metrics"
)

// User-safe terminal messages. Internal error detail goes to the log only.
const (
	msgNotConfigured = "The assistant is not configured with a language model provider. Set a completion API key to enable answers."
	msgUnavailable   = "The assistant is temporarily unavailable. Please try again."
)

// startMessage is carried on the start event.
const startMessage = "Generating response"

// Service drives the chat request pipeline. Retrieval and external context
// are quality enhancements: their failures degrade to empty context. The
// completion is the mandatory path: its failures terminate the stream with a
// single error event.
type Service struct {
	retriever Retriever
	market    ContextProvider
	completer domain.Completer
	log       *zap.Logger
}

// New creates a chat orchestrator. completer may be nil when no provider is
// configured; requests then terminate with a message naming that condition.
func New(retriever Retriever, market ContextProvider, completer domain.Completer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{retriever: retriever, market: market, completer: completer, log: log}
}

// Stream answers a chat message as an ordered event sequence:
// sources, start, zero or more chunks, then exactly one of done or error.
// The channel is closed after the terminal event. Cancelling ctx stops the
// stream and releases the upstream completion stream.
func (s *Service) Stream(ctx context.Context, message string, f filter.Filter) <-chan domchat.Event {
	out := make(chan domchat.Event, 8)
	go func() {
		defer close(out)
		s.run(ctx, message, f, out)
	}()
	return out
}

func (s *Service) run(ctx context.Context, message string, f filter.Filter, out chan<- domchat.Event) {
	snippets, external := s.gatherContext(ctx, message, f)
	contextText := Assemble(snippets, external.Text)

	if !s.send(ctx, out, domchat.SourcesEvent(s.combineSources(snippets, external))) {
		return
	}
	if !s.send(ctx, out, domchat.StartEvent(startMessage)) {
		return
	}

	if s.completer == nil {
		metrics.ChatStreamsTotal.WithLabelValues("error").Inc()
		s.send(ctx, out, domchat.ErrorEvent(msgNotConfigured))
		return
	}

	stream, err := s.completer.StreamComplete(ctx, message, contextText)
	if err != nil {
		metrics.ChatStreamsTotal.WithLabelValues("error").Inc()
		s.log.Error("completion stream open failed", zap.Error(err))
		s.send(ctx, out, domchat.ErrorEvent(userSafeMessage(err)))
		return
	}
	defer stream.Close()

	var full []byte
	for {
		select {
		case <-ctx.Done():
			metrics.ChatStreamsTotal.WithLabelValues("cancelled").Inc()
			return
		default:
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			metrics.ChatStreamsTotal.WithLabelValues("done").Inc()
			s.send(ctx, out, domchat.DoneEvent("Response complete", string(full)))
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				metrics.ChatStreamsTotal.WithLabelValues("cancelled").Inc()
				return
			}
			metrics.ChatStreamsTotal.WithLabelValues("error").Inc()
			s.log.Error("completion stream failed", zap.Error(err))
			s.send(ctx, out, domchat.ErrorEvent(userSafeMessage(err)))
			return
		}

		full = append(full, chunk...)
		if !s.send(ctx, out, domchat.ChunkEvent(chunk)) {
			metrics.ChatStreamsTotal.WithLabelValues("cancelled").Inc()
			return
		}
	}
}

// Ask is the non-streaming variant: same context pipeline, one synchronous
// completion call, one response object.
func (s *Service) Ask(ctx context.Context, message string, f filter.Filter) (domchat.Response, error) {
	snippets, external := s.gatherContext(ctx, message, f)
	contextText := Assemble(snippets, external.Text)

	if s.completer == nil {
		return domchat.Response{}, domain.ErrCompletionNotConfigured
	}

	content, err := s.completer.Complete(ctx, message, contextText)
	if err != nil {
		return domchat.Response{}, fmt.Errorf("complete: %w", err)
	}

	return domchat.Response{
		Content: content,
		Sources: s.combineSources(snippets, external),
	}, nil
}

// gatherContext runs retrieval and the external context fetch, degrading a
// retrieval failure to empty results.
func (s *Service) gatherContext(
	ctx context.Context, message string, f filter.Filter,
) ([]result.Result, domchat.ExternalContext) {
	snippets, err := s.retriever.Retrieve(ctx, message, f)
	if err != nil {
		s.log.Warn("retrieval degraded to empty context", zap.Error(err))
		snippets = nil
	}
	return snippets, s.market.SearchContext(ctx, message)
}

// combineSources lists retrieved-item attributions first, then external
// context attributions.
func (s *Service) combineSources(snippets []result.Result, external domchat.ExternalContext) []domchat.Source {
	sources := make([]domchat.Source, 0, len(snippets)+len(external.Sources))
	for _, r := range snippets {
		sources = append(sources, Attribution(r))
	}
	return append(sources, external.Sources...)
}

// send delivers an event unless the consumer is gone.
func (s *Service) send(ctx context.Context, out chan<- domchat.Event, ev domchat.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func userSafeMessage(err error) string {
	if errors.Is(err, domain.ErrCompletionNotConfigured) {
		return msgNotConfigured
	}
	return msgUnavailable
}
