// Package anthropic wraps the Anthropic Messages API as a completion provider.
package anthropic

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"go.uber.org/zap"

	"github.com/reactular/web3-insight-chat/internal/domain"
	"github.com/reactular/web3-insight-chat/internal/metrics"
)

const providerName = "anthropic"

// Completer is a chat completion provider using the Anthropic Messages API.
type Completer struct {
	client       anthropic.Client
	model        string
	maxTokens    int
	systemPrompt string
	logger       *zap.Logger
}

// Config holds the Anthropic provider settings.
type Config struct {
	APIKey       string
	Model        string
	MaxTokens    int
	SystemPrompt string
	Logger       *zap.Logger
}

// NewCompleter creates an Anthropic completion provider.
func NewCompleter(cfg *Config) *Completer {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &Completer{
		client:       anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:        cfg.Model,
		maxTokens:    maxTokens,
		systemPrompt: cfg.SystemPrompt,
		logger:       cfg.Logger,
	}
}

// Complete implements domain.Completer.
func (c *Completer) Complete(ctx context.Context, prompt, contextText string) (string, error) {
	start := time.Now()
	resp, err := c.client.Messages.New(ctx, c.buildParams(prompt, contextText))
	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(providerName, c.model, "sync", "error").Inc()
		return "", fmt.Errorf("anthropic completion: %v: %w", err, domain.ErrCompletionProvider)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		metrics.CompletionRequestsTotal.WithLabelValues(providerName, c.model, "sync", "error").Inc()
		return "", fmt.Errorf("empty completion response: %w", domain.ErrCompletionProvider)
	}

	metrics.CompletionRequestsTotal.WithLabelValues(providerName, c.model, "sync", "success").Inc()
	c.logger.Debug("completion finished",
		zap.String("model", c.model),
		zap.Duration("latency", time.Since(start)),
	)

	return b.String(), nil
}

// StreamComplete implements domain.Completer.
func (c *Completer) StreamComplete(ctx context.Context, prompt, contextText string) (domain.ChunkStream, error) {
	stream := c.client.Messages.NewStreaming(ctx, c.buildParams(prompt, contextText))
	if err := stream.Err(); err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(providerName, c.model, "stream", "error").Inc()
		return nil, fmt.Errorf("anthropic stream: %v: %w", err, domain.ErrCompletionProvider)
	}

	metrics.CompletionRequestsTotal.WithLabelValues(providerName, c.model, "stream", "success").Inc()
	return &chunkStream{stream: stream, model: c.model}, nil
}

func (c *Completer) buildParams(prompt, contextText string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(domain.BuildPrompt(prompt, contextText))),
		},
	}
	if c.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.systemPrompt}}
	}
	return params
}

// chunkStream adapts the Anthropic SSE stream to domain.ChunkStream.
type chunkStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	model  string
}

// Recv returns the next text delta, io.EOF on normal end.
func (s *chunkStream) Recv() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
		if !ok || text.Text == "" {
			continue
		}
		metrics.CompletionChunksTotal.WithLabelValues(providerName, s.model).Inc()
		return text.Text, nil
	}

	if err := s.stream.Err(); err != nil {
		return "", fmt.Errorf("anthropic stream: %v: %w", err, domain.ErrCompletionProvider)
	}
	return "", io.EOF
}

func (s *chunkStream) Close() error {
	return s.stream.Close()
}
