package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/reactular/web3-insight-chat/internal/domain"
	"github.com/reactular/web3-insight-chat/internal/metrics"
)

// Completer is a chat completion provider using the OpenAI-compatible API.
type Completer struct {
	client       *openai.Client
	model        string
	maxTokens    int
	systemPrompt string
	provider     string
	logger       *zap.Logger
}

// CompleterConfig holds the completion provider settings.
type CompleterConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	SystemPrompt string
	Provider     string
	Logger       *zap.Logger
}

// NewCompleter creates an OpenAI-compatible completion provider.
func NewCompleter(cfg *CompleterConfig) *Completer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Completer{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: cfg.SystemPrompt,
		provider:     cfg.Provider,
		logger:       cfg.Logger,
	}
}

// Complete implements domain.Completer.
func (c *Completer) Complete(ctx context.Context, prompt, contextText string) (string, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(prompt, contextText, false))
	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "sync", "error").Inc()
		return "", completionAPIError(err)
	}
	if len(resp.Choices) == 0 {
		metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "sync", "error").Inc()
		return "", fmt.Errorf("empty completion response: %w", domain.ErrCompletionProvider)
	}

	metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "sync", "success").Inc()
	c.logger.Debug("completion finished",
		zap.String("model", c.model),
		zap.Duration("latency", time.Since(start)),
	)

	return resp.Choices[0].Message.Content, nil
}

// StreamComplete implements domain.Completer. The returned stream must be
// closed by the caller to release the upstream connection.
func (c *Completer) StreamComplete(ctx context.Context, prompt, contextText string) (domain.ChunkStream, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(prompt, contextText, true))
	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "stream", "error").Inc()
		return nil, completionAPIError(err)
	}

	metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "stream", "success").Inc()
	return &chunkStream{stream: stream, provider: c.provider, model: c.model}, nil
}

func (c *Completer) buildRequest(prompt, contextText string, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if c.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: domain.BuildPrompt(prompt, contextText),
	})

	return openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
		Stream:    stream,
	}
}

// chunkStream adapts openai.ChatCompletionStream to domain.ChunkStream.
type chunkStream struct {
	stream   *openai.ChatCompletionStream
	provider string
	model    string
}

// Recv returns the next non-empty content delta, io.EOF on normal end.
func (s *chunkStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", completionAPIError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			metrics.CompletionChunksTotal.WithLabelValues(s.provider, s.model).Inc()
			return delta, nil
		}
	}
}

func (s *chunkStream) Close() error {
	return s.stream.Close()
}

// completionAPIError wraps upstream failures with domain.ErrCompletionProvider.
func completionAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("completion API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, domain.ErrCompletionProvider)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("completion API error %d: %w",
			reqErr.HTTPStatusCode, domain.ErrCompletionProvider)
	}

	return fmt.Errorf("completion request failed: %v: %w", err, domain.ErrCompletionProvider)
}
