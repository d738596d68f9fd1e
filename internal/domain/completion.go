package domain

import "context"

// Completer is the shared LLM completion contract between layers.
type Completer interface {
	// Complete returns the full response for a prompt with optional context.
	Complete(ctx context.Context, prompt, contextText string) (string, error)
	// StreamComplete returns an incremental chunk stream for a prompt.
	// The stream is single-pass; the caller must Close it to release the
	// upstream connection.
	StreamComplete(ctx context.Context, prompt, contextText string) (ChunkStream, error)
}

// BuildPrompt prefixes the assembled context, when present, before the
// user prompt. Both providers share this construction so streamed and
// synchronous completions see identical prompts.
func BuildPrompt(prompt, contextText string) string {
	if contextText == "" {
		return prompt
	}
	return contextText + "\n\n" + prompt
}

// ChunkStream is a finite, single-pass sequence of completion text chunks.
// Recv returns io.EOF on normal termination; any other error means the
// upstream stream failed mid-flight.
type ChunkStream interface {
	Recv() (string, error)
	Close() error
}
