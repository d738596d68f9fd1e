package domain

import "errors"

var (
	// ErrEmptyInput signals empty or whitespace-only caller input.
	ErrEmptyInput = errors.New("empty input")
	// ErrInvalidFilterKey signals a metadata key that fails the identifier check.
	ErrInvalidFilterKey = errors.New("invalid metadata key")
	// ErrInvalidDocument signals a document that fails content validation.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrDocumentNotFound signals a missing knowledge-base document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrEmbeddingProvider signals an embedding provider failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrCompletionProvider signals a completion provider failure.
	ErrCompletionProvider = errors.New("completion provider error")
	// ErrCompletionNotConfigured signals a missing completion provider or API key.
	ErrCompletionNotConfigured = errors.New("completion provider not configured")
	// ErrStorage signals that the underlying store is unreachable or failing.
	ErrStorage = errors.New("storage error")
)

// BatchInsertError reports a batch persistence failure together with the ids
// committed before the failing item. Embeddings are computed up front for the
// whole batch, so a mid-batch persistence failure leaves a prefix inserted;
// callers get the committed ids instead of a silent partial commit.
type BatchInsertError struct {
	CommittedIDs []int64
	FailedIndex  int
	Err          error
}

func (e *BatchInsertError) Error() string {
	return "batch insert failed: " + e.Err.Error()
}

func (e *BatchInsertError) Unwrap() error { return e.Err }
