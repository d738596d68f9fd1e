// Package result models a single similarity search hit.
package result

// Result is one search hit (immutable value object, not persisted).
// Similarity is cosine similarity clamped to [0,1].
type Result struct {
	id         int64
	similarity float64
	content    string
	metadata   map[string]any
}

// New creates a search result.
func New(id int64, similarity float64, content string, metadata map[string]any) Result {
	return Result{id: id, similarity: similarity, content: content, metadata: metadata}
}

// ID returns the matched document id.
func (r *Result) ID() int64 { return r.id }

// Similarity returns the cosine similarity in [0,1].
func (r *Result) Similarity() float64 { return r.similarity }

// Content returns the matched document content.
func (r *Result) Content() string { return r.content }

// Metadata returns the matched document metadata.
func (r *Result) Metadata() map[string]any { return r.metadata }

// WithSimilarity returns a copy carrying a different similarity score
// (used when result lists from several query variants are fused).
func (r *Result) WithSimilarity(s float64) Result {
	c := *r
	c.similarity = s
	return c
}
