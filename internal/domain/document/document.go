package document

import (
	"fmt"
	"strings"
)

// MaxContentSize is the maximum document content size in bytes.
const MaxContentSize = 100000

// Document is a unit of retrievable knowledge (immutable value object).
// The id is assigned by storage on insertion; content and vector never
// change after insertion.
type Document struct {
	id        int64
	content   string
	metadata  map[string]any
	vector    []float32
	createdAt int64
	updatedAt int64
}

// New validates and creates a Document pending insertion (no id, no vector).
// Content must be non-empty after trimming and at most 100KB.
// Metadata values are scalars (string/number/bool) or nested maps.
func New(content string, metadata map[string]any) (Document, error) {
	if strings.TrimSpace(content) == "" {
		return Document{}, fmt.Errorf("content is required")
	}
	if len(content) > MaxContentSize {
		return Document{}, fmt.Errorf("content too large (max %d bytes)", MaxContentSize)
	}

	return Document{
		content:  content,
		metadata: cloneMetadata(metadata),
	}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(
	id int64, content string, metadata map[string]any,
	vector []float32, createdAt, updatedAt int64,
) Document {
	return Document{
		id: id, content: content, metadata: metadata,
		vector: vector, createdAt: createdAt, updatedAt: updatedAt,
	}
}

// ID returns the storage-assigned identifier (0 before insertion).
func (d *Document) ID() int64 { return d.id }

// Content returns the document text content.
func (d *Document) Content() string { return d.content }

// Metadata returns the open metadata mapping.
func (d *Document) Metadata() map[string]any { return d.metadata }

// Vector returns the embedding vector.
func (d *Document) Vector() []float32 { return d.vector }

// CreatedAt returns the insertion time in unix milliseconds.
func (d *Document) CreatedAt() int64 { return d.createdAt }

// UpdatedAt returns the last write time in unix milliseconds.
func (d *Document) UpdatedAt() int64 { return d.updatedAt }

// WithVector returns a copy with the given embedding vector set.
func (d *Document) WithVector(v []float32) Document {
	c := *d
	c.vector = v
	return c
}

// WithID returns a copy with the storage-assigned id set.
func (d *Document) WithID(id int64) Document {
	c := *d
	c.id = id
	return c
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
