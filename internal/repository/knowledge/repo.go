// Package knowledge persists knowledge-base documents in the vector store.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/reactular/web3-insight-chat/internal/db"
	dbredis "github.com/reactular/web3-insight-chat/internal/db/redis"
	"github.com/reactular/web3-insight-chat/internal/domain"
	domdoc "github.com/reactular/web3-insight-chat/internal/domain/document"
	"github.com/reactular/web3-insight-chat/internal/domain/search/result"
)

// Hash field names for stored documents.
const (
	fieldContent   = "__content"
	fieldMetadata  = "__metadata"
	fieldVector    = "__vector"
	fieldCreatedAt = "__created_at"
	fieldUpdatedAt = "__updated_at"
)

// store is the consumer interface for knowledge persistence (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, index, query string, offset, limit int, fields []string) (*db.SearchResult, error)
}

// HNSWConfig holds HNSW index build parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo implements document persistence and KNN candidate retrieval over
// a single FT vector index.
type Repo struct {
	store  store
	prefix string
	dim    int
	hnsw   HNSWConfig
}

// New creates a knowledge repository. prefix namespaces all keys.
func New(s store, prefix string, dim int) *Repo {
	return &Repo{store: s, prefix: prefix, dim: dim}
}

// WithHNSW sets HNSW build parameters for EnsureIndex.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	r.hnsw = cfg
	return r
}

// EnsureIndex creates the HNSW cosine index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	def := &db.IndexDefinition{
		Name:        r.indexName(),
		StorageType: db.StorageHash,
		Prefixes:    []string{r.docPrefix()},
		Fields: []db.IndexField{
			{
				Name:              fieldVector,
				Type:              db.IndexFieldVector,
				VectorAlgo:        db.VectorHNSW,
				VectorDim:         r.dim,
				VectorDistance:    db.DistanceCosine,
				VectorM:           r.hnsw.M,
				VectorEFConstruct: r.hnsw.EFConstruct,
			},
		},
	}

	err := r.store.CreateIndex(ctx, def)
	if errors.Is(err, db.ErrIndexExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create index: %w: %w", err, domain.ErrStorage)
	}
	return nil
}

// Insert persists a document (content, metadata, vector) under a freshly
// allocated id and returns the stored copy.
func (r *Repo) Insert(ctx context.Context, doc domdoc.Document, now int64) (domdoc.Document, error) {
	id, err := r.store.Incr(ctx, r.counterKey())
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("allocate id: %w: %w", err, domain.ErrStorage)
	}

	metaJSON, err := json.Marshal(doc.Metadata())
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("marshal metadata: %w", err)
	}

	fields := map[string]string{
		fieldContent:   doc.Content(),
		fieldMetadata:  string(metaJSON),
		fieldVector:    dbredis.VectorToBytes(doc.Vector()),
		fieldCreatedAt: strconv.FormatInt(now, 10),
		fieldUpdatedAt: strconv.FormatInt(now, 10),
	}

	if err := r.store.HSet(ctx, r.docKey(id), fields); err != nil {
		return domdoc.Document{}, fmt.Errorf("persist document %d: %w: %w", id, err, domain.ErrStorage)
	}

	stored := doc.WithID(id)
	return stored, nil
}

// Get returns a stored document by id.
func (r *Repo) Get(ctx context.Context, id int64) (domdoc.Document, error) {
	fields, err := r.store.HGetAll(ctx, r.docKey(id))
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("get document %d: %w: %w", id, err, domain.ErrStorage)
	}
	if len(fields) == 0 {
		return domdoc.Document{}, domain.ErrDocumentNotFound
	}
	return parseDocument(id, fields), nil
}

// Delete removes a document and reports whether it existed.
func (r *Repo) Delete(ctx context.Context, id int64) (bool, error) {
	existed, err := r.store.Del(ctx, r.docKey(id))
	if err != nil {
		return false, fmt.Errorf("delete document %d: %w: %w", id, err, domain.ErrStorage)
	}
	return existed, nil
}

// SearchKNN returns up to k nearest candidates for the query vector,
// ordered by similarity descending. Threshold and metadata filtering
// happen in the service layer.
func (r *Repo) SearchKNN(ctx context.Context, vector []float32, k int) ([]result.Result, error) {
	q := &db.KNNQuery{
		IndexName:    r.indexName(),
		Vector:       vector,
		K:            k,
		ReturnFields: []string{fieldContent, fieldMetadata},
	}

	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search knn: %w: %w", err, domain.ErrStorage)
	}
	if sr == nil || sr.Total == 0 {
		return nil, nil
	}

	candidates := make([]result.Result, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		id, err := r.idFromKey(entry.Key)
		if err != nil {
			continue
		}
		candidates = append(candidates, result.New(
			id, entry.Score, entry.Fields[fieldContent], parseMetadata(entry.Fields[fieldMetadata]),
		))
	}
	return candidates, nil
}

// ListMetadata pages over all stored documents' metadata mappings.
// Returns the metadata page and whether more pages remain.
func (r *Repo) ListMetadata(ctx context.Context, offset, limit int) ([]map[string]any, bool, error) {
	sr, err := r.store.SearchList(ctx, r.indexName(), "*", offset, limit, []string{fieldMetadata})
	if err != nil {
		return nil, false, fmt.Errorf("list metadata: %w: %w", err, domain.ErrStorage)
	}
	if sr == nil || sr.Total == 0 {
		return nil, false, nil
	}

	pages := make([]map[string]any, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		pages = append(pages, parseMetadata(entry.Fields[fieldMetadata]))
	}

	hasMore := offset+len(sr.Entries) < sr.Total
	return pages, hasMore, nil
}

func (r *Repo) indexName() string {
	return r.prefix + "kb-idx"
}

func (r *Repo) docPrefix() string {
	return r.prefix + "kb:"
}

func (r *Repo) docKey(id int64) string {
	return r.docPrefix() + strconv.FormatInt(id, 10)
}

func (r *Repo) counterKey() string {
	return r.prefix + "kb:next_id"
}

func (r *Repo) idFromKey(key string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(key, r.docPrefix()), 10, 64)
}

func parseDocument(id int64, fields map[string]string) domdoc.Document {
	createdAt, _ := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	updatedAt, _ := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64)
	return domdoc.Reconstruct(
		id,
		fields[fieldContent],
		parseMetadata(fields[fieldMetadata]),
		dbredis.BytesToVector(fields[fieldVector]),
		createdAt,
		updatedAt,
	)
}

func parseMetadata(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}
