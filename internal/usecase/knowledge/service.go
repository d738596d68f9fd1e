package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reactular/web3-insight-chat/internal/domain"
	domdoc "github.com/reactular/web3-insight-chat/internal/domain/document"
	"github.com/reactular/web3-insight-chat/internal/domain/search/filter"
	"github.com/reactular/web3-insight-chat/internal/domain/search/result"
)

// overFetchFactor widens the KNN candidate set when a metadata filter is
// active, since filtering happens after retrieval.
const overFetchFactor = 4

// metadataPageSize is the scan page size for distinct value enumeration.
const metadataPageSize = 500

// Service handles knowledge-base document CRUD and filtered similarity search.
type Service struct {
	repo          Repository
	embedder      domain.Embedder
	batchEmbedder domain.BatchEmbedder
	log           *zap.Logger
}

// New creates a knowledge service.
func New(repo Repository, embedder domain.Embedder, batchEmbedder domain.BatchEmbedder, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, embedder: embedder, batchEmbedder: batchEmbedder, log: log}
}

// Insert vectorizes and persists a single document, returning it with its
// storage-assigned id.
func (s *Service) Insert(ctx context.Context, content string, metadata map[string]any) (domdoc.Document, error) {
	doc, err := domdoc.New(content, metadata)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("%w: %s", domain.ErrInvalidDocument, err)
	}

	res, err := s.embedder.Embed(ctx, doc.Content())
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("vectorize document: %w", err)
	}

	stored, err := s.repo.Insert(ctx, doc.WithVector(res.Embedding), time.Now().UnixMilli())
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return stored, nil
}

// BatchItem is one document of a batch ingestion request.
type BatchItem struct {
	Content  string
	Metadata map[string]any
}

// InsertBatch vectorizes all items in a single embedding call, then persists
// them in order. Validation failures reject the whole batch before any write.
// A persistence failure mid-batch returns a BatchInsertError carrying the ids
// committed before the failing item.
func (s *Service) InsertBatch(ctx context.Context, items []BatchItem) ([]domdoc.Document, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", domain.ErrEmptyInput)
	}

	docs := make([]domdoc.Document, 0, len(items))
	texts := make([]string, 0, len(items))
	for i, item := range items {
		doc, err := domdoc.New(item.Content, item.Metadata)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w: %s", i, domain.ErrInvalidDocument, err)
		}
		docs = append(docs, doc)
		texts = append(texts, doc.Content())
	}

	batch, err := s.batchEmbedder.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("vectorize batch: %w", err)
	}
	if len(batch.Embeddings) != len(docs) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d documents",
			domain.ErrEmbeddingProvider, len(batch.Embeddings), len(docs))
	}

	now := time.Now().UnixMilli()
	stored := make([]domdoc.Document, 0, len(docs))
	for i, doc := range docs {
		inserted, err := s.repo.Insert(ctx, doc.WithVector(batch.Embeddings[i]), now)
		if err != nil {
			committed := make([]int64, 0, len(stored))
			for _, d := range stored {
				committed = append(committed, d.ID())
			}
			s.log.Warn("batch insert aborted",
				zap.Int("failed_index", i),
				zap.Int("committed", len(stored)),
				zap.Error(err))
			return stored, &domain.BatchInsertError{
				CommittedIDs: committed,
				FailedIndex:  i,
				Err:          err,
			}
		}
		stored = append(stored, inserted)
	}
	return stored, nil
}

// Get retrieves a document by id.
func (s *Service) Get(ctx context.Context, id int64) (domdoc.Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// Delete removes a document. Returns false without error when the id does not
// exist, so deletion stays idempotent.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	return deleted, nil
}

// Search runs a filtered KNN query. Candidates below minSimilarity or failing
// the metadata filter are discarded; at most limit results come back, sorted
// by similarity descending.
func (s *Service) Search(
	ctx context.Context, query string, f filter.Filter, limit int, minSimilarity float64,
) ([]result.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrEmptyInput)
	}
	if limit <= 0 {
		limit = 10
	}

	res, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorize query: %w", err)
	}
	return s.SearchVector(ctx, res.Embedding, f, limit, minSimilarity)
}

// SearchVector runs a filtered KNN query over a precomputed query vector.
func (s *Service) SearchVector(
	ctx context.Context, vector []float32, f filter.Filter, limit int, minSimilarity float64,
) ([]result.Result, error) {
	k := limit
	if !f.IsEmpty() {
		k = limit * overFetchFactor
	}

	candidates, err := s.repo.SearchKNN(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}

	matched := make([]result.Result, 0, limit)
	for _, c := range candidates {
		if c.Similarity() < minSimilarity {
			continue
		}
		if !f.Matches(c.Metadata()) {
			continue
		}
		matched = append(matched, c)
		if len(matched) == limit {
			break
		}
	}
	return matched, nil
}

// DistinctMetadataValues enumerates the distinct scalar values stored under a
// metadata key, sorted ascending. The key must pass the filter identifier
// check.
func (s *Service) DistinctMetadataValues(ctx context.Context, key string) ([]string, error) {
	if !filter.ValidKey(key) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidFilterKey, key)
	}

	seen := make(map[string]struct{})
	offset := 0
	for {
		page, more, err := s.repo.ListMetadata(ctx, offset, metadataPageSize)
		if err != nil {
			return nil, fmt.Errorf("list metadata: %w", err)
		}
		for _, md := range page {
			if v, ok := md[key]; ok {
				if str, ok := stringifyScalar(v); ok {
					seen[str] = struct{}{}
				}
			}
		}
		if !more {
			break
		}
		offset += metadataPageSize
	}

	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values, nil
}

// stringifyScalar renders a scalar metadata value for the distinct value
// listing. Nested objects and arrays are skipped.
func stringifyScalar(v any) (string, bool) {
	switch n := v.(type) {
	case string:
		return n, true
	case bool:
		return strconv.FormatBool(n), true
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case int:
		return strconv.Itoa(n), true
	default:
		return "", false
	}
}
