package retrieval

import (
	"context"

	"github.com/reactular/web3-insight-chat/internal/domain/search/filter"
	"github.com/reactular/web3-insight-chat/internal/domain/search/result"
)

// Searcher runs one embedded similarity search per query string.
type Searcher interface {
	Search(ctx context.Context, query string, f filter.Filter, limit int, minSimilarity float64) ([]result.Result, error)
}
