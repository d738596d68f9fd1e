package knowledge

import (
	"context"

	domdoc "github.com/reactular/web3-insight-chat/internal/domain/document"
	"github.com/reactular/web3-insight-chat/internal/domain/search/result"
)

// Repository persists documents and runs vector similarity queries over them.
type Repository interface {
	Insert(ctx context.Context, doc domdoc.Document, now int64) (domdoc.Document, error)
	Get(ctx context.Context, id int64) (domdoc.Document, error)
	Delete(ctx context.Context, id int64) (bool, error)
	SearchKNN(ctx context.Context, vector []float32, k int) ([]result.Result, error)
	ListMetadata(ctx context.Context, offset, limit int) ([]map[string]any, bool, error)
}
