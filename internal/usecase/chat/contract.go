package chat

import (
	"context"

	domchat "github.com/reactular/web3-insight-chat/internal/domain/chat"
	"github.com/reactular/web3-insight-chat/internal/domain/search/filter"
	"github.com/reactular/web3-insight-chat/internal/domain/search/result"
)

// Retriever fetches ranked knowledge-base snippets for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, f filter.Filter) ([]result.Result, error)
}

// ContextProvider fetches live external context for a query. It degrades
// internally and never returns an error.
type ContextProvider interface {
	SearchContext(ctx context.Context, query string) domchat.ExternalContext
}
