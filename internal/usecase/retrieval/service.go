// Package retrieval widens recall with multi-variant query expansion and
// fuses the per-variant similarity searches into one ranked result list.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reactular/web3-insight-chat/internal/domain/search/filter"
	"github.com/reactular/web3-insight-chat/internal/domain/search/result"
	"github.com/reactular/web3-insight-chat/internal/metrics"
)

// Options tune the retrieval pipeline.
type Options struct {
	Limit            int
	MinSimilarity    float64
	ExpansionEnabled bool
	MaxVariants      int
}

// Service runs expansion, per-variant search, and max-similarity fusion.
type Service struct {
	searcher Searcher
	opts     Options
	log      *zap.Logger
}

// New creates a retrieval service.
func New(searcher Searcher, opts Options, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.MaxVariants < 1 {
		opts.MaxVariants = 1
	}
	return &Service{searcher: searcher, opts: opts, log: log}
}

// Retrieve searches the knowledge base once per query variant and fuses the
// results. A variant whose search fails contributes nothing; only when every
// variant fails does the first error propagate.
func (s *Service) Retrieve(ctx context.Context, query string, f filter.Filter) ([]result.Result, error) {
	start := time.Now()
	defer func() {
		metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	}()

	variants := []string{strings.TrimSpace(query)}
	if s.opts.ExpansionEnabled {
		variants = Expand(query, s.opts.MaxVariants)
	}

	type searchOutcome struct {
		results []result.Result
		err     error
	}
	outcomes := make([]searchOutcome, len(variants))

	var wg sync.WaitGroup
	for i, v := range variants {
		wg.Add(1)
		go func(i int, variant string) {
			defer wg.Done()
			res, err := s.searcher.Search(ctx, variant, f, s.opts.Limit, s.opts.MinSimilarity)
			outcomes[i] = searchOutcome{results: res, err: err}
			if err != nil {
				metrics.RetrievalSearchesTotal.WithLabelValues("error").Inc()
				s.log.Warn("variant search failed", zap.String("variant", variant), zap.Error(err))
				return
			}
			metrics.RetrievalSearchesTotal.WithLabelValues("success").Inc()
		}(i, v)
	}
	wg.Wait()

	var (
		all      [][]result.Result
		firstErr error
		failures int
	)
	for _, o := range outcomes {
		if o.err != nil {
			failures++
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		all = append(all, o.results)
	}
	if failures == len(variants) {
		return nil, firstErr
	}

	return fuseMax(all, s.opts.Limit), nil
}

// fuseMax merges per-variant result lists keyed by item id, keeping the
// maximum similarity an item was observed with across variants, then sorts
// descending and truncates to limit.
func fuseMax(lists [][]result.Result, limit int) []result.Result {
	merged := make(map[int64]result.Result)
	for _, list := range lists {
		for _, r := range list {
			if best, ok := merged[r.ID()]; !ok || r.Similarity() > best.Similarity() {
				merged[r.ID()] = r
			}
		}
	}

	fused := make([]result.Result, 0, len(merged))
	for _, r := range merged {
		fused = append(fused, r)
	}
	sort.Slice(fused, func(i, j int) bool {
		return fused[i].Similarity() > fused[j].Similarity()
	})

	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused
}
