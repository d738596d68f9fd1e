// Package market fetches live crypto market context (trending coins, DeFi
// protocols, global snapshot) with a per-feed TTL cache. The provider never
// fails: every feed degrades independently to empty data, and SearchContext
// falls back to a static summary when nothing is reachable.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reactular/web3-insight-chat/internal/domain/chat"
	"github.com/reactular/web3-insight-chat/internal/metrics"
)

// Feed names used for cache and metrics keys.
const (
	feedTrending  = "trending"
	feedProtocols = "protocols"
	feedSnapshot  = "snapshot"
)

const maxTopProtocols = 5

// TrendingCoin is one entry of the trending feed.
type TrendingCoin struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Rank   int    `json:"market_cap_rank"`
}

// Protocol is one entry of the DeFi protocol feed.
type Protocol struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	TVL      float64 `json:"tvl"`
	Chain    string  `json:"chain"`
}

// Snapshot is the global market snapshot feed.
type Snapshot struct {
	TotalMarketCapUSD  float64
	TotalVolumeUSD     float64
	BTCDominancePct    float64
	MarketCapChangePct float64
}

// Trends bundles all three feeds.
type Trends struct {
	TrendingCoins []TrendingCoin
	TopProtocols  []Protocol
	Snapshot      Snapshot
	Timestamp     time.Time
}

// KeywordRoutes maps lowercased trigger keywords to feeds. The trigger sets
// are data, not logic: deployments tune them per domain.
type KeywordRoutes struct {
	Market    []string `yaml:"market"`
	Protocols []string `yaml:"protocols"`
	Trending  []string `yaml:"trending"`
}

// DefaultKeywordRoutes returns the built-in trigger sets.
func DefaultKeywordRoutes() KeywordRoutes {
	return KeywordRoutes{
		Market:    []string{"price", "market", "bitcoin", "btc", "ethereum", "eth", "market cap", "volume"},
		Protocols: []string{"defi", "lending", "yield", "protocol", "tvl", "dex", "staking"},
		Trending:  []string{"trending", "popular", "hot"},
	}
}

// Config holds market provider settings.
type Config struct {
	CoinGeckoBaseURL string
	DefiLlamaBaseURL string
	CacheTTL         time.Duration
	Timeout          time.Duration
	Routes           KeywordRoutes
	Logger           *zap.Logger
}

// Provider fetches and caches market data feeds.
type Provider struct {
	httpClient *http.Client
	coingecko  string
	defillama  string
	cache      *feedCache
	routes     KeywordRoutes
	logger     *zap.Logger
}

// New creates a market data provider.
func New(cfg *Config) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	routes := cfg.Routes
	if len(routes.Market) == 0 && len(routes.Protocols) == 0 && len(routes.Trending) == 0 {
		routes = DefaultKeywordRoutes()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Provider{
		httpClient: &http.Client{Timeout: timeout},
		coingecko:  strings.TrimSuffix(cfg.CoinGeckoBaseURL, "/"),
		defillama:  strings.TrimSuffix(cfg.DefiLlamaBaseURL, "/"),
		cache:      newFeedCache(cfg.CacheTTL),
		routes:     routes,
		logger:     logger,
	}
}

// GetTrends fetches all three feeds concurrently. Each feed independently
// falls back to empty data on failure; no feed failure aborts the others.
func (p *Provider) GetTrends(ctx context.Context) Trends {
	var (
		wg        sync.WaitGroup
		trending  []TrendingCoin
		protocols []Protocol
		snapshot  Snapshot
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		trending = p.fetchTrending(ctx)
	}()
	go func() {
		defer wg.Done()
		protocols = p.fetchProtocols(ctx)
	}()
	go func() {
		defer wg.Done()
		snapshot = p.fetchSnapshot(ctx)
	}()
	wg.Wait()

	return Trends{
		TrendingCoins: trending,
		TopProtocols:  protocols,
		Snapshot:      snapshot,
		Timestamp:     time.Now().UTC(),
	}
}

// SearchContext returns market context relevant to the query, routed by
// keyword triggers. The contract is "always returns something usable":
// a fully unreachable provider yields a static fallback plus a placeholder
// source instead of an error.
func (p *Provider) SearchContext(ctx context.Context, query string) chat.ExternalContext {
	q := strings.ToLower(query)

	var (
		blocks  []string
		sources []chat.Source
	)

	if matchesAny(q, p.routes.Market) {
		if text := p.snapshotText(ctx); text != "" {
			blocks = append(blocks, text)
			sources = append(sources, chat.Source{Name: "CoinGecko Global Market", URL: "https://www.coingecko.com/en/global-charts"})
		}
	}
	if matchesAny(q, p.routes.Protocols) {
		if text := p.protocolsText(ctx); text != "" {
			blocks = append(blocks, text)
			sources = append(sources, chat.Source{Name: "DefiLlama Protocols", URL: "https://defillama.com"})
		}
	}
	if matchesAny(q, p.routes.Trending) {
		if text := p.trendingText(ctx); text != "" {
			blocks = append(blocks, text)
			sources = append(sources, chat.Source{Name: "CoinGecko Trending", URL: "https://www.coingecko.com/en/highlights/trending-crypto"})
		}
	}

	// No keyword match: generic summary derived from the snapshot.
	if len(blocks) == 0 {
		if text := p.snapshotText(ctx); text != "" {
			blocks = append(blocks, text)
			sources = append(sources, chat.Source{Name: "CoinGecko Global Market", URL: "https://www.coingecko.com/en/global-charts"})
		}
	}

	if len(blocks) == 0 {
		return chat.ExternalContext{
			Text:    "Live market data is currently unavailable; answering from stored knowledge only.",
			Sources: []chat.Source{{Name: "Market data unavailable", URL: ""}},
		}
	}

	return chat.ExternalContext{
		Text:    strings.Join(blocks, "\n"),
		Sources: sources,
	}
}

func matchesAny(query string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(query, kw) {
			return true
		}
	}
	return false
}

// --- Feed fetchers (cache-through, degrade to empty) ---

func (p *Provider) fetchTrending(ctx context.Context) []TrendingCoin {
	if cached, ok := cacheGet[[]TrendingCoin](p.cache, feedTrending); ok {
		metrics.MarketFeedRequestsTotal.WithLabelValues(feedTrending, "cache_hit").Inc()
		return cached
	}

	var payload struct {
		Coins []struct {
			Item TrendingCoin `json:"item"`
		} `json:"coins"`
	}
	if err := p.getJSON(ctx, p.coingecko+"/search/trending", &payload); err != nil {
		metrics.MarketFeedRequestsTotal.WithLabelValues(feedTrending, "error").Inc()
		p.logger.Warn("trending feed unavailable", zap.Error(err))
		return nil
	}

	coins := make([]TrendingCoin, 0, len(payload.Coins))
	for _, c := range payload.Coins {
		coins = append(coins, c.Item)
	}

	metrics.MarketFeedRequestsTotal.WithLabelValues(feedTrending, "success").Inc()
	p.cache.set(feedTrending, coins)
	return coins
}

func (p *Provider) fetchProtocols(ctx context.Context) []Protocol {
	if cached, ok := cacheGet[[]Protocol](p.cache, feedProtocols); ok {
		metrics.MarketFeedRequestsTotal.WithLabelValues(feedProtocols, "cache_hit").Inc()
		return cached
	}

	var payload []Protocol
	if err := p.getJSON(ctx, p.defillama+"/protocols", &payload); err != nil {
		metrics.MarketFeedRequestsTotal.WithLabelValues(feedProtocols, "error").Inc()
		p.logger.Warn("protocols feed unavailable", zap.Error(err))
		return nil
	}

	// DefiLlama returns protocols ordered by TVL descending.
	if len(payload) > maxTopProtocols {
		payload = payload[:maxTopProtocols]
	}

	metrics.MarketFeedRequestsTotal.WithLabelValues(feedProtocols, "success").Inc()
	p.cache.set(feedProtocols, payload)
	return payload
}

func (p *Provider) fetchSnapshot(ctx context.Context) Snapshot {
	if cached, ok := cacheGet[Snapshot](p.cache, feedSnapshot); ok {
		metrics.MarketFeedRequestsTotal.WithLabelValues(feedSnapshot, "cache_hit").Inc()
		return cached
	}

	var payload struct {
		Data struct {
			TotalMarketCap      map[string]float64 `json:"total_market_cap"`
			TotalVolume         map[string]float64 `json:"total_volume"`
			MarketCapPercentage map[string]float64 `json:"market_cap_percentage"`
			MarketCapChange24h  float64            `json:"market_cap_change_percentage_24h_usd"`
		} `json:"data"`
	}
	if err := p.getJSON(ctx, p.coingecko+"/global", &payload); err != nil {
		metrics.MarketFeedRequestsTotal.WithLabelValues(feedSnapshot, "error").Inc()
		p.logger.Warn("snapshot feed unavailable", zap.Error(err))
		return Snapshot{}
	}

	snapshot := Snapshot{
		TotalMarketCapUSD:  payload.Data.TotalMarketCap["usd"],
		TotalVolumeUSD:     payload.Data.TotalVolume["usd"],
		BTCDominancePct:    payload.Data.MarketCapPercentage["btc"],
		MarketCapChangePct: payload.Data.MarketCapChange24h,
	}

	metrics.MarketFeedRequestsTotal.WithLabelValues(feedSnapshot, "success").Inc()
	p.cache.set(feedSnapshot, snapshot)
	return snapshot
}

// --- Text rendering ---

func (p *Provider) snapshotText(ctx context.Context) string {
	s := p.fetchSnapshot(ctx)
	if s.TotalMarketCapUSD == 0 {
		return ""
	}
	return fmt.Sprintf(
		"Global crypto market: total market cap $%.0fB, 24h volume $%.0fB, BTC dominance %.1f%%, market cap change 24h %+.2f%%.",
		s.TotalMarketCapUSD/1e9, s.TotalVolumeUSD/1e9, s.BTCDominancePct, s.MarketCapChangePct,
	)
}

func (p *Provider) protocolsText(ctx context.Context) string {
	protocols := p.fetchProtocols(ctx)
	if len(protocols) == 0 {
		return ""
	}

	parts := make([]string, 0, len(protocols))
	for _, pr := range protocols {
		parts = append(parts, fmt.Sprintf("%s (%s, TVL $%.1fB)", pr.Name, pr.Category, pr.TVL/1e9))
	}
	return "Top DeFi protocols by TVL: " + strings.Join(parts, ", ") + "."
}

func (p *Provider) trendingText(ctx context.Context) string {
	coins := p.fetchTrending(ctx)
	if len(coins) == 0 {
		return ""
	}

	parts := make([]string, 0, len(coins))
	for _, c := range coins {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Name, strings.ToUpper(c.Symbol)))
	}
	return "Currently trending coins: " + strings.Join(parts, ", ") + "."
}

// --- HTTP ---

func (p *Provider) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", url, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// --- Cache ---

// feedCache is the provider-owned per-feed TTL cache. Entries are replaced
// wholesale on refresh; stale reads up to TTL are acceptable.
type feedCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]feedEntry
}

type feedEntry struct {
	value     any
	fetchedAt time.Time
}

func newFeedCache(ttl time.Duration) *feedCache {
	return &feedCache{ttl: ttl, entries: make(map[string]feedEntry)}
}

func (c *feedCache) get(feed string) (any, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[feed]
	if !ok || time.Since(entry.fetchedAt) > c.ttl {
		return nil, false
	}
	return entry.value, true
}

func (c *feedCache) set(feed string, value any) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[feed] = feedEntry{value: value, fetchedAt: time.Now()}
}

func cacheGet[T any](c *feedCache, feed string) (T, bool) {
	var zero T
	v, ok := c.get(feed)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
