package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const globalPayload = `{
	"data": {
		"total_market_cap": {"usd": 2500000000000},
		"total_volume": {"usd": 90000000000},
		"market_cap_percentage": {"btc": 52.3},
		"market_cap_change_percentage_24h_usd": 1.25
	}
}`

const trendingPayload = `{
	"coins": [
		{"item": {"name": "Sui", "symbol": "sui", "market_cap_rank": 20}},
		{"item": {"name": "Celestia", "symbol": "tia", "market_cap_rank": 40}}
	]
}`

const protocolsPayload = `[
	{"name": "Lido", "category": "Liquid Staking", "tvl": 30000000000, "chain": "Ethereum"},
	{"name": "Aave", "category": "Lending", "tvl": 12000000000, "chain": "Multi-Chain"},
	{"name": "EigenLayer", "category": "Restaking", "tvl": 11000000000, "chain": "Ethereum"},
	{"name": "Maker", "category": "CDP", "tvl": 8000000000, "chain": "Ethereum"},
	{"name": "Uniswap", "category": "Dexes", "tvl": 6000000000, "chain": "Multi-Chain"},
	{"name": "Curve", "category": "Dexes", "tvl": 2000000000, "chain": "Multi-Chain"}
]`

func newCoinGeckoServer(t *testing.T, hits *int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt64(hits, 1)
		}
		switch r.URL.Path {
		case "/global":
			w.Write([]byte(globalPayload))
		case "/search/trending":
			w.Write([]byte(trendingPayload))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newDefiLlamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/protocols" {
			w.Write([]byte(protocolsPayload))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(t *testing.T, coingecko, defillama string, ttl time.Duration) *Provider {
	t.Helper()
	return New(&Config{
		CoinGeckoBaseURL: coingecko,
		DefiLlamaBaseURL: defillama,
		CacheTTL:         ttl,
		Timeout:          2 * time.Second,
	})
}

func TestSearchContext_MarketKeywordRoutesToSnapshot(t *testing.T) {
	cg := newCoinGeckoServer(t, nil)
	p := newProvider(t, cg.URL, "http://127.0.0.1:0", 0)

	got := p.SearchContext(context.Background(), "What is the Bitcoin price today?")

	if !strings.Contains(got.Text, "BTC dominance 52.3%") {
		t.Errorf("expected snapshot text, got %q", got.Text)
	}
	if len(got.Sources) != 1 || got.Sources[0].Name != "CoinGecko Global Market" {
		t.Errorf("expected global market source, got %v", got.Sources)
	}
}

func TestSearchContext_ProtocolsKeyword(t *testing.T) {
	dl := newDefiLlamaServer(t)
	p := newProvider(t, "http://127.0.0.1:0", dl.URL, 0)

	got := p.SearchContext(context.Background(), "best defi lending yield")

	if !strings.Contains(got.Text, "Lido") {
		t.Errorf("expected protocol text, got %q", got.Text)
	}
	if strings.Contains(got.Text, "Curve") {
		t.Errorf("expected protocol list capped at %d entries, got %q", maxTopProtocols, got.Text)
	}
	if len(got.Sources) != 1 || got.Sources[0].Name != "DefiLlama Protocols" {
		t.Errorf("expected protocols source, got %v", got.Sources)
	}
}

func TestSearchContext_MultipleKeywordsCombineBlocks(t *testing.T) {
	cg := newCoinGeckoServer(t, nil)
	dl := newDefiLlamaServer(t)
	p := newProvider(t, cg.URL, dl.URL, 0)

	got := p.SearchContext(context.Background(), "bitcoin market vs defi tvl, what is trending?")

	if len(got.Sources) != 3 {
		t.Fatalf("expected all three feeds, got %v", got.Sources)
	}
	if !strings.Contains(got.Text, "Global crypto market") ||
		!strings.Contains(got.Text, "Top DeFi protocols") ||
		!strings.Contains(got.Text, "trending coins") {
		t.Errorf("expected all three blocks, got %q", got.Text)
	}
}

func TestSearchContext_NoKeywordFallsBackToSnapshot(t *testing.T) {
	cg := newCoinGeckoServer(t, nil)
	p := newProvider(t, cg.URL, "http://127.0.0.1:0", 0)

	got := p.SearchContext(context.Background(), "tell me about governance models")

	if !strings.Contains(got.Text, "Global crypto market") {
		t.Errorf("expected generic snapshot, got %q", got.Text)
	}
}

func TestSearchContext_UnreachableYieldsStaticFallback(t *testing.T) {
	p := newProvider(t, "http://127.0.0.1:0", "http://127.0.0.1:0", 0)

	got := p.SearchContext(context.Background(), "bitcoin price")

	if !strings.Contains(got.Text, "unavailable") {
		t.Errorf("expected static fallback text, got %q", got.Text)
	}
	if len(got.Sources) != 1 || got.Sources[0].Name != "Market data unavailable" {
		t.Errorf("expected placeholder source, got %v", got.Sources)
	}
}

func TestFeedCache_SuppressesRefetchWithinTTL(t *testing.T) {
	var hits int64
	cg := newCoinGeckoServer(t, &hits)
	p := newProvider(t, cg.URL, "http://127.0.0.1:0", time.Minute)

	p.SearchContext(context.Background(), "bitcoin price")
	p.SearchContext(context.Background(), "bitcoin price")

	if n := atomic.LoadInt64(&hits); n != 1 {
		t.Errorf("expected a single upstream fetch within TTL, got %d", n)
	}
}

func TestFeedCache_ZeroTTLDisablesCaching(t *testing.T) {
	var hits int64
	cg := newCoinGeckoServer(t, &hits)
	p := newProvider(t, cg.URL, "http://127.0.0.1:0", 0)

	p.SearchContext(context.Background(), "bitcoin price")
	p.SearchContext(context.Background(), "bitcoin price")

	if n := atomic.LoadInt64(&hits); n != 2 {
		t.Errorf("expected a fetch per request with caching disabled, got %d", n)
	}
}

func TestGetTrends_DegradesPerFeed(t *testing.T) {
	cg := newCoinGeckoServer(t, nil)
	p := newProvider(t, cg.URL, "http://127.0.0.1:0", 0)

	trends := p.GetTrends(context.Background())

	if len(trends.TrendingCoins) != 2 {
		t.Errorf("expected trending coins from reachable feed, got %d", len(trends.TrendingCoins))
	}
	if len(trends.TopProtocols) != 0 {
		t.Errorf("expected empty protocols from unreachable feed, got %d", len(trends.TopProtocols))
	}
	if trends.Snapshot.BTCDominancePct != 52.3 {
		t.Errorf("expected snapshot populated, got %+v", trends.Snapshot)
	}
}
