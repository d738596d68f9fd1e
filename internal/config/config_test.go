package config

import "testing"

func validConfig() Config {
	cfg := Config{
		HTTP: HTTPConfig{Port: 8080},
		Database: DatabaseConfig{
			Addrs: []string{"localhost:6379"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := validConfig()
		cfg.HTTP.Port = port

		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for port %d", port)
		}
	}
}

func TestValidate_MissingDatabaseAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Addrs = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing database addrs")
	}
}

func TestValidate_MinSimilarityRange(t *testing.T) {
	for _, v := range []float64{-0.1, 1.5} {
		cfg := validConfig()
		cfg.Retrieval.MinSimilarity = v

		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for min_similarity %g", v)
		}
	}

	cfg := validConfig()
	cfg.Retrieval.MinSimilarity = 0.5
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error for min_similarity 0.5: %v", err)
	}
}

func TestValidate_InvalidCompletionProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Completion.Provider = "llama-local"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unknown completion provider")
	}

	expected := `completion.provider must be "openai" or "anthropic", got "llama-local"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_ValidCompletionProviders(t *testing.T) {
	for _, provider := range []string{"", "openai", "anthropic"} {
		t.Run("provider="+provider, func(t *testing.T) {
			cfg := validConfig()
			cfg.Completion.Provider = provider

			if err := cfg.Validate(); err != nil {
				t.Fatalf("unexpected error for provider %q: %v", provider, err)
			}
		})
	}
}

func TestValidate_NegativeCacheTTL(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.CacheTTLSec = -1

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative embedding cache ttl")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 300 {
		t.Errorf("expected WriteTimeoutSec=300, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.HTTP.ShutdownSec != 10 {
		t.Errorf("expected ShutdownSec=10, got %d", cfg.HTTP.ShutdownSec)
	}
	if cfg.Storage.KeyPrefix != "w3ic:" {
		t.Errorf("expected KeyPrefix='w3ic:', got %q", cfg.Storage.KeyPrefix)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("expected default embedding model, got %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("expected Dimensions=1536, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Index.HNSWM != 32 {
		t.Errorf("expected HNSWM=32, got %d", cfg.Index.HNSWM)
	}
	if cfg.Index.HNSWEFConstruct != 400 {
		t.Errorf("expected HNSWEFConstruct=400, got %d", cfg.Index.HNSWEFConstruct)
	}
	if cfg.Retrieval.Limit != 5 {
		t.Errorf("expected Limit=5, got %d", cfg.Retrieval.Limit)
	}
	if cfg.Retrieval.ExpansionEnabled == nil || !*cfg.Retrieval.ExpansionEnabled {
		t.Error("expected expansion enabled by default")
	}
	if cfg.Retrieval.MaxVariants != 3 {
		t.Errorf("expected MaxVariants=3, got %d", cfg.Retrieval.MaxVariants)
	}
	if cfg.Market.CoinGeckoBaseURL == "" || cfg.Market.DefiLlamaBaseURL == "" {
		t.Error("expected market base URLs defaulted")
	}
	if cfg.Market.CacheTTLSec != 300 {
		t.Errorf("expected market CacheTTLSec=300, got %d", cfg.Market.CacheTTLSec)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	disabled := false
	cfg := Config{
		HTTP:      HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Storage:   StorageConfig{KeyPrefix: "custom:"},
		Retrieval: RetrievalConfig{Limit: 8, ExpansionEnabled: &disabled, MaxVariants: 2},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.WriteTimeoutSec != 60 {
		t.Errorf("expected WriteTimeoutSec=60, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Storage.KeyPrefix != "custom:" {
		t.Errorf("expected KeyPrefix='custom:', got %q", cfg.Storage.KeyPrefix)
	}
	if cfg.Retrieval.Limit != 8 {
		t.Errorf("expected Limit=8, got %d", cfg.Retrieval.Limit)
	}
	if *cfg.Retrieval.ExpansionEnabled {
		t.Error("expected explicit expansion_enabled=false preserved")
	}
	if cfg.Retrieval.MaxVariants != 2 {
		t.Errorf("expected MaxVariants=2, got %d", cfg.Retrieval.MaxVariants)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("W3IC_TEST_ADDR", "redis:6379")

	in := []byte("addr: ${W3IC_TEST_ADDR}\nkey: ${W3IC_TEST_MISSING:-fallback}\nempty: ${W3IC_TEST_MISSING}")
	out := string(expandEnvVars(in))

	want := "addr: redis:6379\nkey: fallback\nempty: "
	if out != want {
		t.Errorf("unexpected expansion:\ngot:  %q\nwant: %q", out, want)
	}
}
