package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/reactular/web3-insight-chat/internal/config"
	dbRedis "github.com/reactular/web3-insight-chat/internal/db/redis"
	"github.com/reactular/web3-insight-chat/internal/domain"
	logpkg "github.com/reactular/web3-insight-chat/internal/logger"
	"github.com/reactular/web3-insight-chat/internal/metrics"
	"github.com/reactular/web3-insight-chat/internal/repository/embcache"
	knowledgerepo "github.com/reactular/web3-insight-chat/internal/repository/knowledge"
	anthropicCompleter "github.com/reactular/web3-insight-chat/internal/transport/anthropic"
	chiTransport "github.com/reactular/web3-insight-chat/internal/transport/chi"
	"github.com/reactular/web3-insight-chat/internal/transport/market"
	openaiTransport "github.com/reactular/web3-insight-chat/internal/transport/openai"
	chatuc "github.com/reactular/web3-insight-chat/internal/usecase/chat"
	healthuc "github.com/reactular/web3-insight-chat/internal/usecase/health"
	knowledgeuc "github.com/reactular/web3-insight-chat/internal/usecase/knowledge"
	retrievaluc "github.com/reactular/web3-insight-chat/internal/usecase/retrieval"
	"github.com/reactular/web3-insight-chat/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting web3-insight-chat API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.Register()

	// Embedder chain: OpenAI base -> redis cache decorator
	baseEmbedder := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   "openai",
		Logger:     logger,
	})
	var embedder domain.Embedder = baseEmbedder
	if cfg.Storage.CacheTTLSec > 0 {
		embedder = embcache.New(
			baseEmbedder, store, cfg.Storage.KeyPrefix,
			time.Duration(cfg.Storage.CacheTTLSec)*time.Second,
			metrics.EmbeddingCacheTotal, logger,
		)
	}
	logger.Info("Embedder created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Bool("cache", cfg.Storage.CacheTTLSec > 0),
	)

	// Knowledge repository and index bootstrap
	repo := knowledgerepo.New(store, cfg.Storage.KeyPrefix, cfg.Embedding.Dimensions).
		WithHNSW(knowledgerepo.HNSWConfig{
			M:           cfg.Index.HNSWM,
			EFConstruct: cfg.Index.HNSWEFConstruct,
		})
	if err := repo.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure vector index", zap.Error(err))
	}

	knowledgeSvc := knowledgeuc.New(repo, embedder, baseEmbedder, logger)

	retrievalSvc := retrievaluc.New(knowledgeSvc, retrievaluc.Options{
		Limit:            cfg.Retrieval.Limit,
		MinSimilarity:    cfg.Retrieval.MinSimilarity,
		ExpansionEnabled: *cfg.Retrieval.ExpansionEnabled,
		MaxVariants:      cfg.Retrieval.MaxVariants,
	}, logger)

	marketProvider := market.New(&market.Config{
		CoinGeckoBaseURL: cfg.Market.CoinGeckoBaseURL,
		DefiLlamaBaseURL: cfg.Market.DefiLlamaBaseURL,
		CacheTTL:         time.Duration(cfg.Market.CacheTTLSec) * time.Second,
		Timeout:          time.Duration(cfg.Market.RequestTimeoutSec) * time.Second,
		Routes:           keywordRoutes(cfg.Market.KeywordRoutes),
		Logger:           logger,
	})

	completer := buildCompleter(cfg.Completion, logger)
	if completer == nil {
		logger.Warn("No completion provider configured; chat will report the missing configuration")
	}

	chatSvc := chatuc.New(retrievalSvc, marketProvider, completer, logger)
	healthSvc := healthuc.New(store, baseEmbedder, completer != nil)

	server := chiTransport.NewServer(knowledgeSvc, chatSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildCompleter selects the configured completion provider. A missing
// provider or key returns nil; the orchestrator reports the condition.
func buildCompleter(cfg config.CompletionConfig, logger *zap.Logger) domain.Completer {
	if cfg.APIKey == "" {
		return nil
	}
	switch cfg.Provider {
	case "openai":
		return openaiTransport.NewCompleter(&openaiTransport.CompleterConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			SystemPrompt: cfg.SystemPrompt,
			Provider:     "openai",
			Logger:       logger,
		})
	case "anthropic":
		return anthropicCompleter.NewCompleter(&anthropicCompleter.Config{
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			MaxTokens:    cfg.MaxTokens,
			SystemPrompt: cfg.SystemPrompt,
			Logger:       logger,
		})
	default:
		return nil
	}
}

func keywordRoutes(kr *config.KeywordRoutes) market.KeywordRoutes {
	if kr == nil {
		return market.KeywordRoutes{}
	}
	return market.KeywordRoutes{
		Market:    kr.Market,
		Protocols: kr.Protocols,
		Trending:  kr.Trending,
	}
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
