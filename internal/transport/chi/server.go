// Package chi exposes the chat backend over HTTP: streaming chat, document
// management, metadata enumeration, health, and metrics.
package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/reactular/web3-insight-chat/internal/domain"
	domchat "github.com/reactular/web3-insight-chat/internal/domain/chat"
	domdoc "github.com/reactular/web3-insight-chat/internal/domain/document"
	"github.com/reactular/web3-insight-chat/internal/domain/search/filter"
	logpkg "github.com/reactular/web3-insight-chat/internal/logger"
	chatuc "github.com/reactular/web3-insight-chat/internal/usecase/chat"
	healthuc "github.com/reactular/web3-insight-chat/internal/usecase/health"
	knowledgeuc "github.com/reactular/web3-insight-chat/internal/usecase/knowledge"
)

const (
	maxMessageLen = 5000
	maxBatchSize  = 100
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server wires the usecase services to chi routes.
type Server struct {
	knowledge     *knowledgeuc.Service
	chat          *chatuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	knowledge *knowledgeuc.Service,
	chat *chatuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		knowledge: knowledge,
		chat:      chat,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		batchInsertHandler,
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, "document_not_found"),
		sentinelHandler(domain.ErrInvalidDocument, http.StatusBadRequest, "validation_failed"),
		sentinelHandler(domain.ErrEmptyInput, http.StatusBadRequest, "validation_failed"),
		sentinelHandler(domain.ErrInvalidFilterKey, http.StatusBadRequest, "validation_failed"),
		sentinelHandler(domain.ErrEmbeddingProvider, http.StatusBadGateway, "embedding_provider_error"),
		sentinelHandler(domain.ErrCompletionProvider, http.StatusBadGateway, "completion_provider_error"),
		sentinelHandler(domain.ErrCompletionNotConfigured, http.StatusServiceUnavailable, "completion_not_configured"),
		sentinelHandler(domain.ErrStorage, http.StatusServiceUnavailable, "storage_error"),
	}
	return s
}

// Routes registers all endpoints on a router.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat", s.Chat)
		r.Post("/chat/stream", s.ChatStream)
		r.Post("/documents", s.CreateDocument)
		r.Post("/documents/batch", s.CreateDocumentBatch)
		r.Get("/documents/{id}", s.GetDocument)
		r.Delete("/documents/{id}", s.DeleteDocument)
		r.Get("/metadata/{key}/values", s.MetadataValues)
	})
}

type chatRequest struct {
	Message string         `json:"message"`
	Filters map[string]any `json:"filters,omitempty"`
}

// ChatStream handles POST /api/v1/chat/stream.
func (s *Server) ChatStream(w http.ResponseWriter, r *http.Request) {
	req, f, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	for ev := range s.chat.Stream(r.Context(), req.Message, f) {
		if err := sse.Send(ev); err != nil {
			// Client is gone; the context cancellation stops the producer.
			s.logger.Debug("sse write failed", zap.Error(err))
			return
		}
	}
}

// Chat handles POST /api/v1/chat (non-streaming).
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	req, f, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	resp, err := s.chat.Ask(r.Context(), req.Message, f)
	if errors.Is(err, domain.ErrCompletionNotConfigured) {
		// The chat surface stays usable: report the condition as content.
		writeJSON(w, http.StatusOK, domchat.Response{
			Content: "The assistant is not configured with a language model provider. Set a completion API key to enable answers.",
			Sources: []domchat.Source{},
		})
		return
	}
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if resp.Sources == nil {
		resp.Sources = []domchat.Source{}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, filter.Filter, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return chatRequest{}, filter.Filter{}, false
	}
	if err := validateMessage(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return chatRequest{}, filter.Filter{}, false
	}
	return req, filter.ParseWire(req.Filters), true
}

// validateMessage enforces length bounds and rejects embedded script payloads.
func validateMessage(msg string) error {
	trimmed := strings.TrimSpace(msg)
	if trimmed == "" {
		return errors.New("message is required")
	}
	if len(msg) > maxMessageLen {
		return fmt.Errorf("message must be at most %d characters", maxMessageLen)
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "<script") || strings.Contains(lower, "javascript:") {
		return errors.New("message contains disallowed content")
	}
	return nil
}

type documentRequest struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type documentResponse struct {
	ID        int64          `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// CreateDocument handles POST /api/v1/documents.
func (s *Server) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	doc, err := s.knowledge.Insert(r.Context(), req.Content, req.Metadata)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/documents/%d", doc.ID()))
	writeJSON(w, http.StatusCreated, documentToResponse(doc))
}

type batchRequest struct {
	Documents []documentRequest `json:"documents"`
}

type batchResponse struct {
	IDs []int64 `json:"ids"`
}

// CreateDocumentBatch handles POST /api/v1/documents/batch.
func (s *Server) CreateDocumentBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if len(req.Documents) == 0 || len(req.Documents) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "validation_failed",
			fmt.Sprintf("documents count must be between 1 and %d", maxBatchSize))
		return
	}

	items := make([]knowledgeuc.BatchItem, len(req.Documents))
	for i, d := range req.Documents {
		items[i] = knowledgeuc.BatchItem{Content: d.Content, Metadata: d.Metadata}
	}

	docs, err := s.knowledge.InsertBatch(r.Context(), items)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	ids := make([]int64, len(docs))
	for i, d := range docs {
		ids[i] = d.ID()
	}
	writeJSON(w, http.StatusCreated, batchResponse{IDs: ids})
}

// GetDocument handles GET /api/v1/documents/{id}.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	doc, err := s.knowledge.Get(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentToResponse(doc))
}

// DeleteDocument handles DELETE /api/v1/documents/{id}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	deleted, err := s.knowledge.Delete(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "document_not_found", "document not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type metadataValuesResponse struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// MetadataValues handles GET /api/v1/metadata/{key}/values.
func (s *Server) MetadataValues(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	values, err := s.knowledge.DistinctMetadataValues(r.Context(), key)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if values == nil {
		values = []string{}
	}
	writeJSON(w, http.StatusOK, metadataValuesResponse{Key: key, Values: values})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func documentToResponse(doc domdoc.Document) documentResponse {
	return documentResponse{
		ID:        doc.ID(),
		Content:   doc.Content(),
		Metadata:  doc.Metadata(),
		CreatedAt: time.UnixMilli(doc.CreatedAt()).UTC(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrEmptyInput,
		domain.ErrInvalidFilterKey,
		domain.ErrInvalidDocument,
		domain.ErrDocumentNotFound,
		domain.ErrEmbeddingProvider,
		domain.ErrCompletionProvider,
		domain.ErrCompletionNotConfigured,
		domain.ErrStorage,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// batchInsertHandler reports a partial batch failure together with the ids
// committed before it.
func batchInsertHandler(w http.ResponseWriter, err error, msg string) bool {
	var bie *domain.BatchInsertError
	if !errors.As(err, &bie) {
		return false
	}
	committed := bie.CommittedIDs
	if committed == nil {
		committed = []int64{}
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"code":          "batch_insert_failed",
		"message":       safeDomainMessage(bie.Err),
		"committed_ids": committed,
		"failed_index":  bie.FailedIndex,
	})
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
