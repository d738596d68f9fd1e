// Package insight is the HTTP client SDK for the web3-insight-chat API.
package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client talks to a web3-insight-chat server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the Bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client. Streaming calls need a
// client without an overall timeout; New configures that by default.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the given base URL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// No overall timeout: chat streams stay open for the whole response.
		// Per-request deadlines come from the caller's context.
		http: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Source is one attribution attached to a response.
type Source struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ChatResponse is the non-streaming chat result.
type ChatResponse struct {
	Content string   `json:"content"`
	Sources []Source `json:"sources"`
}

// Document is a stored knowledge-base document.
type Document struct {
	ID        int64          `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

// Chat sends a message and returns the complete answer with sources.
// filters follows the wire filter shape: scalar equality or one of
// {$in}, {$like}, {$ilike}, {$exists} per metadata key.
func (c *Client) Chat(ctx context.Context, message string, filters map[string]any) (ChatResponse, error) {
	var resp ChatResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/chat",
		map[string]any{"message": message, "filters": filters}, &resp)
	return resp, err
}

// InsertDocument stores one document and returns it with its assigned id.
func (c *Client) InsertDocument(ctx context.Context, content string, metadata map[string]any) (Document, error) {
	var doc Document
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/documents",
		map[string]any{"content": content, "metadata": metadata}, &doc)
	return doc, err
}

// BatchDocument is one item of a batch insertion.
type BatchDocument struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// InsertDocuments stores a batch of documents and returns the assigned ids in
// input order.
func (c *Client) InsertDocuments(ctx context.Context, docs []BatchDocument) ([]int64, error) {
	var resp struct {
		IDs []int64 `json:"ids"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/documents/batch",
		map[string]any{"documents": docs}, &resp)
	return resp.IDs, err
}

// GetDocument fetches a stored document by id.
func (c *Client) GetDocument(ctx context.Context, id int64) (Document, error) {
	var doc Document
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v1/documents/%d", id), nil, &doc)
	return doc, err
}

// DeleteDocument removes a document. Deleting a missing id returns an
// APIError with status 404.
func (c *Client) DeleteDocument(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/documents/%d", id), nil, nil)
}

// MetadataValues lists the distinct values stored under a metadata key.
func (c *Client) MetadataValues(ctx context.Context, key string) ([]string, error) {
	var resp struct {
		Values []string `json:"values"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/metadata/"+key+"/values", nil, &resp)
	return resp.Values, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
