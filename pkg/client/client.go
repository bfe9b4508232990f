// Package client provides a typed Go client for the ledger HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/francescomaiomascio/yai/pkg/kernel"
	"github.com/francescomaiomascio/yai/pkg/memory"
)

// APIError is returned when the API responds with a non-2xx status. Code
// is the stable error code of the problem document, when present.
type APIError struct {
	Status    int    `json:"status"`
	Title     string `json:"title"`
	Detail    string `json:"detail"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("yai api %d: %s (%s)", e.Status, e.Detail, e.Code)
	}
	return fmt.Sprintf("yai api %d: %s", e.Status, e.Detail)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Client is a typed client for the ledger API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a new Client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer capability token.
func WithToken(token string) Option {
	return func(c *Client) { c.Token = token }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.HTTPClient = h }
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Detail = http.StatusText(resp.StatusCode)
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out != nil {
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		return dec.Decode(out)
	}
	return nil
}

// EmitRequest is the body of POST /v1/events. The origin is taken from the
// token, never from the request.
type EmitRequest struct {
	EventID   string             `json:"event_id,omitempty"`
	RunID     string             `json:"run_id"`
	EventType kernel.EventType   `json:"event_type"`
	Timestamp string             `json:"timestamp,omitempty"`
	Payload   map[string]any     `json:"payload"`
	Causality []kernel.CausalRef `json:"causality,omitempty"`
}

// EventPage is one page of the global log.
type EventPage struct {
	Offset     int                  `json:"offset"`
	NextOffset int                  `json:"next_offset"`
	Head       string               `json:"head"`
	Events     []kernel.EventRecord `json:"events"`
}

// RunEvents is the replayable history of one run.
type RunEvents struct {
	RunID  string               `json:"run_id"`
	Head   string               `json:"head"`
	Events []kernel.EventRecord `json:"events"`
}

// Access restricts who may read a committed memory.
type Access struct {
	Agents     []string `json:"agents,omitempty"`
	Fields     []string `json:"fields,omitempty"`
	Expression string   `json:"expression,omitempty"`
}

// CommitRequest is the body of POST /v1/memories.
type CommitRequest struct {
	RunID          string            `json:"run_id"`
	SourceEventIDs []string          `json:"source_event_ids"`
	MemoryType     memory.MemoryType `json:"memory_type"`
	Confidence     float64           `json:"confidence"`
	Payload        map[string]any    `json:"payload"`
	SchemaVersion  string            `json:"schema_version,omitempty"`
	TTL            string            `json:"ttl,omitempty"`
	Access         *Access           `json:"access,omitempty"`
}

// Memory describes a freshly committed memory.
type Memory struct {
	MemoryID      string            `json:"memory_id"`
	MemoryType    memory.MemoryType `json:"memory_type"`
	Confidence    float64           `json:"confidence"`
	SchemaVersion string            `json:"schema_version"`
	CreatedAt     string            `json:"created_at"`
	Provenance    memory.Provenance `json:"provenance"`
	State         memory.State      `json:"state"`
}

// TaxonomyEntry lists one event type with the origins allowed to emit it.
type TaxonomyEntry struct {
	EventType      kernel.EventType `json:"event_type"`
	AllowedOrigins []string         `json:"allowed_origins"`
}

// TaxonomyCategory groups taxonomy entries.
type TaxonomyCategory struct {
	Category string          `json:"category"`
	Events   []TaxonomyEntry `json:"events"`
}

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status    string            `json:"status"`
	Events    int               `json:"events"`
	Head      string            `json:"head"`
	Memories  int               `json:"memories"`
	Checks    map[string]string `json:"checks"`
	CheckedAt string            `json:"checked_at"`
}

// Emit calls POST /v1/events.
func (c *Client) Emit(ctx context.Context, req EmitRequest) (*kernel.EventRecord, error) {
	var out kernel.EventRecord
	if err := c.do(ctx, http.MethodPost, "/v1/events", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events calls GET /v1/events?offset=.
func (c *Client) Events(ctx context.Context, offset int) (*EventPage, error) {
	var out EventPage
	if err := c.do(ctx, http.MethodGet, "/v1/events?offset="+strconv.Itoa(offset), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunEvents calls GET /v1/runs/{run_id}/events.
func (c *Client) RunEvents(ctx context.Context, runID string) (*RunEvents, error) {
	var out RunEvents
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID)+"/events", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Commit calls POST /v1/memories.
func (c *Client) Commit(ctx context.Context, req CommitRequest) (*Memory, error) {
	var out Memory
	if err := c.do(ctx, http.MethodPost, "/v1/memories", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transition calls POST /v1/memories/{id}/{transition} where transition is
// one of expire, deprecate, supersede or invalidate.
func (c *Client) Transition(ctx context.Context, memoryID, transition, replacedBy, reason string) (*memory.State, error) {
	body := map[string]string{"reason": reason}
	if replacedBy != "" {
		body["replaced_by"] = replacedBy
	}
	var out memory.State
	path := "/v1/memories/" + url.PathEscape(memoryID) + "/" + url.PathEscape(transition)
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// State calls GET /v1/memories/{id}/state.
func (c *Client) State(ctx context.Context, memoryID string) (*memory.State, error) {
	var out memory.State
	if err := c.do(ctx, http.MethodGet, "/v1/memories/"+url.PathEscape(memoryID)+"/state", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MemoryView calls GET /v1/runs/{run_id}/memory-view. maxItems <= 0 leaves
// the server default.
func (c *Client) MemoryView(ctx context.Context, runID string, memoryIDs []string, maxItems int) ([]memory.View, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(memoryIDs, ","))
	if maxItems > 0 {
		q.Set("max", strconv.Itoa(maxItems))
	}
	var out struct {
		Views []memory.View `json:"views"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID)+"/memory-view?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Views, nil
}

// Taxonomy calls GET /v1/taxonomy.
func (c *Client) Taxonomy(ctx context.Context) ([]TaxonomyCategory, error) {
	var out struct {
		Categories []TaxonomyCategory `json:"categories"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/taxonomy", nil, &out); err != nil {
		return nil, err
	}
	return out.Categories, nil
}

// Health calls GET /health. A degraded server yields both the report and an
// *APIError carrying 503.
func (c *Client) Health(ctx context.Context) (*HealthReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var report HealthReport
	decodeErr := json.NewDecoder(resp.Body).Decode(&report)
	if resp.StatusCode != http.StatusOK {
		return &report, &APIError{Status: resp.StatusCode, Detail: "server " + report.Status}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode health: %w", decodeErr)
	}
	return &report, nil
}
