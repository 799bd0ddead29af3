// Package supabase is a small PostgREST client for the hosted Supabase
// project: table reads and writes plus RPC calls.
package supabase

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

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrNotConfigured is returned when the project URL or service key is missing
var ErrNotConfigured = errors.New("supabase is not configured")

const maxErrorBodyBytes = 32 << 10

// APIError is a non-2xx PostgREST response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase API error %d: %s", e.StatusCode, e.Body)
}

// Client wraps the Supabase REST API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

// NewClient creates a new Supabase client
func NewClient(cfg config.SupabaseConfig, logger *logrus.Logger) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.ServiceKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}, nil
}

// From starts a query on a table
func (c *Client) From(table string) *Query {
	return &Query{client: c, table: table, params: url.Values{}}
}

// Query builds a PostgREST request
type Query struct {
	client     *Client
	table      string
	params     url.Values
	onConflict string
}

// Select specifies columns to select
func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

// Eq adds an equality filter
func (q *Query) Eq(column string, value any) *Query {
	q.params.Add(column, fmt.Sprintf("eq.%v", value))
	return q
}

// Lt adds a less-than filter
func (q *Query) Lt(column string, value any) *Query {
	q.params.Add(column, fmt.Sprintf("lt.%v", value))
	return q
}

// Limit sets the LIMIT
func (q *Query) Limit(n int) *Query {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

// OnConflict sets the conflict target used by Upsert
func (q *Query) OnConflict(columns string) *Query {
	q.onConflict = columns
	return q
}

func (q *Query) url() string {
	u := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, url.PathEscape(q.table))
	params := url.Values{}
	for k, v := range q.params {
		params[k] = v
	}
	if q.onConflict != "" {
		params.Set("on_conflict", q.onConflict)
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// Execute runs a SELECT and decodes the rows into out
func (q *Query) Execute(ctx context.Context, out any) error {
	body, err := q.client.do(ctx, http.MethodGet, q.url(), nil, "")
	if err != nil {
		return err
	}
	return decode(body, out)
}

// Insert inserts rows
func (q *Query) Insert(ctx context.Context, rows any) error {
	_, err := q.client.do(ctx, http.MethodPost, q.url(), rows, "return=minimal")
	return err
}

// Upsert inserts rows, merging on the conflict target
func (q *Query) Upsert(ctx context.Context, rows any) error {
	_, err := q.client.do(ctx, http.MethodPost, q.url(), rows, "resolution=merge-duplicates,return=minimal")
	return err
}

// Delete removes rows matching the filters
func (q *Query) Delete(ctx context.Context) error {
	if len(q.params) == 0 {
		return fmt.Errorf("refusing unfiltered delete on %s", q.table)
	}
	_, err := q.client.do(ctx, http.MethodDelete, q.url(), nil, "return=minimal")
	return err
}

// RPC calls a stored procedure and decodes the result into out
func (c *Client) RPC(ctx context.Context, fn string, params any, out any) error {
	u := fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, url.PathEscape(fn))
	if params == nil {
		params = map[string]any{}
	}
	body, err := c.do(ctx, http.MethodPost, u, params, "")
	if err != nil {
		return err
	}
	return decode(body, out)
}

func (c *Client) do(ctx context.Context, method, u string, payload any, prefer string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("supabase throttle: %w", err)
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"status": resp.StatusCode,
		}).Debug("Supabase request failed")
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func decode(body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
