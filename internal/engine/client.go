// Package engine is the HTTP client for the backing search engine the
// pipelines wrap. It speaks the engine's /search wire shape: a query request
// in, a result envelope out.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/model-collapse/quidditch/internal/domain"
	"github.com/model-collapse/quidditch/internal/domain/search/envelope"
	"github.com/model-collapse/quidditch/internal/domain/search/query"
)

const defaultTimeout = 10 * time.Second

// Config describes the engine endpoint.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the engine over HTTP. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient creates an engine client.
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("engine: base URL required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Search executes a request against the engine and returns the raw envelope,
// before any result pipeline runs.
func (c *Client) Search(ctx context.Context, req *query.Request) (*envelope.Envelope, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("engine: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("engine: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: engine rejected query: %s", domain.ErrMalformedQuery, snippet)
		}
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrEngineUnavailable, resp.StatusCode, snippet)
	}

	var env envelope.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("engine: decode response: %w", err)
	}

	c.logger.Debug("engine search",
		zap.Uint64("total", env.Total()),
		zap.Int("hits", len(env.Hits())),
		zap.Duration("took", time.Since(start)))
	return &env, nil
}

// Ping checks engine reachability.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEngineUnavailable, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", domain.ErrEngineUnavailable, resp.StatusCode)
	}
	return nil
}
