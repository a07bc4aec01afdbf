// ABOUTME: Web search client used by the researcher's tool loop
// ABOUTME: Calls a Tavily-style JSON search API over HTTP

package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultSearchTimeout = 15 * time.Second
	defaultMaxResults    = 6
)

// SearchConfig configures the search client.
type SearchConfig struct {
	Endpoint   string
	APIKey     string
	MaxResults int
	Timeout    time.Duration
}

// SearchClient queries an external web search API.
type SearchClient struct {
	endpoint   string
	apiKey     string
	maxResults int
	httpClient *http.Client
}

// SearchResult is one hit returned by the search API.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// SearchResponse is the full result set for one query.
type SearchResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer,omitempty"`
	Results []SearchResult `json:"results"`
}

// NewSearchClient creates a search client with defaults applied.
func NewSearchClient(cfg SearchConfig) *SearchClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultSearchTimeout
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = defaultMaxResults
	}
	return &SearchClient{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		maxResults: cfg.MaxResults,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Search runs one query and returns the parsed result set.
func (c *SearchClient) Search(ctx context.Context, query string) (*SearchResponse, error) {
	body, err := json.Marshal(map[string]any{
		"api_key":     c.apiKey,
		"query":       query,
		"max_results": c.maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, payload)
	}

	var out SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	out.Query = query
	return &out, nil
}
