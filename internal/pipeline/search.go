package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultSearchURL       = "https://google.serper.dev/search"
	defaultSearchTimeout   = 15 * time.Second
	defaultSearchRate      = 1
	maxSearchResults       = 5
	maxSearchErrorBodySize = 512
)

var ErrSearchFailed = errors.New("web search failed")

// SearchResult is one organic hit.
type SearchResult struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Searcher looks up the user's query on the web. Results are added to the
// tool findings of every stage.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// SerperClient queries the Serper Google search API.
type SerperClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type SerperOption func(*SerperClient)

func WithSearchURL(url string) SerperOption {
	return func(c *SerperClient) {
		if url != "" {
			c.url = url
		}
	}
}

func WithSearchHTTPClient(hc *http.Client) SerperOption {
	return func(c *SerperClient) {
		c.httpClient = hc
	}
}

// WithSearchRateLimit caps outgoing requests per second. Zero keeps the default.
func WithSearchRateLimit(rps float64) SerperOption {
	return func(c *SerperClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func NewSerperClient(apiKey string, opts ...SerperOption) *SerperClient {
	c := &SerperClient{
		url:        DefaultSearchURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultSearchTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultSearchRate), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type serperResponse struct {
	Organic []SearchResult `json:"organic"`
}

// Search returns at most five organic results for query.
func (c *SerperClient) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(map[string]string{"q": query})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxSearchErrorBodySize))
		return nil, fmt.Errorf("%w: status %d: %s", ErrSearchFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrSearchFailed, err)
	}
	if len(out.Organic) > maxSearchResults {
		out.Organic = out.Organic[:maxSearchResults]
	}
	return out.Organic, nil
}

// WebSearch renders results as a tool finding block.
func WebSearch(results []SearchResult) string {
	if len(results) == 0 {
		return "Web Search:\nNo results found."
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, r.Title+" - "+r.Link)
	}
	return "Web Search:\n" + strings.Join(lines, "\n")
}
