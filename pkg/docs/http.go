package docs

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/flowmend/flowmend/pkg/models"
)

type cacheEntry struct {
	snippets  []models.DocSnippet
	fetchedAt time.Time
}

// HTTPFetcher queries a docs service over HTTP and caches results per
// (node type, message) pair.
type HTTPFetcher struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	cache    sync.Map // map[string]cacheEntry
	ttl      time.Duration
}

type config struct {
	client *http.Client
	ttl    time.Duration
}

func defaultConfig() config {
	return config{
		client: &http.Client{Timeout: 10 * time.Second},
		ttl:    15 * time.Minute,
	}
}

// Option configures the HTTP fetcher.
type Option func(*config)

// WithCacheTTL sets how long fetched snippets are reused.
func WithCacheTTL(d time.Duration) Option {
	return func(c *config) { c.ttl = d }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.client = client }
}

func NewHTTPFetcher(endpoint string, logger *slog.Logger, opts ...Option) *HTTPFetcher {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	return &HTTPFetcher{
		endpoint: endpoint,
		client:   cfg.client,
		logger:   logger.With("module", "docs"),
		ttl:      cfg.ttl,
	}
}

// Relevant queries the docs service with the node type and error message.
// Transport failures, bad statuses, and undecodable bodies all log a
// warning and return nothing.
func (f *HTTPFetcher) Relevant(ctx context.Context, nodeType, errorMessage string) []models.DocSnippet {
	if nodeType == "" && errorMessage == "" {
		return nil
	}

	cacheKey := nodeType + "\x00" + errorMessage
	if entry, ok := f.cache.Load(cacheKey); ok {
		e := entry.(cacheEntry)
		if time.Since(e.fetchedAt) < f.ttl {
			return e.snippets
		}
	}

	requestURL, err := f.buildURL(nodeType, errorMessage)
	if err != nil {
		f.logger.WarnContext(ctx, "Skipping docs lookup", "error", err)

		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		f.logger.WarnContext(ctx, "Skipping docs lookup", "error", err)

		return nil
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.WarnContext(ctx, "Docs lookup failed", "node_type", nodeType, "error", err)

		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.logger.WarnContext(ctx, "Docs lookup failed", "node_type", nodeType, "status", resp.StatusCode)

		return nil
	}

	var snippets []models.DocSnippet
	if err := json.NewDecoder(resp.Body).Decode(&snippets); err != nil {
		f.logger.WarnContext(ctx, "Docs lookup returned an undecodable body", "node_type", nodeType, "error", err)

		return nil
	}

	f.cache.Store(cacheKey, cacheEntry{snippets: snippets, fetchedAt: time.Now()})

	return snippets
}

func (f *HTTPFetcher) buildURL(nodeType, errorMessage string) (string, error) {
	parsed, err := url.Parse(f.endpoint)
	if err != nil {
		return "", err
	}

	query := parsed.Query()
	if nodeType != "" {
		query.Set("node_type", nodeType)
	}

	if errorMessage != "" {
		query.Set("q", errorMessage)
	}

	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}
