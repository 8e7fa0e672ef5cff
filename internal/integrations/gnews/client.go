// Package gnews is a cached client for the GNews search API.
package gnews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"intellect/internal/cache"
	"intellect/internal/domain"
	"intellect/internal/integrations/paramstore"
	"intellect/internal/metrics"
)

const (
	defaultBaseURL     = "https://gnews.io/api/v4"
	tokenParameter     = "gnews-token"
	defaultHTTPTimeout = 15 * time.Second

	// MaxResults is the largest page the provider returns.
	MaxResults = 10

	articlesTTL = 5 * time.Minute
	topicsTTL   = 30 * time.Minute

	fallbackTitle       = "No title available"
	fallbackDescription = "No description available"
	fallbackSource      = "Unknown source"
)

var trendingTopics = []string{
	"AI Technology",
	"Climate Change",
	"Space Exploration",
	"Cryptocurrency",
	"Healthcare Innovation",
	"Renewable Energy",
	"Global Economy",
	"Sports Championships",
}

type searchResponse struct {
	Articles *[]rawArticle `json:"articles"`
}

type rawArticle struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
	Image       string `json:"image"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`
}

// HTTPStatusError is a non-2xx response from the search endpoint.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gnews: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client looks up news articles. Lookups never fail: any transport, status or
// payload problem is logged and yields an empty list.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      *paramstore.Token
	logger     *slog.Logger
	now        func() time.Time

	articles *cache.TTL[string, []domain.NewsArticle]
	topics   *cache.TTL[string, []string]
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces time.Now for cache expiry and missing publish dates.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a Client reading its API key from <paramPrefix>/gnews-token.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("gnews: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimSpace(paramPrefix)
	if paramPrefix == "" {
		return nil, errors.New("gnews: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		token:      paramstore.NewToken(ps, paramstore.Join(paramPrefix, tokenParameter)),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.articles = cache.New(articlesTTL, cache.WithClock[string, []domain.NewsArticle](c.now))
	c.topics = cache.New(topicsTTL, cache.WithClock[string, []string](c.now))
	return c, nil
}

func searchKey(query string, limit int) string {
	return "search:" + query + ":" + strconv.Itoa(limit)
}

func categoryKey(category string, limit int) string {
	return "category:" + category + ":" + strconv.Itoa(limit)
}

// SearchNews returns up to limit articles matching query.
func (c *Client) SearchNews(ctx context.Context, query string, limit int) []domain.NewsArticle {
	key := searchKey(query, limit)
	if cached, ok := c.lookup(key); ok {
		return cached
	}

	articles, err := c.fetch(ctx, query, limit)
	if err != nil {
		c.logger.Warn("news search failed", "query", query, "err", err)
		metrics.NewsFailures.WithLabelValues(failureReason(err)).Inc()
		return []domain.NewsArticle{}
	}
	c.articles.Set(key, articles)
	return slices.Clone(articles)
}

// GetNewsByCategory returns up to limit articles for category, each tagged
// with the category. "all" is a plain search for the latest news.
func (c *Client) GetNewsByCategory(ctx context.Context, category string, limit int) []domain.NewsArticle {
	if category == CategoryAll {
		return c.SearchNews(ctx, "latest news", limit)
	}
	key := categoryKey(category, limit)
	if cached, ok := c.lookup(key); ok {
		return cached
	}

	found := c.SearchNews(ctx, CategoryQuery(category), limit)
	tagged := make([]domain.NewsArticle, len(found))
	for i, a := range found {
		a.Category = category
		tagged[i] = a
	}
	if len(tagged) > 0 {
		c.articles.Set(key, tagged)
	}
	return slices.Clone(tagged)
}

// TrendingTopics returns a fixed list of popular topics.
func (c *Client) TrendingTopics() []string {
	if topics, ok := c.topics.Get("trending-topics"); ok {
		return slices.Clone(topics)
	}
	c.topics.Set("trending-topics", trendingTopics)
	return slices.Clone(trendingTopics)
}

// ClearCache drops every cached lookup.
func (c *Client) ClearCache() {
	c.articles.Clear()
	c.topics.Clear()
	c.logger.Debug("news cache cleared")
}

func (c *Client) lookup(key string) ([]domain.NewsArticle, bool) {
	cached, ok := c.articles.Get(key)
	if !ok {
		metrics.NewsCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.NewsCache.WithLabelValues("hit").Inc()
	c.logger.Debug("news cache hit", "key", key)
	return slices.Clone(cached), true
}

func (c *Client) fetch(ctx context.Context, query string, limit int) ([]domain.NewsArticle, error) {
	apiKey, err := c.token.Value(ctx)
	if err != nil {
		return nil, fmt.Errorf("gnews: resolve api key: %w", err)
	}
	if limit <= 0 || limit > MaxResults {
		limit = MaxResults
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("lang", "en")
	params.Set("country", "us")
	params.Set("max", strconv.Itoa(limit))
	params.Set("apikey", apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("gnews: create request: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gnews: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, Body: string(buf)}
	}

	var payload searchResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, &payloadError{err: err}
	}
	if payload.Articles == nil {
		return nil, &payloadError{err: errors.New("missing articles array")}
	}

	out := make([]domain.NewsArticle, 0, len(*payload.Articles))
	for _, raw := range *payload.Articles {
		out = append(out, c.toArticle(raw))
	}
	return out, nil
}

func (c *Client) toArticle(raw rawArticle) domain.NewsArticle {
	published, err := time.Parse(time.RFC3339, raw.PublishedAt)
	if err != nil {
		published = c.now().UTC()
	}
	return domain.NewsArticle{
		Title:       orDefault(raw.Title, fallbackTitle),
		Description: orDefault(raw.Description, fallbackDescription),
		URL:         raw.URL,
		PublishedAt: published,
		SourceName:  orDefault(raw.Source.Name, fallbackSource),
		ImageURL:    raw.Image,
	}
}

type payloadError struct{ err error }

func (e *payloadError) Error() string { return "gnews: invalid response: " + e.err.Error() }
func (e *payloadError) Unwrap() error { return e.err }

func failureReason(err error) string {
	var statusErr *HTTPStatusError
	var payloadErr *payloadError
	switch {
	case errors.As(err, &statusErr):
		return "status"
	case errors.As(err, &payloadErr):
		return "payload"
	case errors.Is(err, paramstore.ErrNotFound), errors.Is(err, paramstore.ErrPlaceholder):
		return "credentials"
	default:
		return "transport"
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
