package usecase

import (
	"context"
	"errors"
	"strings"

	"intellect/internal/domain"
	"intellect/internal/integrations/gnews"
)

const maxHeadlineLimit = 50

type NewsFeed interface {
	HeadlineSource
	TrendingTopics() []string
}

// NewsService serves headline listings to the HTTP API.
type NewsService struct {
	feed NewsFeed
}

type NewsInput struct {
	Category string
	Limit    int
	// Query keeps articles whose title or description contains it.
	Query string
	// Filter keeps articles matching a category's keyword table.
	Filter string
}

func NewNewsService(feed NewsFeed) (*NewsService, error) {
	if feed == nil {
		return nil, errors.New("usecase: news feed must not be nil")
	}
	return &NewsService{feed: feed}, nil
}

func (s *NewsService) Headlines(ctx context.Context, in NewsInput) ([]domain.NewsArticle, error) {
	category := strings.ToLower(strings.TrimSpace(in.Category))
	if category == "" {
		category = gnews.CategoryAll
	}
	limit := in.Limit
	if limit <= 0 {
		limit = headlineLimit
	}
	if limit > maxHeadlineLimit {
		return nil, newError(ErrorInvalidInput, "limit_too_large", nil)
	}

	articles := s.feed.GetNewsByCategory(ctx, category, limit)
	if f := strings.ToLower(strings.TrimSpace(in.Filter)); f != "" {
		articles = gnews.FilterArticlesByCategory(articles, f)
	}
	return MatchArticles(articles, in.Query), nil
}

func (s *NewsService) Topics() []string {
	return s.feed.TrendingTopics()
}
