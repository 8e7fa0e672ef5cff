package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"intellect/internal/domain"
)

const searchLimit = 5

type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type NewsSearcher interface {
	SearchNews(ctx context.Context, query string, limit int) []domain.NewsArticle
}

// Answer is a composed reply. Sources holds the URLs of the articles it was
// grounded on, in search order.
type Answer struct {
	Text     string
	Sources  []string
	Articles int
}

// Composer turns a question into an answer. It never fails: each step
// degrades to a textual fallback.
type Composer struct {
	llm    Completer
	news   NewsSearcher
	logger *slog.Logger
}

func NewComposer(llm Completer, news NewsSearcher, logger *slog.Logger) (*Composer, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if news == nil {
		return nil, errors.New("usecase: news client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{llm: llm, news: news, logger: logger}, nil
}

func (c *Composer) Compose(ctx context.Context, query string) Answer {
	query = strings.TrimSpace(query)
	articles := c.news.SearchNews(ctx, c.refine(ctx, query), searchLimit)

	if len(articles) == 0 {
		text, err := c.llm.Complete(ctx, generalPrompt(query))
		if err != nil || strings.TrimSpace(text) == "" {
			c.logger.WarnContext(ctx, "general answer failed", "err", err)
			return Answer{Text: noNewsApology}
		}
		return Answer{Text: withDisclosure(strings.TrimSpace(text))}
	}

	sources := make([]string, 0, len(articles))
	for _, a := range articles {
		if a.URL != "" {
			sources = append(sources, a.URL)
		}
	}

	text, err := c.llm.Complete(ctx, groundedPrompt(query, articles))
	if err != nil || strings.TrimSpace(text) == "" {
		c.logger.WarnContext(ctx, "grounded answer failed, listing articles", "articles", len(articles), "err", err)
		text = articleDigest(articles)
	}
	return Answer{Text: strings.TrimSpace(text), Sources: sources, Articles: len(articles)}
}

// refine rewrites query for keyword search, returning it unchanged when the
// model fails.
func (c *Composer) refine(ctx context.Context, query string) string {
	reply, err := c.llm.Complete(ctx, refinePrompt(query))
	if err != nil {
		c.logger.WarnContext(ctx, "query refinement failed", "err", err)
		return query
	}
	if refined := cleanRefined(reply); refined != "" {
		return refined
	}
	return query
}
