package gnews

import (
	"strings"

	"intellect/internal/domain"
)

// CategoryAll selects uncategorised headlines.
const CategoryAll = "all"

// Categories lists the selectable categories in display order.
var Categories = []string{
	CategoryAll,
	"technology",
	"science",
	"business",
	"health",
	"sports",
	"entertainment",
	"politics",
	"world",
}

// categoryQueries maps a category to search terms that give the provider
// reasonable recall.
var categoryQueries = map[string]string{
	"technology":    "technology tech AI software",
	"science":       "science research discovery",
	"business":      "business economy finance market",
	"health":        "health medical healthcare",
	"sports":        "sports football basketball",
	"entertainment": "entertainment movies music",
	"politics":      "politics government election",
	"world":         "world international global",
}

var categoryKeywords = map[string][]string{
	"technology":    {"tech", "ai", "software", "computer", "digital", "internet", "app", "startup"},
	"science":       {"science", "research", "study", "discovery", "experiment", "scientist"},
	"business":      {"business", "economy", "market", "finance", "company", "stock", "trade"},
	"health":        {"health", "medical", "doctor", "hospital", "medicine", "disease", "treatment"},
	"sports":        {"sports", "game", "team", "player", "match", "championship", "league"},
	"entertainment": {"movie", "music", "celebrity", "film", "show", "entertainment", "actor"},
	"politics":      {"politics", "government", "election", "president", "congress", "policy"},
	"world":         {"world", "international", "global", "country", "nation", "foreign"},
}

// CategoryQuery returns the search terms for category. Unknown categories are
// searched for verbatim.
func CategoryQuery(category string) string {
	if q, ok := categoryQueries[category]; ok {
		return q
	}
	return category
}

// FilterArticlesByCategory keeps the articles whose title or description
// mentions one of the category's keywords. "all" returns articles unchanged;
// a category without keywords matches nothing.
func FilterArticlesByCategory(articles []domain.NewsArticle, category string) []domain.NewsArticle {
	if category == CategoryAll {
		return articles
	}
	keywords := categoryKeywords[category]
	out := make([]domain.NewsArticle, 0, len(articles))
	for _, a := range articles {
		text := strings.ToLower(a.Title + " " + a.Description)
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}
