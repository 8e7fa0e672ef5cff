package domain

import "time"

// NewsArticle is a normalized article returned by the news lookup client.
type NewsArticle struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"publishedAt"`
	SourceName  string    `json:"source"`
	ImageURL    string    `json:"image,omitempty"`
	Category    string    `json:"category,omitempty"`
}
