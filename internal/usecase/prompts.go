package usecase

import (
	"fmt"
	"strings"

	"intellect/internal/domain"
)

const (
	// NoNewsDisclosure is always part of an answer composed without articles.
	NoNewsDisclosure = "I don't have access to the latest news articles at the moment."

	noNewsApology = "I apologize, but I couldn't find any recent news articles related to your query. " +
		NoNewsDisclosure + " I'm also unable to reach my AI services right now. " +
		"Please try again later or rephrase your question."

	// ProcessingApology replaces an answer when the pipeline itself fails.
	ProcessingApology = "I apologize, but I encountered an issue while processing your request. " +
		"This might be due to a temporary service outage. Please try again later or contact support " +
		"if the problem persists."

	// WelcomeMessage opens an empty conversation.
	WelcomeMessage = "Hello! I'm your AI News Anchor. I can help you stay updated with the latest news, " +
		"provide historical context, and answer any questions about current events. You can browse news " +
		"by category, ask me questions, or have a video conversation. What would you like to explore today?"

	fallbackArticles = 3
	maxRefinedLength = 200
)

func refinePrompt(query string) string {
	return "Rewrite the question below as a short keyword query for a news search engine. " +
		"Keep names, places and dates. Reply with the query only, without quotes or explanation.\n\n" +
		"Question: " + query
}

func groundedPrompt(query string, articles []domain.NewsArticle) string {
	blocks := make([]string, 0, len(articles))
	for _, a := range articles {
		blocks = append(blocks, fmt.Sprintf("Title: %s\nDescription: %s\nSource: %s", a.Title, a.Description, a.SourceName))
	}
	return fmt.Sprintf("Using the news articles below, give a comprehensive and informative answer to this question: %q\n\n"+
		"News Articles:\n%s\n\n"+
		"Structure the answer clearly and draw on the relevant details from these articles.",
		query, strings.Join(blocks, "\n\n"))
}

func generalPrompt(query string) string {
	return fmt.Sprintf("Give an informative answer to this question: %q. "+
		"If it concerns current events or news, say that you don't have access to the latest news articles "+
		"at the moment, then share what general knowledge you have about the topic.", query)
}

// articleDigest lists the first few articles verbatim. It stands in for a
// grounded answer when generation fails.
func articleDigest(articles []domain.NewsArticle) string {
	n := min(len(articles), fallbackArticles)
	items := make([]string, 0, n)
	for i, a := range articles[:n] {
		desc := a.Description
		if desc == "" {
			desc = "No description available."
		}
		items = append(items, fmt.Sprintf("%d. **%s**\n%s\nSource: %s", i+1, a.Title, desc, a.SourceName))
	}
	return fmt.Sprintf("I found %d recent articles related to your query. Here's what I found:\n\n%s",
		len(articles), strings.Join(items, "\n\n"))
}

// withDisclosure makes sure a general answer says it lacks current news.
func withDisclosure(answer string) string {
	if strings.Contains(answer, NoNewsDisclosure) {
		return answer
	}
	return NoNewsDisclosure + " " + answer
}

// cleanRefined reduces a model reply to a single search query line.
func cleanRefined(reply string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(reply), "\n")
	line = strings.Trim(strings.TrimSpace(line), "\"'`")
	line = strings.TrimSpace(strings.TrimPrefix(line, "Query:"))
	if len(line) > maxRefinedLength {
		return ""
	}
	return line
}
