package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"intellect/internal/domain"
	"intellect/internal/usecase"
)

// renderer prints orchestrator state changes as a transcript. It is safe for
// concurrent use; snapshots may arrive from several goroutines.
type renderer struct {
	mu  sync.Mutex
	out io.Writer

	seen         map[string]bool
	streamed     string
	lastStreamed string
	typed        string
	listening    bool
	micError     string
	videoError   string
	videoActive  bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, seen: map[string]bool{}}
}

// typedQuery marks text as entered at the prompt so it is not echoed back.
func (r *renderer) typedQuery(text string) {
	r.mu.Lock()
	r.typed = strings.TrimSpace(text)
	r.mu.Unlock()
}

func (r *renderer) render(s usecase.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.renderStream(s.Streaming)
	r.renderMessages(s.Messages)

	if s.Listening != r.listening {
		r.listening = s.Listening
		if s.Listening {
			fmt.Fprintln(r.out, "Listening... press Enter to stop.")
		}
	}
	if s.MicError != r.micError {
		r.micError = s.MicError
		if s.MicError != "" {
			fmt.Fprintf(r.out, "\n! %s\n", s.MicError)
		}
	}
	if s.VideoError != r.videoError {
		r.videoError = s.VideoError
		if s.VideoError != "" {
			fmt.Fprintf(r.out, "\n! %s\n", s.VideoError)
		}
	}
	r.renderVideo(s.Video)
}

func (r *renderer) renderStream(text string) {
	switch {
	case text == "" && r.streamed != "":
		fmt.Fprintln(r.out)
		r.lastStreamed = r.streamed
		r.streamed = ""
	case text == "":
	case strings.HasPrefix(text, r.streamed):
		if r.streamed == "" {
			fmt.Fprint(r.out, "intellect> ")
		}
		fmt.Fprint(r.out, text[len(r.streamed):])
		r.streamed = text
	default:
		fmt.Fprintf(r.out, "\nintellect> %s", text)
		r.streamed = text
	}
}

func (r *renderer) renderMessages(msgs []domain.ConversationMessage) {
	if len(msgs) == 0 {
		clear(r.seen)
		return
	}
	for _, m := range msgs {
		if r.seen[m.ID] {
			continue
		}
		r.seen[m.ID] = true

		switch m.Role {
		case domain.RoleUser:
			if m.Text != r.typed {
				fmt.Fprintf(r.out, "you> %s\n", m.Text)
			}
			r.typed = ""
		case domain.RoleAssistant:
			if words := strings.Join(strings.Fields(m.Text), " "); words != r.streamed && words != r.lastStreamed {
				fmt.Fprintf(r.out, "intellect> %s\n", m.Text)
			}
			printSources(r.out, m.Sources)
		}
	}
}

func (r *renderer) renderVideo(v *domain.VideoSession) {
	switch {
	case v == nil && r.videoActive:
		r.videoActive = false
		fmt.Fprintln(r.out, "Video session ended.")
	case v != nil && !r.videoActive:
		r.videoActive = true
		if v.Delegated() {
			fmt.Fprintf(r.out, "Video session started: %s\n", v.SessionURL)
		} else {
			fmt.Fprintln(r.out, "Video mode on. Answers will be spoken aloud.")
		}
	}
}

func printSources(w io.Writer, sources []string) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, "Sources:")
	for i, s := range sources {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, s)
	}
}

func printArticles(w io.Writer, articles []domain.NewsArticle) {
	if len(articles) == 0 {
		fmt.Fprintln(w, "No headlines.")
		return
	}
	for i, a := range articles {
		source := a.SourceName
		if source == "" {
			source = "Unknown"
		}
		fmt.Fprintf(w, "%2d. %s (%s)\n", i+1, a.Title, source)
	}
}
