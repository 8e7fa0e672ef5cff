package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"intellect/internal/domain"
	"intellect/internal/integrations/tavus"
	"intellect/internal/repository"
	"intellect/internal/speech"
)

var errBoom = errors.New("boom")

// ----------------------------------------------------------------------------
// LLM and news
// ----------------------------------------------------------------------------

type fakeLLM struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.reply == nil {
		return "", errBoom
	}
	return f.reply(prompt)
}

func (f *fakeLLM) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// scripted answers refinement with refined and everything else with answer.
func scripted(refined, answer string) *fakeLLM {
	return &fakeLLM{reply: func(prompt string) (string, error) {
		if strings.HasPrefix(prompt, "Rewrite the question") {
			return refined, nil
		}
		return answer, nil
	}}
}

type fakeNews struct {
	mu         sync.Mutex
	articles   []domain.NewsArticle
	searches   []string
	limits     []int
	categories []string
	topics     []string
}

func (f *fakeNews) SearchNews(_ context.Context, query string, limit int) []domain.NewsArticle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, query)
	f.limits = append(f.limits, limit)
	return append([]domain.NewsArticle(nil), f.articles...)
}

func (f *fakeNews) GetNewsByCategory(_ context.Context, category string, limit int) []domain.NewsArticle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories = append(f.categories, category)
	f.limits = append(f.limits, limit)
	out := append([]domain.NewsArticle(nil), f.articles...)
	if limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (f *fakeNews) TrendingTopics() []string { return f.topics }

func articles(n int) []domain.NewsArticle {
	out := make([]domain.NewsArticle, 0, n)
	for i := range n {
		out = append(out, domain.NewsArticle{
			Title:       "Chipmaker unveils AI accelerator " + string(rune('A'+i)),
			Description: "The new part doubles inference throughput " + string(rune('A'+i)),
			URL:         "https://news.example.com/" + string(rune('a'+i)),
			SourceName:  "Example Wire",
			PublishedAt: time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC),
		})
	}
	return out
}

type stubComposer struct {
	mu     sync.Mutex
	answer Answer
	panics bool
	delay  time.Duration
	calls  []string
}

func (s *stubComposer) Compose(_ context.Context, query string) Answer {
	s.mu.Lock()
	s.calls = append(s.calls, query)
	s.mu.Unlock()
	if s.panics {
		panic("composer exploded")
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return Answer{Text: s.answer.Text + " (" + query + ")", Sources: s.answer.Sources}
}

func (s *stubComposer) queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// ----------------------------------------------------------------------------
// Storage and auth
// ----------------------------------------------------------------------------

type fakeStore struct {
	mu      sync.Mutex
	saved   []domain.ConversationRecord
	err     error
	list    []domain.ConversationRecord
	listErr error
	stats   repository.UserStats
	statErr error
	limit   int
}

func (f *fakeStore) SaveConversation(_ context.Context, rec domain.ConversationRecord) (domain.ConversationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.ConversationRecord{}, f.err
	}
	f.saved = append(f.saved, rec)
	return rec, nil
}

func (f *fakeStore) ListConversations(_ context.Context, _ string, limit int) ([]domain.ConversationRecord, error) {
	f.limit = limit
	return f.list, f.listErr
}

func (f *fakeStore) Stats(context.Context, string) (repository.UserStats, error) {
	return f.stats, f.statErr
}

func (f *fakeStore) records() []domain.ConversationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ConversationRecord(nil), f.saved...)
}

type fakeVerifier struct {
	user  domain.User
	err   error
	token string
}

func (f *fakeVerifier) User(_ context.Context, token string) (domain.User, error) {
	f.token = token
	return f.user, f.err
}

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

type fakeAuth struct {
	signOuts int
	err      error
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.signOuts++
	return f.err
}

type fakeHistory struct {
	mu      sync.Mutex
	state   repository.SessionState
	loadErr error
	saves   int
	last    repository.SessionState
}

func (f *fakeHistory) Load() (repository.SessionState, error) { return f.state, f.loadErr }

func (f *fakeHistory) Save(st repository.SessionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.last = st
	return nil
}

func (f *fakeHistory) lastSaved() repository.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// ----------------------------------------------------------------------------
// Voice and video
// ----------------------------------------------------------------------------

type fakeInput struct {
	supported bool
	text      string
	err       error
	listens   int
	stops     int
}

func (f *fakeInput) Supported() bool { return f.supported }

func (f *fakeInput) Listen(context.Context) (string, error) {
	f.listens++
	return f.text, f.err
}

func (f *fakeInput) Stop() { f.stops++ }

type fakeOutput struct {
	mu     sync.Mutex
	spoken []string
	stops  int
}

func (f *fakeOutput) Available() bool { return true }

func (f *fakeOutput) Speak(_ context.Context, text string, _ speech.Options) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
}

func (f *fakeOutput) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeOutput) said() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

type fakeVideo struct {
	conv      tavus.Conversation
	createErr error
	endErr    error
	personas  []string
	ended     []string
}

func (f *fakeVideo) CreateConversation(_ context.Context, personaID string) (tavus.Conversation, error) {
	f.personas = append(f.personas, personaID)
	return f.conv, f.createErr
}

func (f *fakeVideo) EndConversation(_ context.Context, id string) error {
	f.ended = append(f.ended, id)
	return f.endErr
}

// blockingEngine holds every utterance until it is cancelled.
type blockingEngine struct {
	mu        sync.Mutex
	started   []string
	cancelled int
}

func (e *blockingEngine) Voices(context.Context) ([]speech.Voice, error) {
	return []speech.Voice{{ID: "v1", Name: "Rachel", Language: "en-US", Gender: "female"}}, nil
}

func (e *blockingEngine) Say(ctx context.Context, _ speech.Voice, text string, _ speech.Options) error {
	e.mu.Lock()
	e.started = append(e.started, text)
	e.mu.Unlock()
	<-ctx.Done()
	e.mu.Lock()
	e.cancelled++
	e.mu.Unlock()
	return ctx.Err()
}

func (e *blockingEngine) counts() (started, cancelled int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.started), e.cancelled
}

// holdingInput keeps the first capture open until Stop and rejects overlapping
// captures the way speech.Input does.
type holdingInput struct {
	mu      sync.Mutex
	active  bool
	listens int
	release chan struct{}
	once    sync.Once
	text    string
}

func newHoldingInput(text string) *holdingInput {
	return &holdingInput{release: make(chan struct{}), text: text}
}

func (h *holdingInput) Supported() bool { return true }

func (h *holdingInput) Listen(ctx context.Context) (string, error) {
	h.mu.Lock()
	if h.active {
		h.mu.Unlock()
		return "", &speech.Error{Kind: speech.KindAlreadyListening}
	}
	h.active = true
	h.listens++
	h.mu.Unlock()

	select {
	case <-h.release:
	case <-ctx.Done():
	}
	h.mu.Lock()
	h.active = false
	h.mu.Unlock()
	return h.text, nil
}

func (h *holdingInput) Stop() { h.once.Do(func() { close(h.release) }) }

func (h *holdingInput) listenCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listens
}
