package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"intellect/internal/domain"
	"intellect/internal/integrations/tavus"
	"intellect/internal/metrics"
	"intellect/internal/presenter"
	"intellect/internal/repository"
	"intellect/internal/speech"
)

// ErrPersonaNotConfigured means a video provider is wired without a persona.
var ErrPersonaNotConfigured = errors.New("usecase: video persona is not configured")

const (
	headlineLimit = 12
	welcomeID     = "welcome"
	localSession  = "local"
)

type QueryComposer interface {
	Compose(ctx context.Context, query string) Answer
}

type HeadlineSource interface {
	GetNewsByCategory(ctx context.Context, category string, limit int) []domain.NewsArticle
}

type ConversationSaver interface {
	SaveConversation(ctx context.Context, rec domain.ConversationRecord) (domain.ConversationRecord, error)
}

type VoiceInput interface {
	Supported() bool
	Listen(ctx context.Context) (string, error)
	Stop()
}

type VoiceOutput interface {
	Available() bool
	Speak(ctx context.Context, text string, opts speech.Options)
	Stop()
}

type VideoProvider interface {
	CreateConversation(ctx context.Context, personaID string) (tavus.Conversation, error)
	EndConversation(ctx context.Context, id string) error
}

type Authenticator interface {
	SignOut(ctx context.Context) error
}

type SessionPersister interface {
	Load() (repository.SessionState, error)
	Save(st repository.SessionState) error
}

// Snapshot is a copy of the orchestrator's observable state.
type Snapshot struct {
	User             *domain.User
	Messages         []domain.ConversationMessage
	Streaming        string
	Processing       bool
	Listening        bool
	Speaking         bool
	MicError         string
	Articles         []domain.NewsArticle
	SelectedCategory string
	LoadingNews      bool
	Video            *domain.VideoSession
	VideoLoading     bool
	VideoError       string
}

func (s Snapshot) clone() Snapshot {
	s.Messages = slices.Clone(s.Messages)
	s.Articles = slices.Clone(s.Articles)
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	if s.Video != nil {
		v := *s.Video
		s.Video = &v
	}
	return s
}

// Orchestrator owns the conversation state and sequences a question through
// composition, presentation, persistence and speech. All state changes go
// through its methods and are published to subscribers.
type Orchestrator struct {
	composer  QueryComposer
	news      HeadlineSource
	store     ConversationSaver
	input     VoiceInput
	output    VoiceOutput
	video     VideoProvider
	personaID string
	auth      Authenticator
	history   SessionPersister
	presenter *presenter.Presenter
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	// queryMu serializes ProcessQuery so persisted exchanges keep
	// submission order.
	queryMu sync.Mutex

	mu      sync.Mutex
	state   Snapshot
	subs    map[int]func(Snapshot)
	nextSub int
	current *presenter.Handle

	bg       context.Context
	stopBg   context.CancelFunc
	speaking sync.WaitGroup
	// speakGen identifies the latest utterance; guarded by mu. A preempted
	// utterance must not clear Speaking for its successor.
	speakGen uint64
}

type OrchestratorOption func(*Orchestrator)

func WithConversationStore(s ConversationSaver) OrchestratorOption {
	return func(o *Orchestrator) { o.store = s }
}

func WithVoiceInput(in VoiceInput) OrchestratorOption {
	return func(o *Orchestrator) { o.input = in }
}

func WithVoiceOutput(out VoiceOutput) OrchestratorOption {
	return func(o *Orchestrator) { o.output = out }
}

// WithVideo enables avatar sessions for personaID. Without it video mode is
// local and answers are spoken by VoiceOutput.
func WithVideo(p VideoProvider, personaID string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.video = p
		o.personaID = strings.TrimSpace(personaID)
	}
}

func WithAuthenticator(a Authenticator) OrchestratorOption {
	return func(o *Orchestrator) { o.auth = a }
}

func WithSessionPersister(p SessionPersister) OrchestratorOption {
	return func(o *Orchestrator) { o.history = p }
}

func WithPresenter(p *presenter.Presenter) OrchestratorOption {
	return func(o *Orchestrator) {
		if p != nil {
			o.presenter = p
		}
	}
}

func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func NewOrchestrator(composer QueryComposer, news HeadlineSource, opts ...OrchestratorOption) (*Orchestrator, error) {
	if composer == nil {
		return nil, errors.New("usecase: composer must not be nil")
	}
	if news == nil {
		return nil, errors.New("usecase: news source must not be nil")
	}
	o := &Orchestrator{
		composer:  composer,
		news:      news,
		presenter: presenter.New(),
		logger:    slog.Default(),
		now:       time.Now,
		newID:     newUUID,
		subs:      make(map[int]func(Snapshot)),
		state:     Snapshot{SelectedCategory: "all"},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.bg, o.stopBg = context.WithCancel(context.Background())
	return o, nil
}

// Start restores the saved session, greets an empty conversation and loads
// headlines for the selected category.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.history != nil {
		st, err := o.history.Load()
		if err != nil {
			o.logger.WarnContext(ctx, "session restore failed", "err", err)
		}
		o.update(func(s *Snapshot) {
			s.Messages = st.Messages
			if st.SelectedCategory != "" {
				s.SelectedCategory = st.SelectedCategory
			}
		})
	}
	o.update(func(s *Snapshot) {
		if len(s.Messages) == 0 {
			s.Messages = append(s.Messages, domain.ConversationMessage{
				ID:        welcomeID,
				Role:      domain.RoleAssistant,
				Text:      WelcomeMessage,
				CreatedAt: o.now(),
			})
		}
	})
	o.LoadNews(ctx, o.Snapshot().SelectedCategory)
}

// Close cancels any answer being presented and any speech in progress.
func (o *Orchestrator) Close() {
	o.CancelResponse()
	o.stopBg()
	if o.output != nil {
		o.output.Stop()
	}
	o.speaking.Wait()
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// Subscribe registers fn to receive every state change. fn runs on the
// goroutine that made the change and must not call back into mutating
// methods synchronously.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) update(fn func(*Snapshot)) {
	o.mu.Lock()
	fn(&o.state)
	snap := o.state.clone()
	subs := make([]func(Snapshot), 0, len(o.subs))
	for _, s := range o.subs {
		subs = append(subs, s)
	}
	o.mu.Unlock()
	for _, s := range subs {
		s(snap)
	}
}

// SetUser records the signed-in user; nil signs the session out.
func (o *Orchestrator) SetUser(u *domain.User) {
	o.update(func(s *Snapshot) {
		if u == nil {
			s.User = nil
			return
		}
		cp := *u
		s.User = &cp
	})
}

// ProcessQuery answers query and appends the exchange to the conversation.
// Blank input is ignored. Calls are serialized.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query string) {
	if strings.TrimSpace(query) == "" {
		return
	}
	o.queryMu.Lock()
	defer o.queryMu.Unlock()

	o.update(func(s *Snapshot) {
		s.Processing = true
		s.MicError = ""
		s.Messages = append(s.Messages, o.message(domain.RoleUser, query, nil))
	})

	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "query processing failed", "err", fmt.Errorf("panic: %v", r))
			metrics.Queries.WithLabelValues("failed").Inc()
			o.update(func(s *Snapshot) {
				s.Streaming = ""
				s.Messages = append(s.Messages, o.message(domain.RoleAssistant, ProcessingApology, nil))
				s.Processing = false
			})
			o.saveSession(ctx)
		}
	}()

	start := o.now()
	answer := o.composer.Compose(ctx, query)
	metrics.QueryDuration.Observe(o.now().Sub(start).Seconds())

	if !o.present(ctx, answer.Text) {
		metrics.Queries.WithLabelValues("cancelled").Inc()
		o.update(func(s *Snapshot) {
			s.Streaming = ""
			s.Processing = false
		})
		return
	}

	var video *domain.VideoSession
	o.update(func(s *Snapshot) {
		s.Messages = append(s.Messages, o.message(domain.RoleAssistant, answer.Text, answer.Sources))
		s.Processing = false
		video = s.Video
		if video != nil {
			v := *video
			video = &v
		}
	})
	metrics.Queries.WithLabelValues("answered").Inc()

	o.persist(ctx, query, answer)
	o.saveSession(ctx)

	if video != nil && !video.Delegated() && o.output != nil && o.output.Available() {
		o.speak(answer.Text)
	}
}

// present reveals text through the presenter and reports whether it ran to
// completion.
func (o *Orchestrator) present(ctx context.Context, text string) bool {
	completed := make(chan struct{})
	o.mu.Lock()
	h := o.presenter.Present(text,
		func(partial string) { o.update(func(s *Snapshot) { s.Streaming = partial }) },
		func() { close(completed) },
	)
	o.current = h
	o.mu.Unlock()

	select {
	case <-h.Finished():
	case <-ctx.Done():
		h.Cancel()
	}

	o.mu.Lock()
	if o.current == h {
		o.current = nil
	}
	o.mu.Unlock()

	select {
	case <-completed:
		return true
	default:
		return false
	}
}

// CancelResponse stops the answer being presented. The assistant message
// is then never added.
func (o *Orchestrator) CancelResponse() {
	o.mu.Lock()
	h := o.current
	o.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

func (o *Orchestrator) persist(ctx context.Context, query string, answer Answer) {
	if o.store == nil {
		return
	}
	user := o.Snapshot().User
	if user == nil {
		return
	}
	_, err := o.store.SaveConversation(ctx, domain.ConversationRecord{
		UserID:  user.ID,
		Query:   query,
		Answer:  answer.Text,
		Sources: answer.Sources,
	})
	if err != nil {
		metrics.PersistFailures.Inc()
		o.logger.WarnContext(ctx, "conversation not saved", "user_id", user.ID, "err", err)
	}
}

func (o *Orchestrator) speak(text string) {
	var gen uint64
	o.update(func(s *Snapshot) {
		o.speakGen++
		gen = o.speakGen
		s.Speaking = true
	})
	o.speaking.Add(1)
	go func() {
		defer o.speaking.Done()
		o.output.Speak(o.bg, text, speech.Options{})
		o.update(func(s *Snapshot) {
			if o.speakGen == gen {
				s.Speaking = false
			}
		})
	}()
}

// HandleVoiceInput listens for one spoken question and processes it. Voice
// failures are reported through MicError.
func (o *Orchestrator) HandleVoiceInput(ctx context.Context) {
	if text, ok := o.ListenForQuery(ctx); ok {
		o.ProcessQuery(ctx, text)
	}
}

// ListenForQuery captures one spoken question and returns its transcript
// without answering it. ok is false when there is nothing to process.
func (o *Orchestrator) ListenForQuery(ctx context.Context) (text string, ok bool) {
	if o.input == nil || !o.input.Supported() {
		o.update(func(s *Snapshot) { s.MicError = speech.Message(&speech.Error{Kind: speech.KindNotSupported}) })
		return "", false
	}

	// A capture already in progress owns the listening state.
	var busy bool
	o.update(func(s *Snapshot) {
		if s.Listening {
			busy = true
			return
		}
		s.Listening = true
		s.MicError = ""
	})
	if busy {
		return "", false
	}
	text, err := o.input.Listen(ctx)
	o.update(func(s *Snapshot) { s.Listening = false })

	if speech.KindOf(err) == speech.KindAlreadyListening {
		// A stopped capture is still winding down; it reports its own result.
		o.logger.InfoContext(ctx, "voice input ignored, capture still finishing")
		return "", false
	}
	if err != nil {
		o.logger.WarnContext(ctx, "voice input failed", "kind", speech.KindOf(err), "err", err)
		o.update(func(s *Snapshot) { s.MicError = speech.Message(err) })
		return "", false
	}
	text = strings.TrimSpace(text)
	return text, text != ""
}

func (o *Orchestrator) StopListening() {
	if o.input != nil {
		o.input.Stop()
	}
	o.update(func(s *Snapshot) { s.Listening = false })
}

func (o *Orchestrator) StopSpeaking() {
	if o.output != nil {
		o.output.Stop()
	}
	o.update(func(s *Snapshot) { s.Speaking = false })
}

func (o *Orchestrator) ClearMessages(ctx context.Context) {
	o.update(func(s *Snapshot) { s.Messages = nil })
	o.saveSession(ctx)
}

func (o *Orchestrator) DismissError() {
	o.update(func(s *Snapshot) {
		s.MicError = ""
		s.VideoError = ""
	})
}

// LoadNews selects category and replaces the headline list with its
// articles.
func (o *Orchestrator) LoadNews(ctx context.Context, category string) {
	category = strings.TrimSpace(category)
	if category == "" {
		category = "all"
	}
	o.update(func(s *Snapshot) {
		s.SelectedCategory = category
		s.LoadingNews = true
	})
	articles := o.news.GetNewsByCategory(ctx, category, headlineLimit)
	o.update(func(s *Snapshot) {
		s.Articles = articles
		s.LoadingNews = false
	})
	o.saveSession(ctx)
}

// FilterArticles returns the loaded headlines whose title or description
// contains text.
func (o *Orchestrator) FilterArticles(text string) []domain.NewsArticle {
	return MatchArticles(o.Snapshot().Articles, text)
}

// SelectArticle asks about a headline.
func (o *Orchestrator) SelectArticle(ctx context.Context, a domain.NewsArticle) {
	o.ProcessQuery(ctx, `Tell me more about this news: "`+a.Title+`"`)
}

// ToggleVideo starts a video session when none is live and ends it
// otherwise.
func (o *Orchestrator) ToggleVideo(ctx context.Context) {
	if o.Snapshot().Video != nil {
		o.endVideo(ctx)
		o.update(func(s *Snapshot) {
			s.Video = nil
			s.VideoError = ""
		})
		return
	}

	if o.video == nil {
		o.update(func(s *Snapshot) {
			s.Video = &domain.VideoSession{Status: localSession}
			s.VideoError = ""
		})
		return
	}

	o.update(func(s *Snapshot) {
		s.VideoLoading = true
		s.VideoError = ""
	})
	session, err := o.startVideo(ctx)
	o.update(func(s *Snapshot) {
		s.VideoLoading = false
		if err != nil {
			s.VideoError = videoErrorMessage(err)
			return
		}
		s.Video = &session
	})
	if err != nil {
		o.logger.WarnContext(ctx, "video session not started", "err", err)
	}
}

func (o *Orchestrator) startVideo(ctx context.Context) (domain.VideoSession, error) {
	if o.personaID == "" {
		return domain.VideoSession{}, ErrPersonaNotConfigured
	}
	conv, err := o.video.CreateConversation(ctx, o.personaID)
	if err != nil {
		return domain.VideoSession{}, err
	}
	return domain.VideoSession{ConversationID: conv.ID, SessionURL: conv.URL, Status: conv.Status}, nil
}

func videoErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrPersonaNotConfigured):
		return "Video persona is not configured. Set TAVUS_PERSONA_ID in your .env file and restart."
	case errors.Is(err, tavus.ErrInvalidKey):
		return "Invalid video API key. Please check TAVUS_TOKEN in your .env file."
	case errors.Is(err, tavus.ErrInvalidPersona):
		return "Video persona not found. Please check TAVUS_PERSONA_ID in your .env file."
	case errors.Is(err, tavus.ErrAccessDenied):
		return "Access to the video service was denied. Please check your account permissions."
	}
	return "Failed to start video conversation: " + err.Error()
}

func (o *Orchestrator) endVideo(ctx context.Context) {
	v := o.Snapshot().Video
	if v == nil || o.video == nil || v.ConversationID == "" {
		return
	}
	if err := o.video.EndConversation(ctx, v.ConversationID); err != nil {
		o.logger.WarnContext(ctx, "video session not ended", "conversation_id", v.ConversationID, "err", err)
	}
}

// SignOut ends any live video session and signs the user out.
func (o *Orchestrator) SignOut(ctx context.Context) error {
	o.endVideo(ctx)
	o.update(func(s *Snapshot) {
		s.Video = nil
		s.User = nil
	})
	if o.auth == nil {
		return nil
	}
	return o.auth.SignOut(ctx)
}

func (o *Orchestrator) message(role domain.Role, text string, sources []string) domain.ConversationMessage {
	return domain.ConversationMessage{
		ID:        string(role) + "-" + o.newID(),
		Role:      role,
		Text:      text,
		CreatedAt: o.now(),
		Sources:   sources,
	}
}

func (o *Orchestrator) saveSession(ctx context.Context) {
	if o.history == nil {
		return
	}
	snap := o.Snapshot()
	err := o.history.Save(repository.SessionState{Messages: snap.Messages, SelectedCategory: snap.SelectedCategory})
	if err != nil {
		o.logger.WarnContext(ctx, "session not saved", "err", err)
	}
}

// MatchArticles keeps the articles whose title or description contains text,
// ignoring case. Empty text keeps everything.
func MatchArticles(articles []domain.NewsArticle, text string) []domain.NewsArticle {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return articles
	}
	out := make([]domain.NewsArticle, 0, len(articles))
	for _, a := range articles {
		if strings.Contains(strings.ToLower(a.Title), needle) || strings.Contains(strings.ToLower(a.Description), needle) {
			out = append(out, a)
		}
	}
	return out
}
