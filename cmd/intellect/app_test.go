package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intellect/internal/domain"
	"intellect/internal/integrations/supabase"
	"intellect/internal/presenter"
	"intellect/internal/usecase"
)

// ----------------------------------------------------------------------------
// Fakes
// ----------------------------------------------------------------------------

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeAuth struct {
	signInErrs []error
	signIns    []string
	signUps    []string
	resent     []string
	signedOut  bool
}

func (f *fakeAuth) SignIn(_ context.Context, email, _ string) (supabase.Session, error) {
	f.signIns = append(f.signIns, email)
	if len(f.signInErrs) > 0 {
		err := f.signInErrs[0]
		f.signInErrs = f.signInErrs[1:]
		if err != nil {
			return supabase.Session{}, err
		}
	}
	return supabase.Session{AccessToken: "t", User: domain.User{ID: "u1", Email: email}}, nil
}

func (f *fakeAuth) SignUp(_ context.Context, email, _ string) (supabase.SignUpResult, error) {
	f.signUps = append(f.signUps, email)
	return supabase.SignUpResult{ConfirmationRequired: true}, nil
}

func (f *fakeAuth) ResendConfirmation(_ context.Context, email string) error {
	f.resent = append(f.resent, email)
	return nil
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.signedOut = true
	return nil
}

func scriptedPrompter(out *syncBuffer, lines ...string) prompter {
	next := func() (string, bool) {
		if len(lines) == 0 {
			return "", false
		}
		l := lines[0]
		lines = lines[1:]
		return l, true
	}
	return prompter{
		out:      out,
		readLine: next,
		readSecret: func() (string, error) {
			l, ok := next()
			if !ok {
				return "", errors.New("no input")
			}
			return l, nil
		},
	}
}

type stubComposer struct{}

func (stubComposer) Compose(_ context.Context, query string) usecase.Answer {
	return usecase.Answer{Text: "Answer to " + query, Sources: []string{"https://example.com/a"}}
}

type stubHeadlines struct{}

func (stubHeadlines) GetNewsByCategory(_ context.Context, category string, _ int) []domain.NewsArticle {
	return []domain.NewsArticle{
		{Title: "Chips rally", Description: "Tech market", SourceName: "Wire", Category: category},
		{Title: "Rain expected", Description: "Weather"},
	}
}

type stubTopics []string

func (s stubTopics) TrendingTopics() []string { return s }

type stubLister struct {
	recs []domain.ConversationRecord
	user string
}

func (s *stubLister) ListConversations(_ context.Context, userID string, _ int) ([]domain.ConversationRecord, error) {
	s.user = userID
	return s.recs, nil
}

// scriptedVoice hears the same question on every capture.
type scriptedVoice struct{ text string }

func (scriptedVoice) Supported() bool                          { return true }
func (v scriptedVoice) Listen(context.Context) (string, error) { return v.text, nil }
func (scriptedVoice) Stop()                                    {}

func newTestApp(t *testing.T, auth *fakeAuth, history conversationLister, input string, opts ...usecase.OrchestratorOption) (*app, *usecase.Orchestrator, *syncBuffer) {
	t.Helper()
	opts = append([]usecase.OrchestratorOption{
		usecase.WithAuthenticator(auth),
		usecase.WithPresenter(presenter.New(presenter.WithInterval(time.Millisecond))),
	}, opts...)
	orch, err := usecase.NewOrchestrator(stubComposer{}, stubHeadlines{}, opts...)
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	out := &syncBuffer{}
	return newApp(orch, auth, stubTopics{"AI", "Climate"}, history, strings.NewReader(input), out), orch, out
}

// ----------------------------------------------------------------------------
// Login
// ----------------------------------------------------------------------------

func TestLogin_SignsIn(t *testing.T) {
	auth := &fakeAuth{}
	out := &syncBuffer{}

	ok, err := login(context.Background(), auth, scriptedPrompter(out, "ada@example.com", "secret"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"ada@example.com"}, auth.signIns)
	require.Contains(t, out.String(), "Signed in as ada@example.com.")
}

func TestLogin_EmptyEmailSkips(t *testing.T) {
	auth := &fakeAuth{}
	ok, err := login(context.Background(), auth, scriptedPrompter(&syncBuffer{}, ""))
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, auth.signIns)
}

func TestLogin_EOFAborts(t *testing.T) {
	_, err := login(context.Background(), &fakeAuth{}, scriptedPrompter(&syncBuffer{}))
	require.ErrorIs(t, err, errLoginAborted)
}

func TestLogin_UnconfirmedEmailOffersResend(t *testing.T) {
	auth := &fakeAuth{signInErrs: []error{
		&supabase.AuthError{StatusCode: 400, Code: "email_not_confirmed", Message: "Email not confirmed"},
	}}
	out := &syncBuffer{}

	ok, err := login(context.Background(), auth,
		scriptedPrompter(out, "ada@example.com", "secret", "y", "ada@example.com", "secret"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"ada@example.com"}, auth.resent)
	require.Contains(t, out.String(), "has not been confirmed")
	require.Contains(t, out.String(), "Confirmation email sent to ada@example.com.")
}

func TestLogin_BadCredentialsOffersRegistration(t *testing.T) {
	bad := &supabase.AuthError{StatusCode: 400, Code: "invalid_credentials", Message: "Invalid login credentials"}
	auth := &fakeAuth{signInErrs: []error{bad, bad, bad}}
	out := &syncBuffer{}

	ok, err := login(context.Background(), auth, scriptedPrompter(out,
		"new@example.com", "pw", "y",
		"new@example.com", "pw", "n",
		"new@example.com", "pw", "n",
	))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []string{"new@example.com"}, auth.signUps)
	require.Contains(t, out.String(), "Invalid login credentials")
	require.Contains(t, out.String(), "Check new@example.com for a confirmation link")
	require.Contains(t, out.String(), "Continuing without an account.")
}

// ----------------------------------------------------------------------------
// Rendering
// ----------------------------------------------------------------------------

func TestRenderer_StreamedAnswerPrintsOnce(t *testing.T) {
	out := &syncBuffer{}
	r := newRenderer(out)

	r.typedQuery("what happened?")
	user := domain.ConversationMessage{ID: "user-1", Role: domain.RoleUser, Text: "what happened?"}
	r.render(usecase.Snapshot{Messages: []domain.ConversationMessage{user}, Processing: true})
	r.render(usecase.Snapshot{Messages: []domain.ConversationMessage{user}, Streaming: "Markets"})
	r.render(usecase.Snapshot{Messages: []domain.ConversationMessage{user}, Streaming: "Markets rose"})
	r.render(usecase.Snapshot{Messages: []domain.ConversationMessage{user}})
	answer := domain.ConversationMessage{
		ID: "assistant-1", Role: domain.RoleAssistant, Text: "Markets\n rose", Sources: []string{"https://example.com/m"},
	}
	r.render(usecase.Snapshot{Messages: []domain.ConversationMessage{user, answer}})

	require.Equal(t, "intellect> Markets rose\nSources:\n  [1] https://example.com/m\n", out.String())
}

func TestRenderer_PrintsUnstreamedMessagesAndErrors(t *testing.T) {
	out := &syncBuffer{}
	r := newRenderer(out)

	welcome := domain.ConversationMessage{ID: "welcome", Role: domain.RoleAssistant, Text: "Hello"}
	spoken := domain.ConversationMessage{ID: "user-2", Role: domain.RoleUser, Text: "spoken question"}
	r.render(usecase.Snapshot{Messages: []domain.ConversationMessage{welcome}, Listening: true})
	r.render(usecase.Snapshot{Messages: []domain.ConversationMessage{welcome, spoken}, MicError: "Microphone access denied."})
	r.render(usecase.Snapshot{Messages: []domain.ConversationMessage{welcome, spoken}, MicError: "Microphone access denied."})

	got := out.String()
	require.Contains(t, got, "intellect> Hello\n")
	require.Contains(t, got, "Listening... press Enter to stop.\n")
	require.Contains(t, got, "you> spoken question\n")
	require.Equal(t, 1, strings.Count(got, "Microphone access denied."))
}

func TestRenderer_VideoTransitions(t *testing.T) {
	out := &syncBuffer{}
	r := newRenderer(out)

	r.render(usecase.Snapshot{Video: &domain.VideoSession{ConversationID: "c1", SessionURL: "https://tavus.example/c1"}})
	r.render(usecase.Snapshot{})
	r.render(usecase.Snapshot{Video: &domain.VideoSession{Status: "local"}})

	got := out.String()
	require.Contains(t, got, "Video session started: https://tavus.example/c1\n")
	require.Contains(t, got, "Video session ended.\n")
	require.Contains(t, got, "Video mode on. Answers will be spoken aloud.\n")
}

// ----------------------------------------------------------------------------
// Commands
// ----------------------------------------------------------------------------

func TestHandle_NewsAndRead(t *testing.T) {
	a, orch, out := newTestApp(t, &fakeAuth{}, nil, "")
	ctx := context.Background()

	require.False(t, a.handle(ctx, "/news technology", nil))
	require.Contains(t, out.String(), " 1. Chips rally (Wire)")
	require.Contains(t, out.String(), " 2. Rain expected (Unknown)")
	require.Equal(t, "technology", orch.Snapshot().SelectedCategory)

	require.False(t, a.handle(ctx, "/filter chips", nil))
	require.Len(t, a.listed, 1)

	require.False(t, a.handle(ctx, "/read 1", nil))
	a.wg.Wait()
	msgs := orch.Snapshot().Messages
	require.Len(t, msgs, 2)
	require.Equal(t, `Tell me more about this news: "Chips rally"`, msgs[0].Text)
	require.Equal(t, `Answer to Tell me more about this news: "Chips rally"`, msgs[1].Text)

	require.False(t, a.handle(ctx, "/read 9", nil))
	require.Contains(t, out.String(), "Usage: /read N")
}

func TestHandle_Question(t *testing.T) {
	a, orch, _ := newTestApp(t, &fakeAuth{}, nil, "")

	require.False(t, a.handle(context.Background(), "latest tech news", nil))
	a.wg.Wait()

	msgs := orch.Snapshot().Messages
	require.Len(t, msgs, 2)
	require.Equal(t, domain.RoleUser, msgs[0].Role)
	require.Equal(t, "Answer to latest tech news", msgs[1].Text)
	require.Equal(t, []string{"https://example.com/a"}, msgs[1].Sources)
}

func TestHandle_Misc(t *testing.T) {
	lister := &stubLister{recs: []domain.ConversationRecord{
		{Query: "what is new in AI?", CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)},
	}}
	auth := &fakeAuth{}
	a, orch, out := newTestApp(t, auth, lister, "")
	ctx := context.Background()

	require.False(t, a.handle(ctx, "/topics", nil))
	require.Contains(t, out.String(), "Trending: AI, Climate")

	require.False(t, a.handle(ctx, "/history", nil))
	require.Contains(t, out.String(), "Sign in to keep a conversation history.")

	orch.SetUser(&domain.User{ID: "u1", Email: "ada@example.com"})
	require.False(t, a.handle(ctx, "/history", nil))
	require.Equal(t, "u1", lister.user)
	require.Contains(t, out.String(), "what is new in AI?")

	require.False(t, a.handle(ctx, "/bogus", nil))
	require.Contains(t, out.String(), "Unknown command /bogus.")

	require.True(t, a.handle(ctx, "/signout", nil))
	require.True(t, auth.signedOut)
	require.Nil(t, orch.Snapshot().User)

	require.True(t, a.handle(ctx, "/quit", nil))
}

func TestHandle_VoiceUnsupported(t *testing.T) {
	a, orch, _ := newTestApp(t, &fakeAuth{}, nil, "")

	require.False(t, a.handle(context.Background(), "/voice", make(chan string)))
	require.NotEmpty(t, orch.Snapshot().MicError)

	require.False(t, a.handle(context.Background(), "/dismiss", nil))
	require.Empty(t, orch.Snapshot().MicError)
}

func TestHandle_VoiceReturnsBeforeAnswerFinishes(t *testing.T) {
	a, orch, _ := newTestApp(t, &fakeAuth{}, nil, "",
		usecase.WithVoiceInput(scriptedVoice{text: "what moved the markets"}),
		usecase.WithPresenter(presenter.New(presenter.WithInterval(time.Second))))

	require.False(t, a.handle(context.Background(), "/voice", make(chan string)))
	require.Eventually(t, func() bool { return orch.Snapshot().Streaming != "" }, 2*time.Second, time.Millisecond)
	require.True(t, orch.Snapshot().Processing)

	require.False(t, a.handle(context.Background(), "/stop", nil))
	a.wg.Wait()

	snap := orch.Snapshot()
	require.False(t, snap.Processing)
	require.Len(t, snap.Messages, 1)
	require.Equal(t, domain.RoleUser, snap.Messages[0].Role)
	require.Equal(t, "what moved the markets", snap.Messages[0].Text)
}

func TestRun_GuestSession(t *testing.T) {
	a, orch, out := newTestApp(t, &fakeAuth{}, nil, "\n/help\n/quit\n")

	require.NoError(t, a.run(context.Background()))
	require.Nil(t, orch.Snapshot().User)
	got := out.String()
	require.Contains(t, got, "intellect> "+usecase.WelcomeMessage)
	require.Contains(t, got, "Type a question, or /help for commands.")
	require.Contains(t, got, "/news [category]")
}
