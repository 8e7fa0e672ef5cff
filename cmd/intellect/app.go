package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"intellect/internal/domain"
	"intellect/internal/integrations/gnews"
	"intellect/internal/usecase"
)

const historyLimit = 10

type topicSource interface {
	TrendingTopics() []string
}

type conversationLister interface {
	ListConversations(ctx context.Context, userID string, limit int) ([]domain.ConversationRecord, error)
}

type app struct {
	orch    *usecase.Orchestrator
	auth    authClient
	topics  topicSource
	history conversationLister
	in      io.Reader
	out     io.Writer
	view    *renderer

	// listed holds the headlines last printed so /read can refer to them by
	// number.
	listed []domain.NewsArticle
	wg     sync.WaitGroup
}

func newApp(orch *usecase.Orchestrator, auth authClient, topics topicSource, history conversationLister, in io.Reader, out io.Writer) *app {
	return &app{
		orch:    orch,
		auth:    auth,
		topics:  topics,
		history: history,
		in:      in,
		out:     out,
		view:    newRenderer(out),
	}
}

func (a *app) run(ctx context.Context) error {
	scanner := bufio.NewScanner(a.in)
	readLine := func() (string, bool) {
		if !scanner.Scan() {
			return "", false
		}
		return scanner.Text(), true
	}

	p := prompter{out: a.out, readLine: readLine, readSecret: a.secretReader(readLine)}
	if _, err := login(ctx, a.auth, p); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer a.wg.Wait()
	defer cancel()

	unsubscribe := a.orch.Subscribe(a.view.render)
	defer unsubscribe()
	a.orch.Start(ctx)
	fmt.Fprintln(a.out, "Type a question, or /help for commands.")

	// Prompt input is read on its own goroutine so a voice capture can be
	// stopped with Enter.
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, ok := readLine()
			if !ok {
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := a.handle(ctx, strings.TrimSpace(line), lines); quit {
				return nil
			}
		}
	}
}

// secretReader reads a password without echo when stdin is a terminal.
func (a *app) secretReader(readLine func() (string, bool)) func() (string, error) {
	f, ok := a.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return func() (string, error) {
			line, ok := readLine()
			if !ok {
				return "", io.ErrUnexpectedEOF
			}
			return line, nil
		}
	}
	return func() (string, error) {
		b, err := term.ReadPassword(int(f.Fd()))
		return string(b), err
	}
}

// handle runs one prompt line and reports whether the session should end.
func (a *app) handle(ctx context.Context, line string, lines <-chan string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		a.ask(ctx, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(cmd) {
	case "/help":
		a.help()
	case "/news":
		a.orch.LoadNews(ctx, arg)
		a.listed = a.orch.Snapshot().Articles
		printArticles(a.out, a.listed)
	case "/headlines", "/filter":
		a.listed = a.orch.FilterArticles(arg)
		printArticles(a.out, a.listed)
	case "/read":
		a.read(ctx, arg)
	case "/topics":
		topics := a.topics.TrendingTopics()
		if len(topics) == 0 {
			fmt.Fprintln(a.out, "No trending topics yet.")
			break
		}
		fmt.Fprintln(a.out, "Trending: "+strings.Join(topics, ", "))
	case "/voice":
		a.voice(ctx, lines)
	case "/stop":
		a.orch.CancelResponse()
		a.orch.StopSpeaking()
	case "/video":
		a.orch.ToggleVideo(ctx)
	case "/history":
		a.printHistory(ctx)
	case "/clear":
		a.orch.ClearMessages(ctx)
		fmt.Fprintln(a.out, "Conversation cleared.")
	case "/dismiss":
		a.orch.DismissError()
	case "/signout":
		if err := a.orch.SignOut(ctx); err != nil {
			fmt.Fprintf(a.out, "Sign out failed: %v\n", err)
			return false
		}
		fmt.Fprintln(a.out, "Signed out.")
		return true
	case "/quit", "/exit":
		return true
	default:
		fmt.Fprintf(a.out, "Unknown command %s. Type /help for commands.\n", cmd)
	}
	return false
}

// ask processes the question in the background so /stop can cancel it.
func (a *app) ask(ctx context.Context, query string) {
	a.view.typedQuery(query)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.orch.ProcessQuery(ctx, query)
	}()
}

func (a *app) read(ctx context.Context, arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(a.listed) {
		fmt.Fprintln(a.out, "Usage: /read N, where N is a number from the last headline list.")
		return
	}
	article := a.listed[n-1]
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.orch.SelectArticle(ctx, article)
	}()
}

// voice listens for one question and answers it in the background, like a
// typed one. Enter at the prompt ends the capture early.
func (a *app) voice(ctx context.Context, lines <-chan string) {
	type heard struct {
		text string
		ok   bool
	}
	done := make(chan heard, 1)
	go func() {
		text, ok := a.orch.ListenForQuery(ctx)
		done <- heard{text, ok}
	}()

	var h heard
	select {
	case h = <-done:
	case <-lines:
		a.orch.StopListening()
		h = <-done
	case <-ctx.Done():
		a.orch.StopListening()
		h = <-done
	}
	if h.ok {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.orch.ProcessQuery(ctx, h.text)
		}()
	}
}

func (a *app) printHistory(ctx context.Context) {
	user := a.orch.Snapshot().User
	if user == nil {
		fmt.Fprintln(a.out, "Sign in to keep a conversation history.")
		return
	}
	if a.history == nil {
		fmt.Fprintln(a.out, "Conversation history is not configured.")
		return
	}
	recs, err := a.history.ListConversations(ctx, user.ID, historyLimit)
	if err != nil {
		fmt.Fprintf(a.out, "Could not load history: %v\n", err)
		return
	}
	if len(recs) == 0 {
		fmt.Fprintln(a.out, "No saved conversations.")
		return
	}
	for _, r := range recs {
		fmt.Fprintf(a.out, "%s  %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Query)
	}
}

func (a *app) help() {
	fmt.Fprintf(a.out, `Commands:
  /news [category]   load headlines (%s)
  /filter [text]     list loaded headlines matching text
  /read N            ask about headline N
  /topics            show trending topics
  /voice             ask a question by voice
  /stop              stop the current answer and speech
  /video             toggle video mode
  /history           show saved conversations
  /clear             clear the conversation
  /dismiss           dismiss the last error
  /signout           sign out and quit
  /quit              quit
`, strings.Join(gnews.Categories, ", "))
}
