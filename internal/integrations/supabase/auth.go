// Package supabase is a client for the Supabase auth (GoTrue) REST API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"intellect/internal/domain"
	"intellect/internal/integrations/paramstore"
)

const (
	urlParameter       = "supabase-url"
	anonKeyParameter   = "supabase-anon-key"
	defaultHTTPTimeout = 15 * time.Second
)

// AuthEvent names a change of authentication state.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// Session is an authenticated session.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         domain.User
}

// SignUpResult reports whether the new account must confirm its email
// before it can sign in.
type SignUpResult struct {
	User                 domain.User
	ConfirmationRequired bool
}

// AuthError is an error response from the auth API.
type AuthError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: %s (%s, status %d)", e.Message, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("supabase: %s (status %d)", e.Message, e.StatusCode)
}

func (e *AuthError) HTTPStatusCode() int {
	return e.StatusCode
}

// ErrNoSession is returned by operations that need a signed-in user.
var ErrNoSession = errors.New("supabase: no active session")

type userPayload struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	EmailConfirmedAt string `json:"email_confirmed_at"`
}

type sessionPayload struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int          `json:"expires_in"`
	User         *userPayload `json:"user"`
}

// signUpPayload covers both shapes the signup endpoint returns: a session
// when confirmation is disabled, otherwise the bare user.
type signUpPayload struct {
	sessionPayload
	userPayload
}

type errorPayload struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

type Client struct {
	baseURL    *paramstore.Token
	anonKey    *paramstore.Token
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	session *Session
	nextID  int
	subs    map[int]func(AuthEvent, *domain.User)
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces time.Now for session expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a Client reading the project URL and anon key from
// <paramPrefix>/supabase-url and <paramPrefix>/supabase-anon-key.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("supabase: paramstore getter must not be nil")
	}
	if strings.TrimSpace(paramPrefix) == "" {
		return nil, errors.New("supabase: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:    paramstore.NewToken(ps, paramstore.Join(paramPrefix, urlParameter)),
		anonKey:    paramstore.NewToken(ps, paramstore.Join(paramPrefix, anonKeyParameter)),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     slog.Default(),
		now:        time.Now,
		subs:       make(map[int]func(AuthEvent, *domain.User)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SignIn authenticates with email and password.
func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var payload sessionPayload
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "",
		map[string]string{"email": strings.TrimSpace(email), "password": password}, &payload)
	if err != nil {
		return Session{}, err
	}
	s, err := c.toSession(payload)
	if err != nil {
		return Session{}, err
	}
	c.setSession(&s, EventSignedIn)
	return s, nil
}

// SignUp registers a new account. When the project requires email
// confirmation no session is started.
func (c *Client) SignUp(ctx context.Context, email, password string) (SignUpResult, error) {
	var payload signUpPayload
	err := c.do(ctx, http.MethodPost, "/auth/v1/signup", "",
		map[string]string{"email": strings.TrimSpace(email), "password": password}, &payload)
	if err != nil {
		return SignUpResult{}, err
	}
	if payload.AccessToken != "" {
		s, err := c.toSession(payload.sessionPayload)
		if err != nil {
			return SignUpResult{}, err
		}
		c.setSession(&s, EventSignedIn)
		return SignUpResult{User: s.User}, nil
	}
	u := payload.userPayload
	return SignUpResult{
		User:                 domain.User{ID: u.ID, Email: u.Email},
		ConfirmationRequired: u.EmailConfirmedAt == "",
	}, nil
}

// SignOut ends the current session. The local session is cleared even if
// the remote call fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/auth/v1/logout", s.AccessToken, nil, nil)
	c.setSession(nil, EventSignedOut)
	if err != nil {
		return fmt.Errorf("supabase: sign out: %w", err)
	}
	return nil
}

// ResendConfirmation sends the signup confirmation email again.
func (c *Client) ResendConfirmation(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/v1/resend", "",
		map[string]string{"type": "signup", "email": strings.TrimSpace(email)}, nil)
}

// Refresh exchanges the refresh token for a new session.
func (c *Client) Refresh(ctx context.Context) (Session, error) {
	c.mu.Lock()
	cur := c.session
	c.mu.Unlock()
	if cur == nil {
		return Session{}, ErrNoSession
	}
	var payload sessionPayload
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "",
		map[string]string{"refresh_token": cur.RefreshToken}, &payload)
	if err != nil {
		return Session{}, err
	}
	s, err := c.toSession(payload)
	if err != nil {
		return Session{}, err
	}
	c.setSession(&s, EventTokenRefreshed)
	return s, nil
}

// Session returns the current session, refreshing it first when it has
// expired. A session that cannot be refreshed is discarded.
func (c *Client) Session(ctx context.Context) (Session, bool) {
	c.mu.Lock()
	cur := c.session
	c.mu.Unlock()
	if cur == nil {
		return Session{}, false
	}
	if cur.ExpiresAt.IsZero() || c.now().Before(cur.ExpiresAt) {
		return *cur, true
	}
	s, err := c.Refresh(ctx)
	if err != nil {
		c.logger.Warn("session refresh failed", "err", err)
		c.setSession(nil, EventSignedOut)
		return Session{}, false
	}
	return s, true
}

// User validates accessToken and returns its owner.
func (c *Client) User(ctx context.Context, accessToken string) (domain.User, error) {
	if strings.TrimSpace(accessToken) == "" {
		return domain.User{}, &AuthError{StatusCode: http.StatusUnauthorized, Message: "missing access token"}
	}
	var u userPayload
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &u); err != nil {
		return domain.User{}, err
	}
	if u.ID == "" {
		return domain.User{}, errors.New("supabase: user response has no id")
	}
	return domain.User{ID: u.ID, Email: u.Email}, nil
}

// Subscribe registers fn for auth state changes. fn receives nil after sign
// out.
func (c *Client) Subscribe(fn func(AuthEvent, *domain.User)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Client) setSession(s *Session, ev AuthEvent) {
	c.mu.Lock()
	c.session = s
	subs := make([]func(AuthEvent, *domain.User), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	var u *domain.User
	if s != nil {
		user := s.User
		u = &user
	}
	for _, fn := range subs {
		fn(ev, u)
	}
}

func (c *Client) toSession(p sessionPayload) (Session, error) {
	if p.AccessToken == "" || p.User == nil {
		return Session{}, errors.New("supabase: response has no session")
	}
	s := Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		User:         domain.User{ID: p.User.ID, Email: p.User.Email},
	}
	if p.ExpiresIn > 0 {
		s.ExpiresAt = c.now().Add(time.Duration(p.ExpiresIn) * time.Second)
	}
	return s, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	base, err := c.baseURL.Value(ctx)
	if err != nil {
		return fmt.Errorf("supabase: resolve project url: %w", err)
	}
	key, err := c.anonKey.Value(ctx)
	if err != nil {
		return fmt.Errorf("supabase: resolve anon key: %w", err)
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("supabase: marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(base, "/")+path, body)
	if err != nil {
		return fmt.Errorf("supabase: create request: %w", err)
	}
	req.Header.Set("apikey", key)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("supabase: read response body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return decodeError(res.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("supabase: decode response: %w", err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	e := &AuthError{StatusCode: status}
	var p errorPayload
	if json.Unmarshal(raw, &p) == nil {
		e.Code = p.ErrorCode
		if e.Code == "" && p.Error != "" && p.ErrorDescription != "" {
			e.Code = p.Error
		}
		for _, m := range []string{p.Msg, p.Message, p.ErrorDescription, p.Error} {
			if m != "" {
				e.Message = m
				break
			}
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
