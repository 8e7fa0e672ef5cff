package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"intellect/internal/domain"
	"intellect/internal/repository"
	"intellect/internal/usecase"
)

var testUser = domain.User{ID: "user-1", Email: "ana@example.com"}

type stubAsk struct {
	out       usecase.AskOutput
	err       error
	in        usecase.AskInput
	authErr   error
	token     string
	history   usecase.HistoryOutput
	histErr   error
	histLimit int
}

func (s *stubAsk) Authenticate(_ context.Context, token string) (domain.User, error) {
	s.token = token
	if s.authErr != nil {
		return domain.User{}, s.authErr
	}
	if token == "" {
		return domain.User{}, &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "missing_token"}
	}
	return testUser, nil
}

func (s *stubAsk) Ask(_ context.Context, in usecase.AskInput) (usecase.AskOutput, error) {
	s.in = in
	return s.out, s.err
}

func (s *stubAsk) History(_ context.Context, _ domain.User, limit int) (usecase.HistoryOutput, error) {
	s.histLimit = limit
	return s.history, s.histErr
}

type stubNews struct {
	articles []domain.NewsArticle
	err      error
	in       usecase.NewsInput
}

func (s *stubNews) Headlines(_ context.Context, in usecase.NewsInput) ([]domain.NewsArticle, error) {
	s.in = in
	return s.articles, s.err
}

func (s *stubNews) Topics() []string { return []string{"AI", "Space"} }

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/query",
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer tok-1",
		},
		Body: body,
	}
}

func getEvent(path string, query map[string]string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod:            http.MethodGet,
		Path:                  path,
		Headers:               map[string]string{"authorization": "bearer tok-1"},
		QueryStringParameters: query,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, ask *stubAsk, news *stubNews) *Handler {
	t.Helper()
	if news == nil {
		news = &stubNews{}
	}
	h, err := NewHandler(ask, news, nil)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil, &stubNews{}, nil)
	require.Error(t, err)
	_, err = NewHandler(&stubAsk{}, nil, nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	uc := &stubAsk{out: usecase.AskOutput{Answer: "hello", Sources: []string{"https://a"}, MessageID: "m-1"}}
	h := newTestHandler(t, uc, nil)

	resp, err := h.Handle(context.Background(), makeEvent(`{"query":"What happened today?"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "tok-1", uc.token)
	require.Equal(t, usecase.AskInput{Query: "What happened today?", User: testUser}, uc.in)

	out := parseBody[askResponse](t, resp.Body)
	require.Equal(t, "hello", out.Answer)
	require.Equal(t, []string{"https://a"}, out.Sources)
	require.Equal(t, "m-1", out.MessageID)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func TestHandle_Base64Body(t *testing.T) {
	uc := &stubAsk{}
	h := newTestHandler(t, uc, nil)

	event := makeEvent(base64.StdEncoding.EncodeToString([]byte(`{"query":"encoded"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "encoded", uc.in.Query)
}

func TestHandle_InvalidBody(t *testing.T) {
	for _, body := range []string{`not-json`, `{"query":"x","extra":1}`} {
		uc := &stubAsk{}
		h := newTestHandler(t, uc, nil)

		resp, err := h.Handle(context.Background(), makeEvent(body))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		out := parseBody[errorResponse](t, resp.Body)
		require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
		require.Equal(t, resp.Headers["X-Correlation-Id"], out.CorrelationID)
	}
}

func TestHandle_MissingBearer(t *testing.T) {
	uc := &stubAsk{}
	h := newTestHandler(t, uc, nil)

	event := makeEvent(`{"query":"q"}`)
	event.Headers["Authorization"] = "Basic abc"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Empty(t, uc.token)
	require.Empty(t, uc.in.Query)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_query"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "unauthorized", err: &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "missing_user"}, status: http.StatusUnauthorized, code: string(usecase.ErrorUnauthorized)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "auth_rate_limited"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "auth_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "dynamodb_query_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubAsk{err: tc.err}
			h := newTestHandler(t, uc, nil)

			resp, err := h.Handle(context.Background(), makeEvent(`{"query":"What happened today?"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_AuthenticationErrors(t *testing.T) {
	uc := &stubAsk{authErr: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "auth_error"}}
	h := newTestHandler(t, uc, nil)
	resp, err := h.Handle(context.Background(), makeEvent(`{"query":"q"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	uc := &stubAsk{out: usecase.AskOutput{Answer: "ok", MessageID: "m-1"}}
	h := newTestHandler(t, uc, nil)

	event := makeEvent(`{"query":"What happened today?"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_Routing(t *testing.T) {
	h := newTestHandler(t, &stubAsk{}, nil)

	resp, err := h.Handle(context.Background(), getEvent("/nope", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = h.Handle(context.Background(), getEvent("/query", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	event := makeEvent(`{}`)
	event.Path = "/news"
	resp, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// ----------------------------------------------------------------------------
// News
// ----------------------------------------------------------------------------

func TestHandle_News(t *testing.T) {
	news := &stubNews{articles: []domain.NewsArticle{{Title: "Rover finds ice", URL: "https://n/1", SourceName: "Wire"}}}
	h := newTestHandler(t, &stubAsk{}, news)

	resp, err := h.Handle(context.Background(), getEvent("/news/", map[string]string{
		"category": "science", "limit": "5", "q": "ice", "filter": "science",
	}))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.NewsInput{Category: "science", Limit: 5, Query: "ice", Filter: "science"}, news.in)

	out := parseBody[newsResponse](t, resp.Body)
	require.Equal(t, news.articles, out.Articles)
}

func TestHandle_NewsEmptyAndErrors(t *testing.T) {
	news := &stubNews{}
	h := newTestHandler(t, &stubAsk{}, news)

	resp, err := h.Handle(context.Background(), getEvent("/news", nil))
	require.NoError(t, err)
	require.JSONEq(t, `{"articles":[]}`, resp.Body)

	resp, err = h.Handle(context.Background(), getEvent("/news", map[string]string{"limit": "ten"}))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	news.err = &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "limit_too_large"}
	resp, err = h.Handle(context.Background(), getEvent("/news", map[string]string{"limit": "500"}))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_Topics(t *testing.T) {
	h := newTestHandler(t, &stubAsk{}, nil)
	resp, err := h.Handle(context.Background(), getEvent("/news/topics", nil))
	require.NoError(t, err)
	require.JSONEq(t, `{"topics":["AI","Space"]}`, resp.Body)
}

// ----------------------------------------------------------------------------
// Conversations
// ----------------------------------------------------------------------------

func TestHandle_Conversations(t *testing.T) {
	created := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	uc := &stubAsk{history: usecase.HistoryOutput{
		Conversations: []domain.ConversationRecord{{ID: "r1", UserID: "user-1", Query: "q", Answer: "a", CreatedAt: created}},
		Stats:         repository.UserStats{Conversations: 7, LastActivity: created},
	}}
	h := newTestHandler(t, uc, nil)

	resp, err := h.Handle(context.Background(), getEvent("/conversations", map[string]string{"limit": "3"}))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, uc.histLimit)
	require.Equal(t, "tok-1", uc.token)
	require.JSONEq(t, `{
		"conversations":[{"id":"r1","query":"q","answer":"a","sources":[],"createdAt":"2026-10-15T09:30:00Z"}],
		"total":7,
		"lastActivity":"2026-10-15T09:30:00Z"
	}`, resp.Body)
}

func TestHandle_ConversationsErrors(t *testing.T) {
	uc := &stubAsk{}
	h := newTestHandler(t, uc, nil)

	event := getEvent("/conversations", nil)
	delete(event.Headers, "authorization")
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	uc.histErr = &usecase.Error{Code: usecase.ErrorInternal, Reason: "dynamodb_query_error"}
	resp, err = h.Handle(context.Background(), getEvent("/conversations", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
