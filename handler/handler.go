// Package handler adapts API Gateway proxy events to the question pipeline.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"intellect/internal/domain"
	"intellect/internal/observability"
	"intellect/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerAuthorization = "Authorization"

	routeQuery         = "/query"
	routeNews          = "/news"
	routeTopics        = "/news/topics"
	routeConversations = "/conversations"
)

type AskUseCase interface {
	Authenticate(ctx context.Context, accessToken string) (domain.User, error)
	Ask(ctx context.Context, in usecase.AskInput) (usecase.AskOutput, error)
	History(ctx context.Context, user domain.User, limit int) (usecase.HistoryOutput, error)
}

type NewsUseCase interface {
	Headlines(ctx context.Context, in usecase.NewsInput) ([]domain.NewsArticle, error)
	Topics() []string
}

type Handler struct {
	ask    AskUseCase
	news   NewsUseCase
	logger *slog.Logger
}

type queryRequest struct {
	Query string `json:"query"`
}

type askResponse struct {
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	MessageID string   `json:"messageId"`
}

type newsResponse struct {
	Articles []domain.NewsArticle `json:"articles"`
}

type topicsResponse struct {
	Topics []string `json:"topics"`
}

type conversationItem struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Sources   []string  `json:"sources"`
	CreatedAt time.Time `json:"createdAt"`
}

type conversationsResponse struct {
	Conversations []conversationItem `json:"conversations"`
	Total         int                `json:"total"`
	LastActivity  *time.Time         `json:"lastActivity,omitempty"`
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId"`
}

func NewHandler(ask AskUseCase, news NewsUseCase, logger *slog.Logger) (*Handler, error) {
	if ask == nil {
		return nil, errors.New("handler: ask use case must not be nil")
	}
	if news == nil {
		return nil, errors.New("handler: news use case must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ask: ask, news: news, logger: logger}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	corrID := header(req.Headers, headerCorrelationID)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	ctx = observability.WithCorrelationID(ctx, corrID)
	log := observability.Logger(ctx, h.logger)

	resp := h.route(ctx, req)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers["Content-Type"] = "application/json"
	resp.Headers[headerCorrelationID] = corrID

	log.InfoContext(ctx, "request handled",
		"method", req.HTTPMethod,
		"path", req.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (h *Handler) route(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	path := strings.TrimRight(req.Path, "/")
	switch path {
	case routeQuery:
		if req.HTTPMethod != http.MethodPost {
			return errorJSON(ctx, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
		}
		return h.handleQuery(ctx, req)
	case routeNews:
		if req.HTTPMethod != http.MethodGet {
			return errorJSON(ctx, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
		}
		return h.handleNews(ctx, req)
	case routeTopics:
		if req.HTTPMethod != http.MethodGet {
			return errorJSON(ctx, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
		}
		return jsonResponse(http.StatusOK, topicsResponse{Topics: h.news.Topics()})
	case routeConversations:
		if req.HTTPMethod != http.MethodGet {
			return errorJSON(ctx, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
		}
		return h.handleConversations(ctx, req)
	}
	return errorJSON(ctx, http.StatusNotFound, "NOT_FOUND")
}

func (h *Handler) handleQuery(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	user, err := h.authenticate(ctx, req)
	if err != nil {
		return h.useCaseError(ctx, err)
	}

	body, err := requestBody(req)
	if err != nil {
		return errorJSON(ctx, http.StatusBadRequest, string(usecase.ErrorInvalidInput))
	}
	var in queryRequest
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, string(usecase.ErrorInvalidInput))
	}

	out, err := h.ask.Ask(ctx, usecase.AskInput{Query: in.Query, User: user})
	if err != nil {
		return h.useCaseError(ctx, err)
	}
	return jsonResponse(http.StatusOK, askResponse{Answer: out.Answer, Sources: out.Sources, MessageID: out.MessageID})
}

func (h *Handler) handleNews(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	q := req.QueryStringParameters
	limit, err := intParam(q, "limit")
	if err != nil {
		return errorJSON(ctx, http.StatusBadRequest, string(usecase.ErrorInvalidInput))
	}
	articles, err := h.news.Headlines(ctx, usecase.NewsInput{
		Category: q["category"],
		Limit:    limit,
		Query:    q["q"],
		Filter:   q["filter"],
	})
	if err != nil {
		return h.useCaseError(ctx, err)
	}
	if articles == nil {
		articles = []domain.NewsArticle{}
	}
	return jsonResponse(http.StatusOK, newsResponse{Articles: articles})
}

func (h *Handler) handleConversations(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	user, err := h.authenticate(ctx, req)
	if err != nil {
		return h.useCaseError(ctx, err)
	}
	limit, err := intParam(req.QueryStringParameters, "limit")
	if err != nil {
		return errorJSON(ctx, http.StatusBadRequest, string(usecase.ErrorInvalidInput))
	}
	out, err := h.ask.History(ctx, user, limit)
	if err != nil {
		return h.useCaseError(ctx, err)
	}

	resp := conversationsResponse{
		Conversations: make([]conversationItem, 0, len(out.Conversations)),
		Total:         out.Stats.Conversations,
	}
	for _, r := range out.Conversations {
		sources := r.Sources
		if sources == nil {
			sources = []string{}
		}
		resp.Conversations = append(resp.Conversations, conversationItem{
			ID:        r.ID,
			Query:     r.Query,
			Answer:    r.Answer,
			Sources:   sources,
			CreatedAt: r.CreatedAt,
		})
	}
	if !out.Stats.LastActivity.IsZero() {
		last := out.Stats.LastActivity
		resp.LastActivity = &last
	}
	return jsonResponse(http.StatusOK, resp)
}

func (h *Handler) authenticate(ctx context.Context, req events.APIGatewayProxyRequest) (domain.User, error) {
	auth := header(req.Headers, headerAuthorization)
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		token = ""
	}
	return h.ask.Authenticate(ctx, token)
}

func (h *Handler) useCaseError(ctx context.Context, err error) events.APIGatewayProxyResponse {
	log := observability.Logger(ctx, h.logger)

	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		log.ErrorContext(ctx, "unexpected error", "err", err)
		return errorJSON(ctx, http.StatusInternalServerError, string(usecase.ErrorInternal))
	}

	status := statusFor(ucErr.Code)
	if status >= http.StatusInternalServerError {
		log.ErrorContext(ctx, "request failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	} else {
		log.WarnContext(ctx, "request rejected", "code", ucErr.Code, "reason", ucErr.Reason)
	}
	return errorJSON(ctx, status, string(ucErr.Code))
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestBody(req events.APIGatewayProxyRequest) (string, error) {
	if !req.IsBase64Encoded {
		return req.Body, nil
	}
	raw, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func intParam(q map[string]string, key string) (int, error) {
	v := strings.TrimSpace(q[key])
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("handler: invalid " + key)
	}
	return n, nil
}

// header looks name up case-insensitively; API Gateway preserves the
// client's casing.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: `{"error":"INTERNAL_ERROR"}`}
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Body: string(body)}
}

func errorJSON(ctx context.Context, status int, code string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorResponse{Error: code, CorrelationID: observability.CorrelationID(ctx)})
}
