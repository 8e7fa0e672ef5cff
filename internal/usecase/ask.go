package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"intellect/internal/domain"
	"intellect/internal/metrics"
	"intellect/internal/observability"
	"intellect/internal/repository"
)

const (
	defaultMaxQuery     = 500
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type TokenVerifier interface {
	User(ctx context.Context, accessToken string) (domain.User, error)
}

type ConversationLog interface {
	ConversationSaver
	ListConversations(ctx context.Context, userID string, limit int) ([]domain.ConversationRecord, error)
	Stats(ctx context.Context, userID string) (repository.UserStats, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// AskService is the stateless question pipeline behind the HTTP API.
type AskService struct {
	composer    QueryComposer
	auth        TokenVerifier
	log         ConversationLog
	maxQueryLen int
	logger      *slog.Logger
}

type AskInput struct {
	Query string
	User  domain.User
}

type AskOutput struct {
	Answer    string
	Sources   []string
	MessageID string
}

type HistoryOutput struct {
	Conversations []domain.ConversationRecord
	Stats         repository.UserStats
}

func NewAskService(c QueryComposer, auth TokenVerifier, log ConversationLog, maxQueryLen int, logger *slog.Logger) (*AskService, error) {
	if c == nil {
		return nil, errors.New("usecase: composer must not be nil")
	}
	if auth == nil {
		return nil, errors.New("usecase: token verifier must not be nil")
	}
	if log == nil {
		return nil, errors.New("usecase: conversation log must not be nil")
	}
	if maxQueryLen <= 0 {
		maxQueryLen = defaultMaxQuery
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AskService{composer: c, auth: auth, log: log, maxQueryLen: maxQueryLen, logger: logger}, nil
}

// Authenticate resolves a bearer access token to its user.
func (s *AskService) Authenticate(ctx context.Context, accessToken string) (domain.User, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return domain.User{}, newError(ErrorUnauthorized, "missing_token", nil)
	}
	user, err := s.auth.User(ctx, accessToken)
	if err != nil {
		status, ok := upstreamStatusCode(err)
		switch {
		case ok && (status == http.StatusUnauthorized || status == http.StatusForbidden):
			return domain.User{}, newError(ErrorUnauthorized, "invalid_token", err)
		case ok && status == http.StatusTooManyRequests:
			return domain.User{}, newError(ErrorRateLimited, "auth_rate_limited", err)
		}
		return domain.User{}, newError(ErrorUpstream, "auth_error", err)
	}
	return user, nil
}

// Ask composes an answer and records the exchange. A failed write is logged
// and does not fail the request.
func (s *AskService) Ask(ctx context.Context, in AskInput) (AskOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return AskOutput{}, newError(ErrorInvalidInput, "empty_query", nil)
	}
	if len(query) > s.maxQueryLen {
		return AskOutput{}, newError(ErrorInvalidInput, "query_too_long", nil)
	}
	if strings.TrimSpace(in.User.ID) == "" {
		return AskOutput{}, newError(ErrorUnauthorized, "missing_user", nil)
	}

	answer := s.composer.Compose(ctx, query)
	metrics.Queries.WithLabelValues("answered").Inc()

	rec := domain.ConversationRecord{
		ID:      newUUID(),
		UserID:  in.User.ID,
		Query:   query,
		Answer:  answer.Text,
		Sources: answer.Sources,
	}
	if _, err := s.log.SaveConversation(ctx, rec); err != nil {
		metrics.PersistFailures.Inc()
		observability.Logger(ctx, s.logger).WarnContext(ctx, "conversation not saved", "user_id", in.User.ID, "err", err)
	}

	sources := answer.Sources
	if sources == nil {
		sources = []string{}
	}
	return AskOutput{Answer: answer.Text, Sources: sources, MessageID: rec.ID}, nil
}

// History returns the user's most recent exchanges, newest first, with
// their totals.
func (s *AskService) History(ctx context.Context, user domain.User, limit int) (HistoryOutput, error) {
	if strings.TrimSpace(user.ID) == "" {
		return HistoryOutput{}, newError(ErrorUnauthorized, "missing_user", nil)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return HistoryOutput{}, newError(ErrorInvalidInput, "limit_too_large", nil)
	}
	recs, err := s.log.ListConversations(ctx, user.ID, limit)
	if err != nil {
		return HistoryOutput{}, newError(ErrorInternal, "dynamodb_query_error", err)
	}
	stats, err := s.log.Stats(ctx, user.ID)
	if err != nil {
		return HistoryOutput{}, newError(ErrorInternal, "dynamodb_stats_error", err)
	}
	if recs == nil {
		recs = []domain.ConversationRecord{}
	}
	return HistoryOutput{Conversations: recs, Stats: stats}, nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
