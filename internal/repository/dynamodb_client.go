package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"intellect/internal/domain"
)

const (
	skPrefixConv = "CONV#"
	skMeta       = "META#"

	// sortable and fixed-width, unlike RFC3339Nano
	skTimeLayout = "2006-01-02T15:04:05.000000000Z"

	defaultListLimit = 20
	maxListLimit     = 100
)

// dynamodbAPI is the slice of the DynamoDB client used by Client.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// ConversationStore is the append-only conversation log.
type ConversationStore interface {
	SaveConversation(ctx context.Context, rec domain.ConversationRecord) (domain.ConversationRecord, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]domain.ConversationRecord, error)
}

// UserStats summarizes a user's stored conversations.
type UserStats struct {
	Conversations int
	LastActivity  time.Time
}

// Client stores conversation records in a single DynamoDB table keyed by
// user.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
	newID     func() string
}

type Option func(*Client)

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a repository Client for tableName.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{
		api:       api,
		tableName: tableName,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func userPK(userID string) string {
	return "USER#" + userID
}

func convSK(ts time.Time, id string) string {
	return skPrefixConv + ts.UTC().Format(skTimeLayout) + "#" + id
}

// SaveConversation appends rec for its user and bumps the user's stats in the
// same transaction. ID and CreatedAt are assigned when empty.
func (c *Client) SaveConversation(ctx context.Context, rec domain.ConversationRecord) (domain.ConversationRecord, error) {
	if strings.TrimSpace(rec.UserID) == "" {
		return domain.ConversationRecord{}, errors.New("repository: SaveConversation: user id is required")
	}
	if rec.ID == "" {
		rec.ID = c.newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = c.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                recordItem(rec),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: userPK(rec.UserID)},
						"SK": &types.AttributeValueMemberS{Value: skMeta},
					},
					UpdateExpression: aws.String("ADD conversations :one SET lastActivity = :ts"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":one": &types.AttributeValueMemberN{Value: "1"},
						":ts":  &types.AttributeValueMemberS{Value: rec.CreatedAt.Format(time.RFC3339)},
					},
				},
			},
		},
	})
	if err != nil {
		return domain.ConversationRecord{}, fmt.Errorf("repository: SaveConversation: %w", err)
	}
	return rec, nil
}

// ListConversations returns up to limit records for userID, newest first.
func (c *Client) ListConversations(ctx context.Context, userID string, limit int) ([]domain.ConversationRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("repository: ListConversations: user id is required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixConv},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListConversations query: %w", err)
	}

	recs := make([]domain.ConversationRecord, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := itemToRecord(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListConversations unmarshal: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Stats returns the user's conversation count and last activity. A user with
// no records has zero stats.
func (c *Client) Stats(ctx context.Context, userID string) (UserStats, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return UserStats{}, fmt.Errorf("repository: Stats get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return UserStats{}, nil
	}
	n, err := intAttr(out.Item, "conversations")
	if err != nil {
		return UserStats{}, fmt.Errorf("repository: Stats decode conversations: %w", err)
	}
	stats := UserStats{Conversations: n}
	if ts, err := strAttr(out.Item, "lastActivity"); err == nil {
		stats.LastActivity, _ = time.Parse(time.RFC3339, ts)
	}
	return stats, nil
}

func recordItem(rec domain.ConversationRecord) map[string]types.AttributeValue {
	sources := make([]types.AttributeValue, 0, len(rec.Sources))
	for _, s := range rec.Sources {
		sources = append(sources, &types.AttributeValueMemberS{Value: s})
	}
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: userPK(rec.UserID)},
		"SK":        &types.AttributeValueMemberS{Value: convSK(rec.CreatedAt, rec.ID)},
		"id":        &types.AttributeValueMemberS{Value: rec.ID},
		"userId":    &types.AttributeValueMemberS{Value: rec.UserID},
		"query":     &types.AttributeValueMemberS{Value: rec.Query},
		"answer":    &types.AttributeValueMemberS{Value: rec.Answer},
		"sources":   &types.AttributeValueMemberL{Value: sources},
		"createdAt": &types.AttributeValueMemberS{Value: rec.CreatedAt.Format(time.RFC3339Nano)},
	}
}

func itemToRecord(item map[string]types.AttributeValue) (domain.ConversationRecord, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.ConversationRecord{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.ConversationRecord{}, err
	}
	query, err := strAttr(item, "query")
	if err != nil {
		return domain.ConversationRecord{}, err
	}
	answer, _ := strAttr(item, "answer")

	rec := domain.ConversationRecord{ID: id, UserID: userID, Query: query, Answer: answer}
	if ts, err := strAttr(item, "createdAt"); err == nil {
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	if l, ok := item["sources"].(*types.AttributeValueMemberL); ok {
		for _, v := range l.Value {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				rec.Sources = append(rec.Sources, s.Value)
			}
		}
	}
	return rec, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
