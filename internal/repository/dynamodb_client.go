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

	"persona-relay/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	ttlDuration  = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Journal.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Journal is an append-only audit log of completion turns. It never holds
// conversation state: the persona map stays in memory.
type Journal struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a Journal writing to tableName.
func New(api dynamodbAPI, tableName string) (*Journal, error) {
	if api == nil {
		return nil, errors.New("journal: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("journal: table name must not be empty")
	}
	return &Journal{api: api, tableName: tableName, now: time.Now}, nil
}

// chatPK returns the DynamoDB partition key for a conversation.
func chatPK(conversationID int64) string {
	return "CHAT#" + strconv.FormatInt(conversationID, 10)
}

// turnSK returns the sort key for a turn at ts.
func turnSK(ts time.Time) string {
	return skPrefixTurn + ts.UTC().Format(time.RFC3339Nano)
}

// RecordTurn writes one turn. The conditional put refuses to overwrite an
// existing turn with the same timestamp.
func (j *Journal) RecordTurn(ctx context.Context, turn domain.Turn) error {
	if turn.ConversationID == 0 {
		return errors.New("journal: RecordTurn: conversation id is required")
	}
	if turn.At.IsZero() {
		turn.At = j.now()
	}

	_, err := j.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(j.tableName),
		Item:                turnItem(turn, j.now().Add(ttlDuration).Unix()),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("journal: RecordTurn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit turns for a conversation, oldest first.
func (j *Journal) RecentTurns(ctx context.Context, conversationID int64, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	out, err := j.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(j.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: chatPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so LIMIT favors the most recent turns.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("journal: RecentTurns query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("journal: RecentTurns unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	for i, k := 0, len(turns)-1; i < k; i, k = i+1, k-1 {
		turns[i], turns[k] = turns[k], turns[i]
	}
	return turns, nil
}

func turnItem(turn domain.Turn, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: chatPK(turn.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: turnSK(turn.At)},
		"conversationId": &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.ConversationID, 10)},
		"persona":        &types.AttributeValueMemberS{Value: string(turn.Persona)},
		"text":           &types.AttributeValueMemberS{Value: turn.UserText},
		"outcome":        &types.AttributeValueMemberS{Value: turn.Outcome.String()},
		"statusCode":     &types.AttributeValueMemberN{Value: strconv.Itoa(turn.StatusCode)},
		"reply":          &types.AttributeValueMemberS{Value: turn.Reply},
		"correlationId":  &types.AttributeValueMemberS{Value: turn.CorrelationID},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Turn{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(sk, skPrefixTurn))
	if err != nil {
		return domain.Turn{}, fmt.Errorf("journal: parse sort key %q: %w", sk, err)
	}
	conversationID, err := intAttr(item, "conversationId")
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}
	rawOutcome, err := strAttr(item, "outcome")
	if err != nil {
		return domain.Turn{}, err
	}
	outcome, err := parseOutcomeKind(rawOutcome)
	if err != nil {
		return domain.Turn{}, err
	}
	persona, _ := strAttr(item, "persona") // allow empty
	reply, _ := strAttr(item, "reply")
	correlationID, _ := strAttr(item, "correlationId")
	status, _ := intAttr(item, "statusCode")

	return domain.Turn{
		ConversationID: conversationID,
		Persona:        domain.PersonaTag(persona),
		UserText:       text,
		Outcome:        outcome,
		StatusCode:     int(status),
		Reply:          reply,
		CorrelationID:  correlationID,
		At:             at,
	}, nil
}

func parseOutcomeKind(s string) (domain.OutcomeKind, error) {
	for _, k := range []domain.OutcomeKind{
		domain.OutcomeSuccess,
		domain.OutcomeRemoteError,
		domain.OutcomeTimeout,
		domain.OutcomeConnectionFailure,
		domain.OutcomeMalformedResponse,
	} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("journal: unknown outcome %q", s)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("journal: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("journal: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("journal: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("journal: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("journal: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
