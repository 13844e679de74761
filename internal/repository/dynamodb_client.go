package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"legalguide-agent/internal/domain"
)

const (
	pkPrefixUser  = "USER#"
	pkPrefixConv  = "CONV#"
	skPrefixConv  = "CONV#"
	skPrefixMsg   = "MSG#"
	skPrefixRate  = "RATE#"
	rateWindowTTL = 24 * time.Hour // expired windows are purged by DynamoDB TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table holding rate windows, conversations, and
// messages in a single-table layout.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func userPK(ownerID string) string {
	return pkPrefixUser + ownerID
}

func convSK(conversationID string) string {
	return skPrefixConv + conversationID
}

func msgPK(conversationID string) string {
	return pkPrefixConv + conversationID
}

// msgSK returns the sort key for a message using the given UTC timestamp so
// messages order chronologically within their conversation.
func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano)
}

func rateSK(endpoint string) string {
	return skPrefixRate + endpoint
}

// ---------------------------------------------------------------------------
// Rate windows
// ---------------------------------------------------------------------------

// ReserveRateSlot atomically claims one request slot in the caller's rolling
// window for the endpoint. It returns false (and no error) when the live
// window has already reached limit. The conditional-write sequence closes the
// read-then-write race a naive get/put counter would have:
//
//  1. increment the counter, conditional on the window being live and under
//     the limit;
//  2. on conditional failure, replace the window, conditional on it being
//     absent or expired;
//  3. if that also fails the window is live and full.
func (c *Client) ReserveRateSlot(ctx context.Context, ownerID, endpoint string, limit int, window time.Duration) (bool, error) {
	if ownerID == "" || endpoint == "" {
		return false, errors.New("repository: ReserveRateSlot: owner and endpoint are required")
	}
	if limit <= 0 || window <= 0 {
		return false, errors.New("repository: ReserveRateSlot: limit and window must be positive")
	}

	now := time.Now().UTC()
	boundary := now.Add(-window).Format(time.RFC3339)
	key := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: userPK(ownerID)},
		"SK": &types.AttributeValueMemberS{Value: rateSK(endpoint)},
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key,
		UpdateExpression:    aws.String("ADD #c :one"),
		ConditionExpression: aws.String("windowStart >= :boundary AND #c < :limit"),
		ExpressionAttributeNames: map[string]string{
			"#c": "count",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":      &types.AttributeValueMemberN{Value: "1"},
			":boundary": &types.AttributeValueMemberS{Value: boundary},
			":limit":    &types.AttributeValueMemberN{Value: strconv.Itoa(limit)},
		},
	})
	if err == nil {
		return true, nil
	}
	if !isConditionalFailure(err) {
		return false, fmt.Errorf("repository: ReserveRateSlot increment: %w", err)
	}

	// Window is absent, expired, or full. Try to start a fresh one; this only
	// succeeds in the first two cases.
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":          key["PK"],
			"SK":          key["SK"],
			"windowStart": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			"count":       &types.AttributeValueMemberN{Value: "1"},
			"ttl":         &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(rateWindowTTL).Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) OR windowStart < :boundary"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":boundary": &types.AttributeValueMemberS{Value: boundary},
		},
	})
	if err == nil {
		return true, nil
	}
	if isConditionalFailure(err) {
		return false, nil
	}
	return false, fmt.Errorf("repository: ReserveRateSlot fresh window: %w", err)
}

// GetRateWindow reads the stored window for (owner, endpoint). Absence is not
// an error; the zero RateWindow with found=false is returned.
func (c *Client) GetRateWindow(ctx context.Context, ownerID, endpoint string) (domain.RateWindow, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(ownerID)},
			"SK": &types.AttributeValueMemberS{Value: rateSK(endpoint)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.RateWindow{}, false, fmt.Errorf("repository: GetRateWindow: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.RateWindow{}, false, nil
	}

	count, err := intAttr(out.Item, "count")
	if err != nil {
		return domain.RateWindow{}, false, fmt.Errorf("repository: GetRateWindow decode count: %w", err)
	}
	start, err := strAttr(out.Item, "windowStart")
	if err != nil {
		return domain.RateWindow{}, false, fmt.Errorf("repository: GetRateWindow decode windowStart: %w", err)
	}
	return domain.RateWindow{
		PK:          userPK(ownerID),
		SK:          rateSK(endpoint),
		WindowStart: start,
		Count:       count,
	}, true, nil
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

// CreateConversation persists a new conversation record for its owner and
// returns it.
func (c *Client) CreateConversation(ctx context.Context, ownerID, conversationID, title, location string) (domain.Conversation, error) {
	if ownerID == "" || conversationID == "" {
		return domain.Conversation{}, errors.New("repository: CreateConversation: owner and conversation id are required")
	}

	conv := NewConversationRecord(ownerID, conversationID, title, location)
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                conversationItem(conv),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return conv, nil
}

// GetConversation reads one conversation scoped to its owner.
func (c *Client) GetConversation(ctx context.Context, ownerID, conversationID string) (domain.Conversation, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(ownerID)},
			"SK": &types.AttributeValueMemberS{Value: convSK(conversationID)},
		},
	})
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetConversation: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, false, nil
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetConversation unmarshal: %w", err)
	}
	return conv, true, nil
}

// ListConversations returns the owner's conversations, most recently updated
// first.
func (c *Client) ListConversations(ctx context.Context, ownerID string) ([]domain.Conversation, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(ownerID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixConv},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListConversations query: %w", err)
	}

	convs := make([]domain.Conversation, 0, len(out.Items))
	for _, item := range out.Items {
		conv, err := itemToConversation(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListConversations unmarshal: %w", err)
		}
		convs = append(convs, conv)
	}
	// Sort key order is conversation id, not recency; order by updatedAt.
	for i := 1; i < len(convs); i++ {
		for j := i; j > 0 && convs[j].UpdatedAt > convs[j-1].UpdatedAt; j-- {
			convs[j], convs[j-1] = convs[j-1], convs[j]
		}
	}
	return convs, nil
}

// DeleteConversation removes a conversation and all of its messages. The
// owner check is implicit: the conversation record lives under the owner's
// partition, and a miss there deletes nothing.
func (c *Client) DeleteConversation(ctx context.Context, ownerID, conversationID string) (bool, error) {
	_, found, err := c.GetConversation(ctx, ownerID, conversationID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	msgs, err := c.GetMessages(ctx, conversationID, 0)
	if err != nil {
		return false, fmt.Errorf("repository: DeleteConversation list messages: %w", err)
	}
	for _, msg := range msgs {
		_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(c.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: msg.PK},
				"SK": &types.AttributeValueMemberS{Value: msg.SK},
			},
		})
		if err != nil {
			return false, fmt.Errorf("repository: DeleteConversation message: %w", err)
		}
	}

	_, err = c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(ownerID)},
			"SK": &types.AttributeValueMemberS{Value: convSK(conversationID)},
		},
	})
	if err != nil {
		return false, fmt.Errorf("repository: DeleteConversation: %w", err)
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// AppendMessage writes a new immutable message and bumps the parent
// conversation's updatedAt in one transaction.
func (c *Client) AppendMessage(ctx context.Context, ownerID, conversationID, role, content string, recs []domain.Recommendation) (domain.Message, error) {
	if ownerID == "" || conversationID == "" {
		return domain.Message{}, errors.New("repository: AppendMessage: owner and conversation id are required")
	}

	msg := NewMessageRecord(conversationID, role, content, recs)
	item, err := messageItem(msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: AppendMessage: %w", err)
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: userPK(ownerID)},
						"SK": &types.AttributeValueMemberS{Value: convSK(msg.ConversationID)},
					},
					UpdateExpression:    aws.String("SET updatedAt = :ts"),
					ConditionExpression: aws.String("attribute_exists(PK)"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":ts": &types.AttributeValueMemberS{Value: msg.CreatedAt},
					},
				},
			},
		},
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return msg, nil
}

// GetMessages queries all MSG# items for a conversation in chronological
// order. A limit of 0 means no limit.
func (c *Client) GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: msgPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetMessages query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// NewConversationRecord constructs a Conversation with keys and timestamps
// set from the owner, id, and current time.
func NewConversationRecord(ownerID, conversationID, title, location string) domain.Conversation {
	now := time.Now().UTC().Format(time.RFC3339)
	return domain.Conversation{
		PK:             userPK(ownerID),
		SK:             convSK(conversationID),
		ConversationID: conversationID,
		OwnerID:        ownerID,
		Title:          title,
		Location:       location,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewMessageRecord constructs a Message with PK/SK set from the conversation
// and current time.
func NewMessageRecord(conversationID, role, content string, recs []domain.Recommendation) domain.Message {
	now := time.Now().UTC()
	return domain.Message{
		PK:              msgPK(conversationID),
		SK:              msgSK(now),
		ConversationID:  conversationID,
		Role:            role,
		Content:         content,
		Recommendations: recs,
		CreatedAt:       now.Format(time.RFC3339Nano),
	}
}

// ---------------------------------------------------------------------------
// Attribute conversion
// ---------------------------------------------------------------------------

func conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: conv.PK},
		"SK":             &types.AttributeValueMemberS{Value: conv.SK},
		"conversationId": &types.AttributeValueMemberS{Value: conv.ConversationID},
		"ownerId":        &types.AttributeValueMemberS{Value: conv.OwnerID},
		"createdAt":      &types.AttributeValueMemberS{Value: conv.CreatedAt},
		"updatedAt":      &types.AttributeValueMemberS{Value: conv.UpdatedAt},
	}
	if conv.Title != "" {
		item["title"] = &types.AttributeValueMemberS{Value: conv.Title}
	}
	if conv.Location != "" {
		item["location"] = &types.AttributeValueMemberS{Value: conv.Location}
	}
	return item
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Conversation{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Conversation{}, err
	}
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Conversation{}, err
	}
	ownerID, _ := strAttr(item, "ownerId")
	title, _ := strAttr(item, "title")       // optional
	location, _ := strAttr(item, "location") // optional
	createdAt, _ := strAttr(item, "createdAt")
	updatedAt, _ := strAttr(item, "updatedAt")

	return domain.Conversation{
		PK:             pk,
		SK:             sk,
		ConversationID: convID,
		OwnerID:        ownerID,
		Title:          title,
		Location:       location,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

func messageItem(msg domain.Message) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: msg.PK},
		"SK":             &types.AttributeValueMemberS{Value: msg.SK},
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"role":           &types.AttributeValueMemberS{Value: msg.Role},
		"content":        &types.AttributeValueMemberS{Value: msg.Content},
		"createdAt":      &types.AttributeValueMemberS{Value: msg.CreatedAt},
	}
	if len(msg.Recommendations) > 0 {
		raw, err := json.Marshal(msg.Recommendations)
		if err != nil {
			return nil, fmt.Errorf("marshal recommendations: %w", err)
		}
		item["recommendations"] = &types.AttributeValueMemberS{Value: string(raw)}
	}
	return item, nil
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Message{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	role, _ := strAttr(item, "role")
	convID, _ := strAttr(item, "conversationId")
	createdAt, _ := strAttr(item, "createdAt")

	msg := domain.Message{
		PK:             pk,
		SK:             sk,
		ConversationID: convID,
		Role:           role,
		Content:        content,
		CreatedAt:      createdAt,
	}
	if raw, rerr := strAttr(item, "recommendations"); rerr == nil && raw != "" {
		if err := json.Unmarshal([]byte(raw), &msg.Recommendations); err != nil {
			return domain.Message{}, fmt.Errorf("unmarshal recommendations: %w", err)
		}
	}
	return msg, nil
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
