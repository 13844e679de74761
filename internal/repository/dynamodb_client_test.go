package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"legalguide-agent/internal/domain"
)

// fakeDynamo records the last input per operation and returns the configured
// outputs and errors.
type fakeDynamo struct {
	getOut  *dynamodb.GetItemOutput
	getErr  error
	lastGet *dynamodb.GetItemInput

	putErr  error
	lastPut *dynamodb.PutItemInput

	updateErr  error
	lastUpdate *dynamodb.UpdateItemInput

	deleteErr   error
	deleteCalls []*dynamodb.DeleteItemInput

	queryOut  *dynamodb.QueryOutput
	queryErr  error
	lastQuery *dynamodb.QueryInput

	txErr  error
	lastTx *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGet = in
	if f.getOut == nil {
		return &dynamodb.GetItemOutput{}, f.getErr
	}
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPut = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdate = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deleteCalls = append(f.deleteCalls, in)
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQuery = in
	if f.queryOut == nil {
		return &dynamodb.QueryOutput{}, f.queryErr
	}
	return f.queryOut, f.queryErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTx = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func newTestClient(t *testing.T, api *fakeDynamo) *Client {
	t.Helper()
	c, err := New(api, "state-table")
	require.NoError(t, err)
	return c
}

func sAttr(item map[string]types.AttributeValue, key string) string {
	v, ok := item[key].(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return v.Value
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "state-table")
	require.Error(t, err)

	_, err = New(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// ReserveRateSlot
// ---------------------------------------------------------------------------

func TestReserveRateSlot_IncrementSucceeds(t *testing.T) {
	api := &fakeDynamo{}
	c := newTestClient(t, api)

	ok, err := c.ReserveRateSlot(context.Background(), "user-1", "legal-advice", 10, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NotNil(t, api.lastUpdate)
	require.Equal(t, "USER#user-1", sAttr(api.lastUpdate.Key, "PK"))
	require.Equal(t, "RATE#legal-advice", sAttr(api.lastUpdate.Key, "SK"))
	require.Contains(t, *api.lastUpdate.ConditionExpression, "windowStart >= :boundary")
	require.Nil(t, api.lastPut, "fresh window must not be written when increment succeeds")
}

func TestReserveRateSlot_FreshWindowAfterConditionalFailure(t *testing.T) {
	api := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	c := newTestClient(t, api)

	ok, err := c.ReserveRateSlot(context.Background(), "user-1", "legal-advice", 10, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NotNil(t, api.lastPut)
	require.Equal(t, "1", api.lastPut.Item["count"].(*types.AttributeValueMemberN).Value)
	require.NotEmpty(t, sAttr(api.lastPut.Item, "windowStart"))
	require.Contains(t, *api.lastPut.ConditionExpression, "attribute_not_exists(PK)")
	_, hasTTL := api.lastPut.Item["ttl"]
	require.True(t, hasTTL)
}

func TestReserveRateSlot_WindowFull(t *testing.T) {
	api := &fakeDynamo{
		updateErr: &types.ConditionalCheckFailedException{},
		putErr:    &types.ConditionalCheckFailedException{},
	}
	c := newTestClient(t, api)

	ok, err := c.ReserveRateSlot(context.Background(), "user-1", "legal-advice", 10, time.Hour)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReserveRateSlot_IncrementError(t *testing.T) {
	api := &fakeDynamo{updateErr: errors.New("throttled")}
	c := newTestClient(t, api)

	_, err := c.ReserveRateSlot(context.Background(), "user-1", "legal-advice", 10, time.Hour)
	require.Error(t, err)
	require.ErrorContains(t, err, "throttled")
	require.Nil(t, api.lastPut)
}

func TestReserveRateSlot_FreshWindowError(t *testing.T) {
	api := &fakeDynamo{
		updateErr: &types.ConditionalCheckFailedException{},
		putErr:    errors.New("throttled"),
	}
	c := newTestClient(t, api)

	_, err := c.ReserveRateSlot(context.Background(), "user-1", "legal-advice", 10, time.Hour)
	require.Error(t, err)
	require.ErrorContains(t, err, "throttled")
}

func TestReserveRateSlot_Validation(t *testing.T) {
	c := newTestClient(t, &fakeDynamo{})

	_, err := c.ReserveRateSlot(context.Background(), "", "legal-advice", 10, time.Hour)
	require.Error(t, err)

	_, err = c.ReserveRateSlot(context.Background(), "user-1", "", 10, time.Hour)
	require.Error(t, err)

	_, err = c.ReserveRateSlot(context.Background(), "user-1", "legal-advice", 0, time.Hour)
	require.Error(t, err)

	_, err = c.ReserveRateSlot(context.Background(), "user-1", "legal-advice", 10, 0)
	require.Error(t, err)
}

func TestGetRateWindow_Found(t *testing.T) {
	api := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: "USER#user-1"},
		"SK":          &types.AttributeValueMemberS{Value: "RATE#legal-advice"},
		"windowStart": &types.AttributeValueMemberS{Value: "2026-08-29T10:00:00Z"},
		"count":       &types.AttributeValueMemberN{Value: "7"},
	}}}
	c := newTestClient(t, api)

	w, found, err := c.GetRateWindow(context.Background(), "user-1", "legal-advice")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 7, w.Count)
	require.Equal(t, "2026-08-29T10:00:00Z", w.WindowStart)
}

func TestGetRateWindow_Absent(t *testing.T) {
	c := newTestClient(t, &fakeDynamo{})
	_, found, err := c.GetRateWindow(context.Background(), "user-1", "legal-advice")
	require.NoError(t, err)
	require.False(t, found)
}

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

func TestCreateConversation(t *testing.T) {
	api := &fakeDynamo{}
	c := newTestClient(t, api)

	conv, err := c.CreateConversation(context.Background(), "user-1", "conv-1", "Tenant dispute", "Kingston")
	require.NoError(t, err)
	require.Equal(t, "USER#user-1", conv.PK)
	require.Equal(t, "CONV#conv-1", conv.SK)
	require.Equal(t, "conv-1", conv.ConversationID)
	require.Equal(t, conv.CreatedAt, conv.UpdatedAt)

	require.NotNil(t, api.lastPut)
	require.Equal(t, "Tenant dispute", sAttr(api.lastPut.Item, "title"))
	require.Equal(t, "Kingston", sAttr(api.lastPut.Item, "location"))
	require.Contains(t, *api.lastPut.ConditionExpression, "attribute_not_exists")
}

func TestCreateConversation_Validation(t *testing.T) {
	c := newTestClient(t, &fakeDynamo{})
	_, err := c.CreateConversation(context.Background(), "", "conv-1", "", "")
	require.Error(t, err)
	_, err = c.CreateConversation(context.Background(), "user-1", "", "", "")
	require.Error(t, err)
}

func TestGetConversation_Found(t *testing.T) {
	api := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: "USER#user-1"},
		"SK":             &types.AttributeValueMemberS{Value: "CONV#conv-1"},
		"conversationId": &types.AttributeValueMemberS{Value: "conv-1"},
		"ownerId":        &types.AttributeValueMemberS{Value: "user-1"},
		"title":          &types.AttributeValueMemberS{Value: "Tenant dispute"},
		"createdAt":      &types.AttributeValueMemberS{Value: "2026-08-29T10:00:00Z"},
		"updatedAt":      &types.AttributeValueMemberS{Value: "2026-08-29T11:00:00Z"},
	}}}
	c := newTestClient(t, api)

	conv, found, err := c.GetConversation(context.Background(), "user-1", "conv-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "conv-1", conv.ConversationID)
	require.Equal(t, "Tenant dispute", conv.Title)
	require.Empty(t, conv.Location)

	require.Equal(t, "USER#user-1", sAttr(api.lastGet.Key, "PK"))
	require.Equal(t, "CONV#conv-1", sAttr(api.lastGet.Key, "SK"))
}

func TestGetConversation_NotFound(t *testing.T) {
	c := newTestClient(t, &fakeDynamo{})
	_, found, err := c.GetConversation(context.Background(), "user-1", "missing")
	require.NoError(t, err)
	require.False(t, found)
}

func conversationTestItem(id, updatedAt string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: "USER#user-1"},
		"SK":             &types.AttributeValueMemberS{Value: "CONV#" + id},
		"conversationId": &types.AttributeValueMemberS{Value: id},
		"ownerId":        &types.AttributeValueMemberS{Value: "user-1"},
		"createdAt":      &types.AttributeValueMemberS{Value: updatedAt},
		"updatedAt":      &types.AttributeValueMemberS{Value: updatedAt},
	}
}

func TestListConversations_SortedByRecency(t *testing.T) {
	api := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		conversationTestItem("conv-a", "2026-08-27T10:00:00Z"),
		conversationTestItem("conv-b", "2026-08-29T10:00:00Z"),
		conversationTestItem("conv-c", "2026-08-28T10:00:00Z"),
	}}}
	c := newTestClient(t, api)

	convs, err := c.ListConversations(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, convs, 3)
	require.Equal(t, "conv-b", convs[0].ConversationID)
	require.Equal(t, "conv-c", convs[1].ConversationID)
	require.Equal(t, "conv-a", convs[2].ConversationID)

	require.Contains(t, *api.lastQuery.KeyConditionExpression, "begins_with")
	require.Equal(t, "CONV#", sAttr(api.lastQuery.ExpressionAttributeValues, ":prefix"))
}

func TestListConversations_Empty(t *testing.T) {
	c := newTestClient(t, &fakeDynamo{})
	convs, err := c.ListConversations(context.Background(), "user-1")
	require.NoError(t, err)
	require.Empty(t, convs)
}

func messageTestItem(convID, sk, role, content string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: "CONV#" + convID},
		"SK":             &types.AttributeValueMemberS{Value: sk},
		"conversationId": &types.AttributeValueMemberS{Value: convID},
		"role":           &types.AttributeValueMemberS{Value: role},
		"content":        &types.AttributeValueMemberS{Value: content},
		"createdAt":      &types.AttributeValueMemberS{Value: "2026-08-29T10:00:00Z"},
	}
}

func TestDeleteConversation_Cascade(t *testing.T) {
	api := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{Item: conversationTestItem("conv-1", "2026-08-29T10:00:00Z")},
		queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
			messageTestItem("conv-1", "MSG#2026-08-29T10:00:00.000000001Z", "user", "hi"),
			messageTestItem("conv-1", "MSG#2026-08-29T10:00:05.000000001Z", "assistant", "hello"),
		}},
	}
	c := newTestClient(t, api)

	deleted, err := c.DeleteConversation(context.Background(), "user-1", "conv-1")
	require.NoError(t, err)
	require.True(t, deleted)

	// two message deletes then the conversation delete
	require.Len(t, api.deleteCalls, 3)
	require.Equal(t, "CONV#conv-1", sAttr(api.deleteCalls[0].Key, "PK"))
	require.Equal(t, "CONV#conv-1", sAttr(api.deleteCalls[1].Key, "PK"))
	require.Equal(t, "USER#user-1", sAttr(api.deleteCalls[2].Key, "PK"))
	require.Equal(t, "CONV#conv-1", sAttr(api.deleteCalls[2].Key, "SK"))
}

func TestDeleteConversation_NotFound(t *testing.T) {
	api := &fakeDynamo{}
	c := newTestClient(t, api)

	deleted, err := c.DeleteConversation(context.Background(), "user-1", "missing")
	require.NoError(t, err)
	require.False(t, deleted)
	require.Empty(t, api.deleteCalls)
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func TestAppendMessage_TransactionShape(t *testing.T) {
	api := &fakeDynamo{}
	c := newTestClient(t, api)

	recs := []domain.Recommendation{{Name: "Kingston Legal Aid", PlaceID: "p1"}}
	msg, err := c.AppendMessage(context.Background(), "user-1", "conv-1", domain.RoleAssistant, "Seek counsel.", recs)
	require.NoError(t, err)
	require.Equal(t, "CONV#conv-1", msg.PK)
	require.True(t, strings.HasPrefix(msg.SK, "MSG#"))
	require.Equal(t, domain.RoleAssistant, msg.Role)

	require.NotNil(t, api.lastTx)
	require.Len(t, api.lastTx.TransactItems, 2)

	put := api.lastTx.TransactItems[0].Put
	require.NotNil(t, put)
	require.Equal(t, "Seek counsel.", sAttr(put.Item, "content"))
	require.Contains(t, sAttr(put.Item, "recommendations"), "Kingston Legal Aid")

	update := api.lastTx.TransactItems[1].Update
	require.NotNil(t, update)
	require.Equal(t, "USER#user-1", sAttr(update.Key, "PK"))
	require.Equal(t, "CONV#conv-1", sAttr(update.Key, "SK"))
	require.Contains(t, *update.UpdateExpression, "updatedAt")
	require.Contains(t, *update.ConditionExpression, "attribute_exists")
}

func TestAppendMessage_NoRecommendationsAttr(t *testing.T) {
	api := &fakeDynamo{}
	c := newTestClient(t, api)

	_, err := c.AppendMessage(context.Background(), "user-1", "conv-1", domain.RoleUser, "hi", nil)
	require.NoError(t, err)

	put := api.lastTx.TransactItems[0].Put
	_, has := put.Item["recommendations"]
	require.False(t, has)
}

func TestAppendMessage_TransactionError(t *testing.T) {
	api := &fakeDynamo{txErr: errors.New("transaction canceled")}
	c := newTestClient(t, api)

	_, err := c.AppendMessage(context.Background(), "user-1", "conv-1", domain.RoleUser, "hi", nil)
	require.Error(t, err)
	require.ErrorContains(t, err, "transaction canceled")
}

func TestGetMessages_Chronological(t *testing.T) {
	recsJSON := `[{"name":"Kingston Legal Aid","formatted_address":"1 Duke St","rating":4.5,"user_ratings_total":37,"place_id":"p1"}]`
	first := messageTestItem("conv-1", "MSG#2026-08-29T10:00:00.000000001Z", "user", "hi")
	second := messageTestItem("conv-1", "MSG#2026-08-29T10:00:05.000000001Z", "assistant", "hello")
	second["recommendations"] = &types.AttributeValueMemberS{Value: recsJSON}

	api := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{first, second}}}
	c := newTestClient(t, api)

	msgs, err := c.GetMessages(context.Background(), "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "user", msgs[0].Role)
	require.Empty(t, msgs[0].Recommendations)
	require.Len(t, msgs[1].Recommendations, 1)
	require.Equal(t, "Kingston Legal Aid", msgs[1].Recommendations[0].Name)
	require.Equal(t, "p1", msgs[1].Recommendations[0].PlaceID)

	require.Equal(t, "CONV#conv-1", sAttr(api.lastQuery.ExpressionAttributeValues, ":pk"))
	require.True(t, *api.lastQuery.ScanIndexForward)
	require.Nil(t, api.lastQuery.Limit)
}

func TestGetMessages_Limit(t *testing.T) {
	api := &fakeDynamo{}
	c := newTestClient(t, api)

	_, err := c.GetMessages(context.Background(), "conv-1", 5)
	require.NoError(t, err)
	require.NotNil(t, api.lastQuery.Limit)
	require.Equal(t, int32(5), *api.lastQuery.Limit)
}

// ---------------------------------------------------------------------------
// Record constructors
// ---------------------------------------------------------------------------

func TestNewConversationRecord_Keys(t *testing.T) {
	conv := NewConversationRecord("user-1", "conv-1", "Title", "Montego Bay")
	require.Equal(t, "USER#user-1", conv.PK)
	require.Equal(t, "CONV#conv-1", conv.SK)
	require.Equal(t, "Montego Bay", conv.Location)

	_, err := time.Parse(time.RFC3339, conv.CreatedAt)
	require.NoError(t, err)
}

func TestNewMessageRecord_Keys(t *testing.T) {
	msg := NewMessageRecord("conv-1", domain.RoleUser, "hi", nil)
	require.Equal(t, "CONV#conv-1", msg.PK)
	require.True(t, strings.HasPrefix(msg.SK, "MSG#"))

	ts := strings.TrimPrefix(msg.SK, "MSG#")
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	require.NoError(t, err)
	require.Equal(t, parsed.UTC().Format(time.RFC3339Nano), msg.CreatedAt)
}
