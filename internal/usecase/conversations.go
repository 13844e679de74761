package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"legalguide-agent/internal/domain"
)

const (
	maxTitleLen    = 200
	maxLocationLen = 200
)

// ConversationStore is the persistence surface for conversation threads. All
// reads and writes are scoped to the owning identity.
type ConversationStore interface {
	CreateConversation(ctx context.Context, ownerID, conversationID, title, location string) (domain.Conversation, error)
	GetConversation(ctx context.Context, ownerID, conversationID string) (domain.Conversation, bool, error)
	ListConversations(ctx context.Context, ownerID string) ([]domain.Conversation, error)
	DeleteConversation(ctx context.Context, ownerID, conversationID string) (bool, error)
	AppendMessage(ctx context.Context, ownerID, conversationID, role, content string, recs []domain.Recommendation) (domain.Message, error)
	GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

// ConversationService owns the conversation-thread operations the front end
// uses to persist and browse exchanges. The advisory pipeline itself never
// writes messages; that is this service's caller's choice.
type ConversationService struct {
	identity IdentityResolver
	store    ConversationStore
}

type CreateConversationInput struct {
	AccessToken string
	Title       string
	Location    string
}

type AppendMessageInput struct {
	AccessToken     string
	ConversationID  string
	Role            string
	Content         string
	Recommendations []domain.Recommendation
}

func NewConversationService(identity IdentityResolver, store ConversationStore) (*ConversationService, error) {
	if identity == nil {
		return nil, errors.New("usecase: identity resolver must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	return &ConversationService{identity: identity, store: store}, nil
}

func (s *ConversationService) Create(ctx context.Context, in CreateConversationInput) (domain.Conversation, error) {
	userID, err := resolveIdentity(ctx, s.identity, in.AccessToken)
	if err != nil {
		return domain.Conversation{}, err
	}

	title := strings.TrimSpace(in.Title)
	if len(title) > maxTitleLen {
		return domain.Conversation{}, newError(ErrorInvalidInput, "title_too_long", nil)
	}
	location := strings.TrimSpace(in.Location)
	if len(location) > maxLocationLen {
		return domain.Conversation{}, newError(ErrorInvalidInput, "location_too_long", nil)
	}

	conv, err := s.store.CreateConversation(ctx, userID, newUUID(), title, location)
	if err != nil {
		return domain.Conversation{}, newError(ErrorInternal, "conversation_write_error", err)
	}
	return conv, nil
}

func (s *ConversationService) List(ctx context.Context, accessToken string) ([]domain.Conversation, error) {
	userID, err := resolveIdentity(ctx, s.identity, accessToken)
	if err != nil {
		return nil, err
	}

	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "conversation_list_error", err)
	}
	return convs, nil
}

func (s *ConversationService) Messages(ctx context.Context, accessToken, conversationID string) ([]domain.Message, error) {
	userID, err := resolveIdentity(ctx, s.identity, accessToken)
	if err != nil {
		return nil, err
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}

	_, found, err := s.store.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, newError(ErrorInternal, "conversation_read_error", err)
	}
	if !found {
		return nil, newError(ErrorNotFound, "conversation_not_found", nil)
	}

	msgs, err := s.store.GetMessages(ctx, conversationID, 0)
	if err != nil {
		return nil, newError(ErrorInternal, "message_list_error", err)
	}
	return msgs, nil
}

func (s *ConversationService) Append(ctx context.Context, in AppendMessageInput) (domain.Message, error) {
	userID, err := resolveIdentity(ctx, s.identity, in.AccessToken)
	if err != nil {
		return domain.Message{}, err
	}

	conversationID := strings.TrimSpace(in.ConversationID)
	if conversationID == "" {
		return domain.Message{}, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	if in.Role != domain.RoleUser && in.Role != domain.RoleAssistant {
		return domain.Message{}, newError(ErrorInvalidInput, "invalid_role", nil)
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return domain.Message{}, newError(ErrorInvalidInput, "empty_content", nil)
	}

	_, found, err := s.store.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return domain.Message{}, newError(ErrorInternal, "conversation_read_error", err)
	}
	if !found {
		return domain.Message{}, newError(ErrorNotFound, "conversation_not_found", nil)
	}

	msg, err := s.store.AppendMessage(ctx, userID, conversationID, in.Role, content, in.Recommendations)
	if err != nil {
		return domain.Message{}, newError(ErrorInternal, "message_write_error", err)
	}
	return msg, nil
}

func (s *ConversationService) Delete(ctx context.Context, accessToken, conversationID string) error {
	userID, err := resolveIdentity(ctx, s.identity, accessToken)
	if err != nil {
		return err
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}

	deleted, err := s.store.DeleteConversation(ctx, userID, conversationID)
	if err != nil {
		return newError(ErrorInternal, "conversation_delete_error", err)
	}
	if !deleted {
		return newError(ErrorNotFound, "conversation_not_found", nil)
	}
	return nil
}

var newUUID = func() string {
	return uuid.NewString()
}
