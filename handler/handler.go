package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"legalguide-agent/internal/domain"
	"legalguide-agent/internal/usecase"
)

// AdviseUseCase is the advisory pipeline consumed by the handler.
type AdviseUseCase interface {
	Advise(ctx context.Context, in usecase.AdviseInput) (usecase.AdviseOutput, error)
}

// ConversationUseCase covers the conversation-thread operations.
type ConversationUseCase interface {
	Create(ctx context.Context, in usecase.CreateConversationInput) (domain.Conversation, error)
	List(ctx context.Context, accessToken string) ([]domain.Conversation, error)
	Messages(ctx context.Context, accessToken, conversationID string) ([]domain.Message, error)
	Append(ctx context.Context, in usecase.AppendMessageInput) (domain.Message, error)
	Delete(ctx context.Context, accessToken, conversationID string) error
}

type Handler struct {
	advise        AdviseUseCase
	conversations ConversationUseCase
}

func NewHandler(advise AdviseUseCase, conversations ConversationUseCase) (*Handler, error) {
	if advise == nil {
		return nil, errors.New("handler: advise use case must not be nil")
	}
	if conversations == nil {
		return nil, errors.New("handler: conversation use case must not be nil")
	}
	return &Handler{advise: advise, conversations: conversations}, nil
}

type adviseRequest struct {
	Issue               string               `json:"issue"`
	ConversationHistory []domain.ChatMessage `json:"conversationHistory"`
	Location            string               `json:"location"`
}

type adviseResponse struct {
	Advice          string                  `json:"advice"`
	Recommendations []domain.Recommendation `json:"recommendations,omitempty"`
}

type createConversationRequest struct {
	Title    string `json:"title"`
	Location string `json:"location"`
}

type appendMessageRequest struct {
	Role            string                  `json:"role"`
	Content         string                  `json:"content"`
	Recommendations []domain.Recommendation `json:"recommendations"`
}

type conversationResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Location  string `json:"location,omitempty"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type messageResponse struct {
	ID              string                  `json:"id"`
	ConversationID  string                  `json:"conversationId"`
	Role            string                  `json:"role"`
	Content         string                  `json:"content"`
	Recommendations []domain.Recommendation `json:"recommendations,omitempty"`
	CreatedAt       string                  `json:"createdAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handle dispatches one API Gateway proxy event. Panics and unclassified
// errors become a generic 500 without leaking internals.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (resp events.APIGatewayProxyResponse, retErr error) {
	corrID := correlationID(event.Headers)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while handling request", "panic", r, "path", event.Path, "correlationId", corrID)
			resp = errorJSON(http.StatusInternalServerError, usecase.ErrorInternal, corrID)
			retErr = nil
		}
	}()

	token := bearerToken(event.Headers)
	parts := splitPath(event.Path)

	switch {
	case event.HTTPMethod == http.MethodPost && len(parts) == 1 && parts[0] == "legal-advice":
		return h.handleAdvise(ctx, event.Body, token, corrID), nil
	case event.HTTPMethod == http.MethodPost && len(parts) == 1 && parts[0] == "conversations":
		return h.handleCreateConversation(ctx, event.Body, token, corrID), nil
	case event.HTTPMethod == http.MethodGet && len(parts) == 1 && parts[0] == "conversations":
		return h.handleListConversations(ctx, token, corrID), nil
	case event.HTTPMethod == http.MethodDelete && len(parts) == 2 && parts[0] == "conversations":
		return h.handleDeleteConversation(ctx, token, parts[1], corrID), nil
	case event.HTTPMethod == http.MethodGet && len(parts) == 3 && parts[0] == "conversations" && parts[2] == "messages":
		return h.handleListMessages(ctx, token, parts[1], corrID), nil
	case event.HTTPMethod == http.MethodPost && len(parts) == 3 && parts[0] == "conversations" && parts[2] == "messages":
		return h.handleAppendMessage(ctx, event.Body, token, parts[1], corrID), nil
	default:
		return errorJSON(http.StatusNotFound, usecase.ErrorNotFound, corrID), nil
	}
}

func (h *Handler) handleAdvise(ctx context.Context, body, token, corrID string) events.APIGatewayProxyResponse {
	var req adviseRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errorJSON(http.StatusBadRequest, usecase.ErrorInvalidInput, corrID)
	}

	out, err := h.advise.Advise(ctx, usecase.AdviseInput{
		AccessToken: token,
		Issue:       req.Issue,
		History:     req.ConversationHistory,
		Location:    req.Location,
	})
	if err != nil {
		return mapError(err, corrID)
	}

	return okJSON(http.StatusOK, adviseResponse{
		Advice:          out.Advice,
		Recommendations: out.Recommendations,
	}, corrID)
}

func (h *Handler) handleCreateConversation(ctx context.Context, body, token, corrID string) events.APIGatewayProxyResponse {
	var req createConversationRequest
	if body != "" {
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			return errorJSON(http.StatusBadRequest, usecase.ErrorInvalidInput, corrID)
		}
	}

	conv, err := h.conversations.Create(ctx, usecase.CreateConversationInput{
		AccessToken: token,
		Title:       req.Title,
		Location:    req.Location,
	})
	if err != nil {
		return mapError(err, corrID)
	}
	return okJSON(http.StatusCreated, toConversationResponse(conv), corrID)
}

func (h *Handler) handleListConversations(ctx context.Context, token, corrID string) events.APIGatewayProxyResponse {
	convs, err := h.conversations.List(ctx, token)
	if err != nil {
		return mapError(err, corrID)
	}
	out := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		out = append(out, toConversationResponse(conv))
	}
	return okJSON(http.StatusOK, out, corrID)
}

func (h *Handler) handleDeleteConversation(ctx context.Context, token, conversationID, corrID string) events.APIGatewayProxyResponse {
	if err := h.conversations.Delete(ctx, token, conversationID); err != nil {
		return mapError(err, corrID)
	}
	return okJSON(http.StatusNoContent, nil, corrID)
}

func (h *Handler) handleListMessages(ctx context.Context, token, conversationID, corrID string) events.APIGatewayProxyResponse {
	msgs, err := h.conversations.Messages(ctx, token, conversationID)
	if err != nil {
		return mapError(err, corrID)
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toMessageResponse(msg))
	}
	return okJSON(http.StatusOK, out, corrID)
}

func (h *Handler) handleAppendMessage(ctx context.Context, body, token, conversationID, corrID string) events.APIGatewayProxyResponse {
	var req appendMessageRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errorJSON(http.StatusBadRequest, usecase.ErrorInvalidInput, corrID)
	}

	msg, err := h.conversations.Append(ctx, usecase.AppendMessageInput{
		AccessToken:     token,
		ConversationID:  conversationID,
		Role:            req.Role,
		Content:         req.Content,
		Recommendations: req.Recommendations,
	})
	if err != nil {
		return mapError(err, corrID)
	}
	return okJSON(http.StatusCreated, toMessageResponse(msg), corrID)
}

func toConversationResponse(conv domain.Conversation) conversationResponse {
	return conversationResponse{
		ID:        conv.ConversationID,
		Title:     conv.Title,
		Location:  conv.Location,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
}

func toMessageResponse(msg domain.Message) messageResponse {
	return messageResponse{
		ID:              msg.SK,
		ConversationID:  msg.ConversationID,
		Role:            msg.Role,
		Content:         msg.Content,
		Recommendations: msg.Recommendations,
		CreatedAt:       msg.CreatedAt,
	}
}

// mapError converts the usecase taxonomy to an HTTP status. Anything outside
// the taxonomy is an internal error.
func mapError(err error, corrID string) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		slog.Error("unclassified error", "err", err, "correlationId", corrID)
		return errorJSON(http.StatusInternalServerError, usecase.ErrorInternal, corrID)
	}

	status := http.StatusInternalServerError
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorUnauthorized:
		status = http.StatusUnauthorized
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorRateLimited, usecase.ErrorUpstreamRateLimited:
		status = http.StatusTooManyRequests
	case usecase.ErrorUpstreamUnavailable:
		status = http.StatusPaymentRequired
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err, "correlationId", corrID)
	}
	return errorJSON(status, ucErr.Code, corrID)
}

func okJSON(status int, body any, corrID string) events.APIGatewayProxyResponse {
	if body == nil {
		return events.APIGatewayProxyResponse{
			StatusCode: status,
			Headers:    baseHeaders(corrID),
		}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		slog.Error("marshal response", "err", err, "correlationId", corrID)
		return errorJSON(http.StatusInternalServerError, usecase.ErrorInternal, corrID)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    baseHeaders(corrID),
		Body:       string(raw),
	}
}

func errorJSON(status int, code usecase.ErrorCode, corrID string) events.APIGatewayProxyResponse {
	raw, _ := json.Marshal(errorResponse{Error: string(code)})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    baseHeaders(corrID),
		Body:       string(raw),
	}
}

func baseHeaders(corrID string) map[string]string {
	return map[string]string{
		"Content-Type":     "application/json",
		"X-Correlation-Id": corrID,
	}
}

// bearerToken extracts the bearer credential from the Authorization header,
// matched case-insensitively. The "Bearer" scheme prefix is optional.
func bearerToken(headers map[string]string) string {
	for k, v := range headers {
		if !strings.EqualFold(k, "authorization") {
			continue
		}
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
		return v
	}
	return ""
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "x-correlation-id") && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
