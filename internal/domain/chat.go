package domain

// ChatMessage is the provider-agnostic chat message shape shared by the
// request body, prompt assembly, and the LLM integration.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles accepted in conversation history and persisted messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
