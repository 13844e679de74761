package domain

// Conversation is a user-owned thread of legal-guidance messages.
type Conversation struct {
	PK             string
	SK             string
	ConversationID string
	OwnerID        string
	Title          string
	Location       string
	CreatedAt      string
	UpdatedAt      string
}

// Message is a single persisted turn within a conversation. Messages are
// immutable once written and ordered by their creation timestamp.
type Message struct {
	PK              string
	SK              string
	ConversationID  string
	Role            string
	Content         string
	Recommendations []Recommendation
	CreatedAt       string
}

// RateWindow is the rolling one-hour counting bucket for a single
// (identity, endpoint) pair. Incremented in place, never decremented; an
// expired window is replaced rather than reused.
type RateWindow struct {
	PK          string
	SK          string
	WindowStart string
	Count       int
	TTL         int64
}
