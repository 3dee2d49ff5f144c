package core

import (
	"context"
	"errors"

	"github.com/dkeye/Dialogue/internal/domain"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrPersistence  = errors.New("persistence failure")
)

// Handshake carries what the transport knows about a connection attempt.
type Handshake struct {
	Token      string
	RemoteAddr string
	UserAgent  string
}

// AuthGate validates credentials once per connection. Failures wrap
// ErrUnauthorized.
type AuthGate interface {
	Authenticate(ctx context.Context, hs Handshake) (domain.UserID, error)
}

// ConversationStore is the authoritative message/conversation persistence.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	Conversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error)
	AppendMessage(ctx context.Context, msg *domain.Message) error
}

// MessageHistory is implemented by stores that can replay recent messages.
type MessageHistory interface {
	Messages(ctx context.Context, id domain.ConversationID, limit int64) ([]domain.Message, error)
}
