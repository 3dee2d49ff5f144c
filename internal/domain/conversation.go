package domain

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

const MaxMessageLen = 4096

var (
	ErrMessageEmpty     = errors.New("message empty")
	ErrMessageTooLong   = errors.New("message too long")
	ErrTooFewMembers    = errors.New("conversation needs at least two participants")
	ErrConversationGone = errors.New("conversation not found")
)

type ConversationID string

type Conversation struct {
	ID           ConversationID `json:"id"`
	Participants []UserID       `json:"participants"`
	CreatedBy    UserID         `json:"createdBy"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// NewConversation dedupes participants and always includes the creator.
func NewConversation(creator UserID, participants []UserID) (*Conversation, error) {
	seen := map[UserID]struct{}{creator: {}}
	members := []UserID{creator}
	for _, p := range participants {
		if _, ok := seen[p]; ok || p == "" {
			continue
		}
		seen[p] = struct{}{}
		members = append(members, p)
	}
	if len(members) < 2 {
		return nil, ErrTooFewMembers
	}
	return &Conversation{
		ID:           ConversationID(uuid.NewString()),
		Participants: members,
		CreatedBy:    creator,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (c *Conversation) HasParticipant(uid UserID) bool {
	return slices.Contains(c.Participants, uid)
}

type Message struct {
	ID             string         `json:"id"`
	ConversationID ConversationID `json:"conversationId"`
	Sender         UserID         `json:"sender"`
	Body           string         `json:"body"`
	SentAt         time.Time      `json:"sentAt"`
}

func NewMessage(conv ConversationID, sender UserID, body string) (*Message, error) {
	if len(body) == 0 {
		return nil, ErrMessageEmpty
	}
	if len(body) > MaxMessageLen {
		return nil, ErrMessageTooLong
	}
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conv,
		Sender:         sender,
		Body:           body,
		SentAt:         time.Now().UTC(),
	}, nil
}
