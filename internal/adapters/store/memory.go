// Package store holds ConversationStore implementations.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Dialogue/internal/domain"
)

// Memory keeps conversations in process. Used in dev mode and tests.
type Memory struct {
	mu       sync.RWMutex
	convs    map[domain.ConversationID]*domain.Conversation
	messages map[domain.ConversationID][]domain.Message
}

func NewMemory() *Memory {
	return &Memory{
		convs:    make(map[domain.ConversationID]*domain.Conversation),
		messages: make(map[domain.ConversationID][]domain.Message),
	}
}

func (m *Memory) CreateConversation(_ context.Context, conv *domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[conv.ID]; ok {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	cp := *conv
	cp.Participants = slices.Clone(conv.Participants)
	m.convs[conv.ID] = &cp
	return nil
}

func (m *Memory) Conversation(_ context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, domain.ErrConversationGone
	}
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	return &cp, nil
}

func (m *Memory) AppendMessage(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[msg.ConversationID]; !ok {
		return domain.ErrConversationGone
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	return nil
}

// Messages returns the last limit messages of a conversation, oldest first.
func (m *Memory) Messages(_ context.Context, id domain.ConversationID, limit int64) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.convs[id]; !ok {
		return nil, domain.ErrConversationGone
	}
	msgs := m.messages[id]
	if limit > 0 && int64(len(msgs)) > limit {
		msgs = msgs[int64(len(msgs))-limit:]
	}
	return slices.Clone(msgs), nil
}
