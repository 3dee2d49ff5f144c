package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// SendMessage stores the message and fans it out to every participant,
// sender included so their other devices stay in sync. Storage and delivery
// run concurrently; a storage failure is reported but delivery is kept.
func (o *Orchestrator) SendMessage(ctx context.Context, s Session, ev core.MessageEvent) (*domain.Message, error) {
	conv, err := o.Store.Conversation(ctx, ev.ConversationID)
	if err != nil {
		if errors.Is(err, domain.ErrConversationGone) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load conversation: %v", core.ErrPersistence, err)
	}
	if !conv.HasParticipant(s.UID) {
		return nil, ErrForbidden
	}
	msg, err := domain.NewMessage(conv.ID, s.UID, ev.Body)
	if err != nil {
		return nil, err
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := o.Store.AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("%w: append message: %v", core.ErrPersistence, err)
		}
		return nil
	})
	report := o.Dispatcher.Deliver(conv.Participants, core.EvMessage, msg)
	err = g.Wait()

	attempted, delivered, failed := report.Totals()
	logger := log.With().Str("module", "app.orch").Str("conversation", string(conv.ID)).
		Str("message", msg.ID).Logger()
	if err != nil {
		logger.Error().Err(err).Msg("message delivered but not stored")
	}
	logger.Debug().Int("attempted", attempted).Int("delivered", delivered).Int("failed", failed).Msg("message fanned out")
	return msg, err
}

// NewConversation creates a conversation and notifies every participant.
// Nobody is notified when the store rejects it.
func (o *Orchestrator) NewConversation(ctx context.Context, creator domain.UserID, participants []domain.UserID) (*domain.Conversation, error) {
	conv, err := domain.NewConversation(creator, participants)
	if err != nil {
		return nil, err
	}
	if err := o.Store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("%w: create conversation: %v", core.ErrPersistence, err)
	}
	report := o.Dispatcher.Deliver(conv.Participants, core.EvNewConversation, conv)
	_, delivered, _ := report.Totals()
	log.Info().Str("module", "app.orch").Str("conversation", string(conv.ID)).
		Str("creator", string(creator)).Int("participants", len(conv.Participants)).
		Int("delivered", delivered).Msg("conversation created")
	return conv, nil
}

// History returns the latest messages of a conversation uid takes part in.
func (o *Orchestrator) History(ctx context.Context, uid domain.UserID, id domain.ConversationID, limit int64) ([]domain.Message, error) {
	h, ok := o.Store.(core.MessageHistory)
	if !ok {
		return nil, ErrNoHistory
	}
	conv, err := o.Store.Conversation(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrConversationGone) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: load conversation: %v", core.ErrPersistence, err)
	}
	if !conv.HasParticipant(uid) {
		return nil, ErrForbidden
	}
	msgs, err := h.Messages(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: load messages: %v", core.ErrPersistence, err)
	}
	return msgs, nil
}
