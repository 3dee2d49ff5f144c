package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis stores a conversation as JSON under conv:{id} and its messages as a
// list under conv:{id}:messages. Each participant gets a set
// user:{id}:conversations for lookups by external services.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func convKey(id domain.ConversationID) string     { return "conv:" + string(id) }
func messagesKey(id domain.ConversationID) string { return "conv:" + string(id) + ":messages" }
func userConvsKey(uid domain.UserID) string       { return "user:" + string(uid) + ":conversations" }

func (s *Redis) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Redis) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	b, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, convKey(conv.ID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("store conversation %s: %w", conv.ID, err)
	}
	if !ok {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, uid := range conv.Participants {
			p.SAdd(ctx, userConvsKey(uid), string(conv.ID))
		}
		return nil
	})
	if err != nil {
		// The conversation itself is stored; the index can be rebuilt.
		log.Warn().Err(err).Str("module", "adapters.store").Str("conversation", string(conv.ID)).Msg("participant index not updated")
	}
	return nil
}

func (s *Redis) Conversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	b, err := s.rdb.Get(ctx, convKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrConversationGone
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	var conv domain.Conversation
	if err := json.Unmarshal(b, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (s *Redis) AppendMessage(ctx context.Context, msg *domain.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := s.rdb.RPush(ctx, messagesKey(msg.ConversationID), b).Err(); err != nil {
		return fmt.Errorf("append message to %s: %w", msg.ConversationID, err)
	}
	return nil
}

// Messages returns the last limit messages of a conversation, oldest first.
func (s *Redis) Messages(ctx context.Context, id domain.ConversationID, limit int64) ([]domain.Message, error) {
	raw, err := s.rdb.LRange(ctx, messagesKey(id), -limit, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load messages of %s: %w", id, err)
	}
	out := make([]domain.Message, 0, len(raw))
	for _, r := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode message of %s: %w", id, err)
		}
		out = append(out, m)
	}
	return out, nil
}
