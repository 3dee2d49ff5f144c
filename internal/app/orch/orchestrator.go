package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Dialogue/internal/adapters/rtc"
	"github.com/dkeye/Dialogue/internal/app"
	"github.com/dkeye/Dialogue/internal/app/calls"
	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/dkeye/Dialogue/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrForbidden   = errors.New("not a participant of this conversation")
	ErrRateLimited = errors.New("too many call offers")
	ErrUnknownKind = errors.New("unknown event")
	ErrNoHistory   = errors.New("store does not keep message history")
)

// Limiter throttles call offers per identity. Its state must survive
// reconnects.
type Limiter interface {
	Allow(uid domain.UserID) bool
}

// Session identifies the connection an inbound event arrived on.
type Session struct {
	UID domain.UserID
	SID core.SessionID
}

// Orchestrator routes decoded client events to the registry, dispatcher,
// call coordinator and conversation store.
type Orchestrator struct {
	Registry   *app.Registry
	Dispatcher *app.Dispatcher
	Lifecycle  *app.Lifecycle
	Calls      *calls.Coordinator
	Store      core.ConversationStore
	Offers     Limiter
	Metrics    *metrics.Metrics
}

// Connect registers a new connection. See app.Lifecycle.Connected.
func (o *Orchestrator) Connect(uid domain.UserID, sid core.SessionID, conn core.SignalConnection) (func(), error) {
	return o.Lifecycle.Connected(uid, sid, conn)
}

// OnPresence is installed as the lifecycle presence hook.
func (o *Orchestrator) OnPresence(uid domain.UserID, online bool) {
	o.Metrics.PresenceChanged(online)
	log.Debug().Str("module", "app.orch").Str("user", string(uid)).Bool("online", online).Msg("presence hook")
}

type PresenceInfo struct {
	User     domain.UserID `json:"user"`
	Online   bool          `json:"online"`
	Sessions int           `json:"sessions"`
}

func (o *Orchestrator) Presence(uid domain.UserID) PresenceInfo {
	n := len(o.Registry.SessionsFor(uid))
	return PresenceInfo{User: uid, Online: n > 0, Sessions: n}
}

// Handle processes one inbound event. The returned value is the ack result.
// Stale call signals are swallowed and acknowledged as successful no-ops.
func (o *Orchestrator) Handle(ctx context.Context, s Session, ev core.InboundEvent) (any, error) {
	o.Registry.Touch(s.UID, s.SID)

	switch e := ev.(type) {
	case core.ActivityEvent:
		o.Metrics.Inbound("activity")
		return nil, nil
	case core.DisconnectEvent:
		o.Metrics.Inbound("disconnect")
		o.Lifecycle.Disconnected(s.SID)
		return nil, nil
	case core.MessageEvent:
		o.Metrics.Inbound("message")
		msg, err := o.SendMessage(ctx, s, e)
		if msg == nil {
			return nil, err
		}
		return msg, err
	case core.OfferEvent:
		o.Metrics.Inbound("offer")
		started, err := o.StartCall(s, e)
		if err != nil {
			return nil, err
		}
		return started, nil
	case core.AnswerEvent:
		o.Metrics.Inbound("answer")
		return nil, ignoreStale(s, o.AnswerCall(s, e))
	case core.DeclineEvent:
		o.Metrics.Inbound("decline")
		return nil, ignoreStale(s, o.Calls.Decline(s.SID, s.UID, e.CallID, e.Reason))
	case core.HangupEvent:
		o.Metrics.Inbound("hangup")
		return nil, ignoreStale(s, o.Calls.Hangup(s.UID, e.CallID))
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, ev)
	}
}

func ignoreStale(s Session, err error) error {
	if errors.Is(err, calls.ErrStaleSignal) {
		log.Debug().Str("module", "app.orch").Str("sid", string(s.SID)).Msg("stale call signal dropped")
		return nil
	}
	return err
}

// ErrorCode maps an error to the short code sent to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrPersistence):
		return "persistence_failed"
	case errors.Is(err, domain.ErrConversationGone):
		return "conversation_not_found"
	case errors.Is(err, ErrForbidden), errors.Is(err, calls.ErrNotParticipant):
		return "forbidden"
	case errors.Is(err, domain.ErrMessageEmpty), errors.Is(err, domain.ErrMessageTooLong):
		return "invalid_message"
	case errors.Is(err, domain.ErrUserIDEmpty), errors.Is(err, domain.ErrUserIDTooLong):
		return "invalid_user"
	case errors.Is(err, domain.ErrTooFewMembers):
		return "too_few_members"
	case errors.Is(err, rtc.ErrEmptySDP), errors.Is(err, rtc.ErrInvalidSDP),
		errors.Is(err, rtc.ErrSDPTooLarge), errors.Is(err, rtc.ErrNoMedia):
		return "invalid_sdp"
	case errors.Is(err, calls.ErrSelfCall):
		return "self_call"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}
