package core

import "github.com/dkeye/Dialogue/internal/domain"

// InboundEvent is a decoded client event. The concrete type is one of the
// *Event structs below.
type InboundEvent interface {
	// Ref is the client correlation id echoed back in the ack, may be empty.
	Ref() string
	inbound()
}

// EventRef is embedded in every inbound event and carries the client ref.
type EventRef string

func (r EventRef) Ref() string { return string(r) }
func (EventRef) inbound()      {}

type MessageEvent struct {
	EventRef
	ConversationID domain.ConversationID
	Body           string
}

type OfferEvent struct {
	EventRef
	To    domain.UserID
	SDP   string
	Media string
}

type AnswerEvent struct {
	EventRef
	CallID domain.CallID
	SDP    string
}

type DeclineEvent struct {
	EventRef
	CallID domain.CallID
	Reason string
}

// HangupEvent is an explicit caller cancel before the callee answers.
type HangupEvent struct {
	EventRef
	CallID domain.CallID
}

type ActivityEvent struct{ EventRef }

type DisconnectEvent struct{ EventRef }

// Outbound event names.
const (
	EvNewConversation = "new-conversation"
	EvMessage         = "message"
	EvCallOffer       = "call-offer"
	EvCallAnswer      = "call-answer"
	EvCallRejected    = "call-rejected"
	EvCallCancelled   = "call-cancelled"
	EvCallTimeout     = "call-timeout"
	EvCallUnreachable = "call-unreachable"
	EvCallClosed      = "call-closed"
	EvAck             = "ack"
	EvError           = "error"
)
