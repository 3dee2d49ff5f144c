package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/domain"
)

var (
	ErrBadFrame     = errors.New("malformed frame")
	ErrUnknownType  = errors.New("unknown frame type")
	ErrMissingField = errors.New("missing field")
)

// frame is the union of every inbound payload field.
type frame struct {
	Type           string `json:"type"`
	Ref            string `json:"ref,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Body           string `json:"body,omitempty"`
	To             string `json:"to,omitempty"`
	SDP            string `json:"sdp,omitempty"`
	Media          string `json:"media,omitempty"`
	CallID         string `json:"callId,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Decode turns a client frame into an InboundEvent. The client ref is
// returned even when decoding fails so the error can be correlated.
func Decode(data []byte) (core.InboundEvent, string, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	ref := core.EventRef(f.Ref)

	switch f.Type {
	case "message":
		if f.ConversationID == "" {
			return nil, f.Ref, fmt.Errorf("%w: conversationId", ErrMissingField)
		}
		return core.MessageEvent{EventRef: ref, ConversationID: domain.ConversationID(f.ConversationID), Body: f.Body}, f.Ref, nil
	case "offer", "initiateCall":
		to, err := domain.ParseUserID(f.To)
		if err != nil {
			return nil, f.Ref, fmt.Errorf("%w: to: %w", ErrMissingField, err)
		}
		return core.OfferEvent{EventRef: ref, To: to, SDP: f.SDP, Media: f.Media}, f.Ref, nil
	case "answer", "answerCall":
		if f.CallID == "" {
			return nil, f.Ref, fmt.Errorf("%w: callId", ErrMissingField)
		}
		return core.AnswerEvent{EventRef: ref, CallID: domain.CallID(f.CallID), SDP: f.SDP}, f.Ref, nil
	case "decline":
		if f.CallID == "" {
			return nil, f.Ref, fmt.Errorf("%w: callId", ErrMissingField)
		}
		return core.DeclineEvent{EventRef: ref, CallID: domain.CallID(f.CallID), Reason: f.Reason}, f.Ref, nil
	case "hangup":
		if f.CallID == "" {
			return nil, f.Ref, fmt.Errorf("%w: callId", ErrMissingField)
		}
		return core.HangupEvent{EventRef: ref, CallID: domain.CallID(f.CallID)}, f.Ref, nil
	case "ping":
		return core.ActivityEvent{EventRef: ref}, f.Ref, nil
	case "bye":
		return core.DisconnectEvent{EventRef: ref}, f.Ref, nil
	case "":
		return nil, f.Ref, fmt.Errorf("%w: type", ErrMissingField)
	default:
		return nil, f.Ref, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
}
