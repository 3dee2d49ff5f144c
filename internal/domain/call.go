package domain

type CallID string

type CallState int

const (
	CallOfferSent CallState = iota
	CallAnswered
	CallRejected
	CallTimedOut
	CallCancelled
	CallUnreachable
)

func (s CallState) String() string {
	switch s {
	case CallOfferSent:
		return "offer_sent"
	case CallAnswered:
		return "answered"
	case CallRejected:
		return "rejected"
	case CallTimedOut:
		return "timed_out"
	case CallCancelled:
		return "cancelled"
	case CallUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further signal can change the call.
func (s CallState) Terminal() bool { return s != CallOfferSent }

// Media kinds a caller may request; only carried through to the callee.
const (
	MediaAudio = "audio"
	MediaVideo = "video"
)
