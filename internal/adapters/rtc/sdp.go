// Package rtc validates the session descriptions relayed during call
// signaling. Media itself never passes through this server.
package rtc

import (
	"errors"
	"fmt"

	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

const MaxSDPLen = 64 * 1024

var (
	ErrEmptySDP    = errors.New("empty session description")
	ErrSDPTooLarge = errors.New("session description too large")
	ErrInvalidSDP  = errors.New("invalid session description")
	ErrNoMedia     = errors.New("session description has no media sections")
)

func ParseOffer(raw string) (*sdp.SessionDescription, error) {
	return parse(webrtc.SDPTypeOffer, raw)
}

func ParseAnswer(raw string) (*sdp.SessionDescription, error) {
	return parse(webrtc.SDPTypeAnswer, raw)
}

func parse(typ webrtc.SDPType, raw string) (*sdp.SessionDescription, error) {
	if raw == "" {
		return nil, ErrEmptySDP
	}
	if len(raw) > MaxSDPLen {
		return nil, ErrSDPTooLarge
	}
	desc := webrtc.SessionDescription{Type: typ, SDP: raw}
	parsed, err := desc.Unmarshal()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSDP, typ, err)
	}
	if len(parsed.MediaDescriptions) == 0 {
		return nil, ErrNoMedia
	}
	return parsed, nil
}

// MediaKind reports video when any video section is present, else audio.
func MediaKind(desc *sdp.SessionDescription) string {
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == domain.MediaVideo {
			return domain.MediaVideo
		}
	}
	return domain.MediaAudio
}

// ICEConfig builds the configuration handed to clients so both peers use the
// same STUN/TURN servers.
func ICEConfig(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		urls = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}
