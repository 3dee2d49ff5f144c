package rtc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const audioOffer = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

const videoOffer = audioOffer +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:96 VP8/90000\r\n"

func TestParseOffer(t *testing.T) {
	desc, err := ParseOffer(audioOffer)
	require.NoError(t, err)
	assert.Equal(t, "audio", MediaKind(desc))

	desc, err = ParseOffer(videoOffer)
	require.NoError(t, err)
	assert.Equal(t, "video", MediaKind(desc))
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := ParseAnswer("")
	assert.ErrorIs(t, err, ErrEmptySDP)

	_, err = ParseAnswer("hello there")
	assert.ErrorIs(t, err, ErrInvalidSDP)

	_, err = ParseOffer(strings.Repeat("a", MaxSDPLen+1))
	assert.ErrorIs(t, err, ErrSDPTooLarge)

	noMedia := "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"
	_, err = ParseOffer(noMedia)
	assert.ErrorIs(t, err, ErrNoMedia)
}

func TestICEConfigDefaults(t *testing.T) {
	cfg := ICEConfig(nil)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)

	cfg = ICEConfig([]string{"turn:turn.example.com:3478"})
	assert.Equal(t, []string{"turn:turn.example.com:3478"}, cfg.ICEServers[0].URLs)
}
