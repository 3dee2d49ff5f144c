package signal

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// checkOrigin accepts requests without an Origin header (non-browser
// clients), same-host requests and origins listed in allowed. Credentials
// ride on cookies, so any other browser origin is refused.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			log.Warn().Str("module", "signal").Str("origin", origin).Msg("malformed origin")
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		if _, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]; ok {
			return true
		}
		log.Warn().Str("module", "signal").Str("origin", origin).Str("host", r.Host).Msg("cross-origin upgrade refused")
		return false
	}
}

func newUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{CheckOrigin: checkOrigin(allowed)}
}
