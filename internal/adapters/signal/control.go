package signal

import (
	"errors"

	"github.com/dkeye/Dialogue/internal/app"
	"github.com/dkeye/Dialogue/internal/app/orch"
	"github.com/dkeye/Dialogue/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Ack answers a client event carrying ref.
type Ack struct {
	Ref    string `json:"ref,omitempty"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

type hello struct {
	SessionID  core.SessionID     `json:"sessionId"`
	User       string             `json:"user"`
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

func (ctl *SignalWSController) sendHello(sess orch.Session, c *WsSignalConn) {
	ctl.send(c, "hello", hello{
		SessionID:  sess.SID,
		User:       string(sess.UID),
		ICEServers: ctl.ICE.ICEServers,
	})
}

func (ctl *SignalWSController) handlePing(c *WsSignalConn, ev core.InboundEvent) {
	ctl.send(c, "pong", Ack{Ref: ev.Ref(), OK: true})
}

func (ctl *SignalWSController) sendAck(c *WsSignalConn, ref string, result any, err error) {
	ack := Ack{Ref: ref, OK: err == nil, Result: result}
	if err != nil {
		ack.Error = orch.ErrorCode(err)
		ack.Result = nil
	}
	ctl.send(c, core.EvAck, ack)
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, ref string, err error) {
	code := "bad_frame"
	if errors.Is(err, ErrUnknownType) {
		code = "unknown_type"
	}
	ctl.send(c, core.EvError, Ack{Ref: ref, OK: false, Error: code})
}

// send replies on the originating connection only.
func (ctl *SignalWSController) send(c *WsSignalConn, event string, v any) {
	f, err := app.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	if err := c.TrySend(f); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("event", event).Msg("reply dropped")
	}
}
