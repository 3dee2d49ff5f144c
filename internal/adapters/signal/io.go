package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Dialogue/internal/app/orch"
	"github.com/dkeye/Dialogue/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) pingPeriod() time.Duration {
	if ctl.PingPeriod <= 0 {
		return 54 * time.Second
	}
	return ctl.PingPeriod
}

// pongWait must exceed the ping period so one lost pong is tolerated.
func (ctl *SignalWSController) pongWait() time.Duration {
	return ctl.pingPeriod() * 10 / 9
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump owns the session: when it returns the session is released and
// the connection closed, exactly once.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sess orch.Session, c *WsSignalConn, release func()) {
	logger := log.With().Str("module", "signal").Str("sid", string(sess.SID)).Logger()
	defer func() {
		logger.Info().Msg("readPump closing")
		release()
		cancel()
		c.Close()
	}()

	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		ctl.Orch.Registry.Touch(sess.UID, sess.SID)
		return c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))

		ev, ref, err := Decode(data)
		if err != nil {
			logger.Warn().Err(err).Msg("bad frame")
			ctl.sendError(c, ref, err)
			continue
		}
		if ctl.handleSignal(ctx, sess, c, ev) {
			return
		}
	}
}

// handleSignal runs one event and acks it. It reports whether the client
// asked to end the session.
func (ctl *SignalWSController) handleSignal(ctx context.Context, sess orch.Session, c *WsSignalConn, ev core.InboundEvent) (bye bool) {
	result, err := ctl.Orch.Handle(ctx, sess, ev)
	switch ev.(type) {
	case core.ActivityEvent:
		ctl.handlePing(c, ev)
		return false
	case core.DisconnectEvent:
		return true
	}
	if err != nil {
		lvl := log.Warn()
		if errors.Is(err, core.ErrPersistence) {
			lvl = log.Error()
		}
		lvl.Err(err).Str("module", "signal").Str("sid", string(sess.SID)).Str("ref", ev.Ref()).Msg("event failed")
	}
	ctl.sendAck(c, ev.Ref(), result, err)
	return false
}
