package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Dialogue/internal/app/orch"
	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// UserKey is the gin context key holding the authenticated domain.UserID.
const UserKey = "user_id"

type SignalWSController struct {
	Orch       *orch.Orchestrator
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	ICE        webrtc.Configuration
	// AllowedOrigins lists browser origins besides the serving host that may
	// open a socket, e.g. "https://app.example.com".
	AllowedOrigins []string

	upgraderOnce sync.Once
	upgrader     *websocket.Upgrader
}

// WsSignalConn implements core.SignalConnection over a websocket. Frames are
// queued on send and written by a single writePump goroutine.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	if buffer <= 0 {
		buffer = 32
	}
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buffer),
		done: make(chan struct{}),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *WsSignalConn) Done() <-chan struct{} { return c.done }

// HandleSignal upgrades an authenticated request and runs the connection
// until either side closes it.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	uid, ok := c.Get(UserKey)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	sess := orch.Session{UID: uid.(domain.UserID), SID: core.SessionID(uuid.NewString())}
	logger := log.With().Str("module", "signal").Str("sid", string(sess.SID)).Str("user", string(sess.UID)).Logger()

	ctl.upgraderOnce.Do(func() { ctl.upgrader = newUpgrader(ctl.AllowedOrigins) })
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	conn := newWsSignalConn(ws, ctl.SendBuffer)

	release, err := ctl.Orch.Connect(sess.UID, sess.SID, conn)
	if err != nil {
		logger.Error().Err(err).Msg("register connection")
		conn.Close()
		return
	}
	logger.Info().Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	ctl.sendHello(sess, conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sess, conn, release)
}
