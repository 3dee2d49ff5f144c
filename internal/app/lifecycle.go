package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/dkeye/Dialogue/internal/metrics"
	"github.com/rs/zerolog/log"
)

var ErrConnectionClosed = errors.New("connection closed before registration completed")

// CallCanceller aborts pending calls that a disconnecting session started.
type CallCanceller interface {
	CallerDisconnected(sid core.SessionID)
}

// PresenceFunc observes online/offline transitions. It is best-effort, runs
// under the lifecycle presence lock and must not block.
type PresenceFunc func(uid domain.UserID, online bool)

type Lifecycle struct {
	Registry   *Registry
	Calls      CallCanceller
	OnPresence PresenceFunc
	Metrics    *metrics.Metrics

	presenceMu sync.Mutex
	// announced holds users last reported online.
	announced map[domain.UserID]bool
}

// Connected registers the session and returns its release func. release is
// safe to call any number of times from any goroutine; only the first call
// has effect. If the transport closed the connection while registration was
// in flight, the session is released before returning ErrConnectionClosed.
func (l *Lifecycle) Connected(uid domain.UserID, sid core.SessionID, conn core.SignalConnection) (release func(), err error) {
	first, err := l.Registry.Register(uid, sid, conn)
	if err != nil {
		return func() {}, err
	}

	var once sync.Once
	release = func() {
		once.Do(func() { l.disconnected(sid) })
	}

	select {
	case <-conn.Done():
		log.Warn().Str("module", "app.lifecycle").Str("sid", string(sid)).Msg("connection closed during registration")
		release()
		return release, ErrConnectionClosed
	default:
	}

	l.publishCounts()
	if first {
		l.presence(uid)
	}
	return release, nil
}

// Disconnected is the termination path for callers that do not hold the
// release func. Duplicate calls are harmless because Remove is idempotent.
func (l *Lifecycle) Disconnected(sid core.SessionID) { l.disconnected(sid) }

func (l *Lifecycle) disconnected(sid core.SessionID) {
	owner, pruned := l.Registry.Remove(sid)
	if owner == "" {
		return
	}
	if l.Calls != nil {
		l.Calls.CallerDisconnected(sid)
	}
	l.publishCounts()
	if pruned {
		l.presence(owner)
	}
}

// presence reports the user's current state, not the transition that
// triggered the call. Reports are serialized and repeats are dropped, so
// racing connects and disconnects always end on the real state.
func (l *Lifecycle) presence(uid domain.UserID) {
	l.presenceMu.Lock()
	defer l.presenceMu.Unlock()

	online := l.Registry.Online(uid)
	if l.announced[uid] == online {
		return
	}
	if online {
		if l.announced == nil {
			l.announced = make(map[domain.UserID]bool)
		}
		l.announced[uid] = true
	} else {
		delete(l.announced, uid)
	}

	log.Info().Str("module", "app.lifecycle").Str("user", string(uid)).Bool("online", online).Msg("presence changed")
	if l.OnPresence == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "app.lifecycle").Interface("panic", r).Msg("presence hook panicked")
		}
	}()
	l.OnPresence(uid, online)
}

func (l *Lifecycle) publishCounts() {
	sessions, users := l.Registry.Count()
	l.Metrics.SetPresence(sessions, users)
}

// Reap closes connections idle for longer than idleTimeout, checking every
// interval until ctx is done. Closed connections are released by their own
// read loops.
func (l *Lifecycle) Reap(ctx context.Context, interval, idleTimeout time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.reapOnce(now.Add(-idleTimeout))
		}
	}
}

func (l *Lifecycle) reapOnce(cutoff time.Time) int {
	idle := l.Registry.IdleSince(cutoff)
	for _, snap := range idle {
		log.Info().Str("module", "app.lifecycle").Str("sid", string(snap.SID)).
			Time("last_activity", snap.LastActivity).Msg("closing idle session")
		snap.Conn.Close()
	}
	return len(idle)
}
