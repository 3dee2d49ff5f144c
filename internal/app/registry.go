package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrDuplicateSession = errors.New("session already registered to another user")

type sessionEntry struct {
	owner        domain.UserID
	conn         core.SignalConnection
	connectedAt  time.Time
	lastActivity time.Time
}

func (e *sessionEntry) snap(sid core.SessionID) core.SessionSnap {
	return core.SessionSnap{
		SID:          sid,
		Owner:        e.owner,
		Conn:         e.conn,
		ConnectedAt:  e.connectedAt,
		LastActivity: e.lastActivity,
	}
}

// Registry tracks live connections per user. Both maps are guarded by mu
// and are mutually consistent whenever mu is not held.
// No method performs I/O while holding mu.
type Registry struct {
	mu       sync.RWMutex
	users    map[domain.UserID]map[core.SessionID]struct{}
	sessions map[core.SessionID]*sessionEntry

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		users:    make(map[domain.UserID]map[core.SessionID]struct{}),
		sessions: make(map[core.SessionID]*sessionEntry),
		now:      time.Now,
	}
}

// Register binds sid to uid. Registering an sid owned by another user fails
// with ErrDuplicateSession and leaves the registry untouched; re-registering
// with the same owner swaps the connection handle. first reports that uid had
// no session before this one, decided under the same lock as the insert.
func (r *Registry) Register(uid domain.UserID, sid core.SessionID, conn core.SignalConnection) (first bool, err error) {
	now := r.now()
	r.mu.Lock()
	if e, ok := r.sessions[sid]; ok {
		owner := e.owner
		if owner != uid {
			r.mu.Unlock()
			log.Error().Str("module", "app.registry").Str("sid", string(sid)).
				Str("owner", string(owner)).Str("user", string(uid)).Msg("duplicate session id")
			return false, fmt.Errorf("%w: sid=%s owner=%s", ErrDuplicateSession, sid, owner)
		}
		e.conn = conn
		e.lastActivity = maxTime(e.lastActivity, now)
		r.mu.Unlock()
		log.Warn().Str("module", "app.registry").Str("sid", string(sid)).Msg("session re-registered")
		return false, nil
	}

	set, ok := r.users[uid]
	if !ok {
		set = make(map[core.SessionID]struct{})
		r.users[uid] = set
	}
	first = len(set) == 0
	set[sid] = struct{}{}
	r.sessions[sid] = &sessionEntry{owner: uid, conn: conn, connectedAt: now, lastActivity: now}
	n := len(set)
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(uid)).
		Int("user_sessions", n).Msg("registered session")
	return first, nil
}

// Remove drops sid and prunes its owner when no sessions remain. Removing an
// unknown sid is a no-op. pruned reports whether the owner went offline.
func (r *Registry) Remove(sid core.SessionID) (owner domain.UserID, pruned bool) {
	r.mu.Lock()
	e, ok := r.sessions[sid]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.sessions, sid)
	owner = e.owner
	if set, ok := r.users[owner]; ok {
		delete(set, sid)
		if len(set) == 0 {
			delete(r.users, owner)
			pruned = true
		}
	}
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(owner)).
		Bool("offline", pruned).Msg("removed session")
	return owner, pruned
}

// Touch records inbound activity. Unknown sessions and sessions owned by a
// different user are ignored so a late ping cannot resurrect state.
func (r *Registry) Touch(uid domain.UserID, sid core.SessionID) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.owner != uid {
		return
	}
	e.lastActivity = maxTime(e.lastActivity, now)
}

func (r *Registry) Get(sid core.SessionID) (core.SessionSnap, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return core.SessionSnap{}, false
	}
	return e.snap(sid), true
}

// SessionsFor returns a copy of uid's live sessions.
func (r *Registry) SessionsFor(uid domain.UserID) []core.SessionSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionsForLocked(uid)
}

// SessionsForMany resolves every uid under a single read lock so no user's
// set is observed half-updated. Users without sessions map to an empty slice.
func (r *Registry) SessionsForMany(uids []domain.UserID) map[domain.UserID][]core.SessionSnap {
	out := make(map[domain.UserID][]core.SessionSnap, len(uids))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, uid := range uids {
		out[uid] = r.sessionsForLocked(uid)
	}
	return out
}

func (r *Registry) sessionsForLocked(uid domain.UserID) []core.SessionSnap {
	set := r.users[uid]
	out := make([]core.SessionSnap, 0, len(set))
	for sid := range set {
		out = append(out, r.sessions[sid].snap(sid))
	}
	return out
}

// Lookup returns the subset of sids that are still registered.
func (r *Registry) Lookup(sids []core.SessionID) []core.SessionSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SessionSnap, 0, len(sids))
	for _, sid := range sids {
		if e, ok := r.sessions[sid]; ok {
			out = append(out, e.snap(sid))
		}
	}
	return out
}

func (r *Registry) Online(uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[uid]) > 0
}

// Count returns the number of live sessions and online users.
func (r *Registry) Count() (sessions, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.users)
}

// IdleSince returns sessions whose last activity is before cutoff.
func (r *Registry) IdleSince(cutoff time.Time) []core.SessionSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.SessionSnap
	for sid, e := range r.sessions {
		if e.lastActivity.Before(cutoff) {
			out = append(out, e.snap(sid))
		}
	}
	return out
}

// Check scans the full state and reports the first inconsistency between
// the user index and the session index.
func (r *Registry) Check() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	indexed := 0
	for uid, set := range r.users {
		if len(set) == 0 {
			return fmt.Errorf("user %s has an empty session set", uid)
		}
		for sid := range set {
			e, ok := r.sessions[sid]
			if !ok {
				return fmt.Errorf("user %s lists unknown session %s", uid, sid)
			}
			if e.owner != uid {
				return fmt.Errorf("session %s listed under %s but owned by %s", sid, uid, e.owner)
			}
			indexed++
		}
	}
	if indexed != len(r.sessions) {
		for sid, e := range r.sessions {
			if _, ok := r.users[e.owner][sid]; !ok {
				return fmt.Errorf("session %s owned by %s is orphaned", sid, e.owner)
			}
		}
	}
	return nil
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
