package app

import (
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/core/coretest"
	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conns(snaps []core.SessionSnap) []core.SignalConnection {
	out := make([]core.SignalConnection, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.Conn)
	}
	return out
}

func TestRegistry_SessionsForLifecycle(t *testing.T) {
	reg := NewRegistry()
	h1, h2 := coretest.NewConn(), coretest.NewConn()

	mustRegister(t, reg, "alice", "s1", h1)
	mustRegister(t, reg, "alice", "s2", h2)
	assert.ElementsMatch(t, []core.SignalConnection{h1, h2}, conns(reg.SessionsFor("alice")))

	owner, pruned := reg.Remove("s1")
	assert.Equal(t, domain.UserID("alice"), owner)
	assert.False(t, pruned)
	assert.ElementsMatch(t, []core.SignalConnection{h2}, conns(reg.SessionsFor("alice")))

	_, pruned = reg.Remove("s2")
	assert.True(t, pruned)
	assert.Empty(t, reg.SessionsFor("alice"))
	assert.False(t, reg.Online("alice"))

	sessions, users := reg.Count()
	assert.Zero(t, sessions)
	assert.Zero(t, users)
	require.NoError(t, reg.Check())
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	mustRegister(t, reg, "alice", "s1", coretest.NewConn())
	mustRegister(t, reg, "bob", "s2", coretest.NewConn())

	reg.Remove("s1")
	s1, u1 := reg.Count()

	owner, pruned := reg.Remove("s1")
	assert.Empty(t, owner)
	assert.False(t, pruned)
	s2, u2 := reg.Count()
	assert.Equal(t, s1, s2)
	assert.Equal(t, u1, u2)

	owner, _ = reg.Remove("never-registered")
	assert.Empty(t, owner)
	require.NoError(t, reg.Check())
}

func mustRegister(t *testing.T, reg *Registry, uid domain.UserID, sid core.SessionID, conn core.SignalConnection) {
	t.Helper()
	_, err := reg.Register(uid, sid, conn)
	require.NoError(t, err)
}

func TestRegistry_RegisterReportsFirstSession(t *testing.T) {
	reg := NewRegistry()

	first, err := reg.Register("alice", "s1", coretest.NewConn())
	require.NoError(t, err)
	assert.True(t, first)

	first, err = reg.Register("alice", "s2", coretest.NewConn())
	require.NoError(t, err)
	assert.False(t, first)

	first, err = reg.Register("alice", "s1", coretest.NewConn())
	require.NoError(t, err)
	assert.False(t, first, "handle swap is not a new session")

	reg.Remove("s1")
	_, pruned := reg.Remove("s2")
	require.True(t, pruned)

	first, err = reg.Register("alice", "s3", coretest.NewConn())
	require.NoError(t, err)
	assert.True(t, first)
}

func TestRegistry_DuplicateSessionFailsLoudly(t *testing.T) {
	reg := NewRegistry()
	h := coretest.NewConn()
	mustRegister(t, reg, "alice", "s1", h)

	_, err := reg.Register("mallory", "s1", coretest.NewConn())
	require.ErrorIs(t, err, ErrDuplicateSession)

	snap, ok := reg.Get("s1")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("alice"), snap.Owner)
	assert.Same(t, h, snap.Conn.(*coretest.Conn))
	assert.False(t, reg.Online("mallory"))
	require.NoError(t, reg.Check())
}

func TestRegistry_ReRegisterSameOwnerSwapsHandle(t *testing.T) {
	reg := NewRegistry()
	mustRegister(t, reg, "alice", "s1", coretest.NewConn())
	h := coretest.NewConn()
	mustRegister(t, reg, "alice", "s1", h)

	snaps := reg.SessionsFor("alice")
	require.Len(t, snaps, 1)
	assert.Same(t, h, snaps[0].Conn.(*coretest.Conn))
}

func TestRegistry_TouchIgnoresStaleAndForeign(t *testing.T) {
	reg := NewRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	reg.now = func() time.Time { return now }

	mustRegister(t, reg, "alice", "s1", coretest.NewConn())

	now = base.Add(time.Minute)
	reg.Touch("alice", "s1")
	snap, _ := reg.Get("s1")
	assert.Equal(t, base.Add(time.Minute), snap.LastActivity)

	now = base.Add(2 * time.Minute)
	reg.Touch("bob", "s1")
	snap, _ = reg.Get("s1")
	assert.Equal(t, base.Add(time.Minute), snap.LastActivity, "foreign touch must not update")

	now = base.Add(30 * time.Second)
	reg.Touch("alice", "s1")
	snap, _ = reg.Get("s1")
	assert.Equal(t, base.Add(time.Minute), snap.LastActivity, "activity never moves backwards")

	reg.Remove("s1")
	reg.Touch("alice", "s1")
	_, ok := reg.Get("s1")
	assert.False(t, ok, "touch after remove must not resurrect")
	assert.False(t, reg.Online("alice"))
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	reg := NewRegistry()
	mustRegister(t, reg, "alice", "s1", coretest.NewConn())
	snaps := reg.SessionsFor("alice")
	reg.Remove("s1")
	assert.Len(t, snaps, 1)
}

func TestRegistry_SessionsForMany(t *testing.T) {
	reg := NewRegistry()
	mustRegister(t, reg, "alice", "a1", coretest.NewConn())
	mustRegister(t, reg, "alice", "a2", coretest.NewConn())
	mustRegister(t, reg, "bob", "b1", coretest.NewConn())

	got := reg.SessionsForMany([]domain.UserID{"alice", "bob", "carol"})
	assert.Len(t, got["alice"], 2)
	assert.Len(t, got["bob"], 1)
	v, ok := got["carol"]
	assert.True(t, ok)
	assert.Empty(t, v)
}

func TestRegistry_LookupAndIdle(t *testing.T) {
	reg := NewRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	reg.now = func() time.Time { return now }

	mustRegister(t, reg, "alice", "a1", coretest.NewConn())
	now = base.Add(time.Minute)
	mustRegister(t, reg, "bob", "b1", coretest.NewConn())

	live := reg.Lookup([]core.SessionID{"a1", "gone", "b1"})
	assert.Len(t, live, 2)

	idle := reg.IdleSince(base.Add(30 * time.Second))
	require.Len(t, idle, 1)
	assert.Equal(t, core.SessionID("a1"), idle[0].SID)
}

func TestRegistry_ConcurrentStressStaysConsistent(t *testing.T) {
	reg := NewRegistry()
	const workers = 16
	const perWorker = 200

	var wg conc.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Go(func() {
			for i := 0; i < perWorker; i++ {
				uid := domain.UserID(fmt.Sprintf("user-%d", i%7))
				sid := core.SessionID(fmt.Sprintf("w%d-s%d", w, i))
				if _, err := reg.Register(uid, sid, coretest.NewConn()); err != nil {
					t.Errorf("register %s: %v", sid, err)
					return
				}
				reg.Touch(uid, sid)
				_ = reg.SessionsForMany([]domain.UserID{uid, "user-0"})
				if i%3 != 0 {
					reg.Remove(sid)
					reg.Remove(sid)
				}
			}
		})
	}
	wg.Wait()

	require.NoError(t, reg.Check())
	sessions, _ := reg.Count()
	kept := 0
	for i := 0; i < perWorker; i++ {
		if i%3 == 0 {
			kept++
		}
	}
	assert.Equal(t, workers*kept, sessions)
}
