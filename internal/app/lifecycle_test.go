package app

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/core/coretest"
	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cancelRecorder struct {
	mu   sync.Mutex
	sids []core.SessionID
}

func (c *cancelRecorder) CallerDisconnected(sid core.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sids = append(c.sids, sid)
}

type presenceLog struct {
	mu     sync.Mutex
	events []string
}

func (p *presenceLog) record(uid domain.UserID, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := "offline"
	if online {
		state = "online"
	}
	p.events = append(p.events, string(uid)+":"+state)
}

func newTestLifecycle() (*Lifecycle, *cancelRecorder, *presenceLog) {
	calls := &cancelRecorder{}
	pres := &presenceLog{}
	return &Lifecycle{Registry: NewRegistry(), Calls: calls, OnPresence: pres.record}, calls, pres
}

func TestLifecycle_ReleaseRunsOnce(t *testing.T) {
	l, calls, pres := newTestLifecycle()

	release, err := l.Connected("alice", "s1", coretest.NewConn())
	require.NoError(t, err)
	assert.True(t, l.Registry.Online("alice"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release()
		}()
	}
	wg.Wait()
	l.Disconnected("s1")

	assert.False(t, l.Registry.Online("alice"))
	assert.Equal(t, []core.SessionID{"s1"}, calls.sids)
	assert.Equal(t, []string{"alice:online", "alice:offline"}, pres.events)
}

func TestLifecycle_ClosedDuringRegistrationLeavesNoOrphan(t *testing.T) {
	l, _, _ := newTestLifecycle()
	conn := coretest.NewConn()
	conn.Close()

	release, err := l.Connected("alice", "s1", conn)
	require.ErrorIs(t, err, ErrConnectionClosed)
	release()

	_, ok := l.Registry.Get("s1")
	assert.False(t, ok)
	require.NoError(t, l.Registry.Check())
}

func TestLifecycle_DuplicateSessionIsRejected(t *testing.T) {
	l, _, _ := newTestLifecycle()
	_, err := l.Connected("alice", "s1", coretest.NewConn())
	require.NoError(t, err)

	release, err := l.Connected("bob", "s1", coretest.NewConn())
	require.ErrorIs(t, err, ErrDuplicateSession)
	release()

	snap, ok := l.Registry.Get("s1")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("alice"), snap.Owner)
}

func TestLifecycle_PresenceOnlyOnFirstAndLastSession(t *testing.T) {
	l, _, pres := newTestLifecycle()
	r1, err := l.Connected("alice", "s1", coretest.NewConn())
	require.NoError(t, err)
	r2, err := l.Connected("alice", "s2", coretest.NewConn())
	require.NoError(t, err)

	r1()
	assert.Equal(t, []string{"alice:online"}, pres.events)
	r2()
	assert.Equal(t, []string{"alice:online", "alice:offline"}, pres.events)
}

func TestLifecycle_PresenceEndsOnRealStateUnderChurn(t *testing.T) {
	l, _, pres := newTestLifecycle()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sid := core.SessionID(fmt.Sprintf("w%d-%d", w, i))
				release, err := l.Connected("alice", sid, coretest.NewConn())
				if err != nil {
					t.Errorf("connect %s: %v", sid, err)
					return
				}
				if w%2 == 0 || i < 199 {
					release()
				}
			}
		}()
	}
	wg.Wait()

	pres.mu.Lock()
	events := append([]string(nil), pres.events...)
	pres.mu.Unlock()

	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		require.NotEqual(t, events[i-1], events[i], "presence must alternate, event %d", i)
	}
	assert.Equal(t, "alice:online", events[0])
	assert.True(t, l.Registry.Online("alice"))
	assert.Equal(t, "alice:online", events[len(events)-1])
}

func TestLifecycle_PresenceHookPanicIsContained(t *testing.T) {
	l := &Lifecycle{Registry: NewRegistry(), OnPresence: func(domain.UserID, bool) { panic("boom") }}
	assert.NotPanics(t, func() {
		release, err := l.Connected("alice", "s1", coretest.NewConn())
		require.NoError(t, err)
		release()
	})
}

func TestLifecycle_ReapClosesIdleSessions(t *testing.T) {
	l, _, _ := newTestLifecycle()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	l.Registry.now = func() time.Time { return now }

	idle, busy := coretest.NewConn(), coretest.NewConn()
	_, err := l.Connected("alice", "idle", idle)
	require.NoError(t, err)
	_, err = l.Connected("bob", "busy", busy)
	require.NoError(t, err)

	now = base.Add(2 * time.Minute)
	l.Registry.Touch("bob", "busy")

	n := l.reapOnce(base.Add(time.Minute))
	assert.Equal(t, 1, n)
	assert.True(t, idle.Closed())
	assert.False(t, busy.Closed())
}
