package app

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/core/coretest"
	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) (*Registry, *Dispatcher) {
	t.Helper()
	reg := NewRegistry()
	return reg, NewDispatcher(reg, SimplePolicy{}, nil)
}

func TestDispatcher_OfflineTargetIsNotAnError(t *testing.T) {
	_, d := newTestDispatcher(t)

	report := d.Deliver([]domain.UserID{"ghost"}, core.EvMessage, map[string]string{"body": "hi"})

	require.Contains(t, report.Targets, domain.UserID("ghost"))
	assert.Zero(t, report.Targets["ghost"].Attempted)
	assert.True(t, report.Offline("ghost"))
	assert.False(t, report.Failed("ghost"))
}

func TestDispatcher_FansOutToEverySession(t *testing.T) {
	reg, d := newTestDispatcher(t)
	a1, a2, b1 := coretest.NewConn(), coretest.NewConn(), coretest.NewConn()
	mustRegister(t, reg, "alice", "a1", a1)
	mustRegister(t, reg, "alice", "a2", a2)
	mustRegister(t, reg, "bob", "b1", b1)

	report := d.Deliver([]domain.UserID{"alice", "bob", "alice"}, core.EvNewConversation, map[string]string{"id": "c1"})

	assert.Len(t, report.Targets, 2)
	attempted, delivered, failed := report.Totals()
	assert.Equal(t, 3, attempted)
	assert.Equal(t, 3, delivered)
	assert.Zero(t, failed)
	for _, c := range []*coretest.Conn{a1, a2, b1} {
		evs := c.Events()
		require.Len(t, evs, 1)
		assert.Equal(t, core.EvNewConversation, evs[0].Type)
		var data map[string]string
		require.NoError(t, json.Unmarshal(evs[0].Data, &data))
		assert.Equal(t, "c1", data["id"])
	}
}

func TestDispatcher_PartialFailureIsCollected(t *testing.T) {
	reg, d := newTestDispatcher(t)
	good, bad := coretest.NewConn(), coretest.NewConn()
	bad.Close()
	mustRegister(t, reg, "alice", "good", good)
	mustRegister(t, reg, "alice", "bad", bad)

	report := d.Deliver([]domain.UserID{"alice"}, core.EvMessage, "x")

	st := report.Targets["alice"]
	assert.Equal(t, 2, st.Attempted)
	assert.Equal(t, 1, st.Delivered)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, []core.SessionID{"good"}, st.DeliveredTo)
	require.Len(t, st.Errors, 1)
	assert.ErrorIs(t, st.Errors[0], core.ErrConnClosed)
	assert.Equal(t, 1, good.Count(core.EvMessage))
}

func TestDispatcher_AllSessionsFailedIsDistinctFromOffline(t *testing.T) {
	reg, d := newTestDispatcher(t)
	bad := coretest.NewConn()
	bad.Fail(errors.New("write failed"))
	mustRegister(t, reg, "alice", "bad", bad)

	report := d.Deliver([]domain.UserID{"alice"}, core.EvMessage, "x")
	assert.False(t, report.Offline("alice"))
	assert.True(t, report.Failed("alice"))
	assert.False(t, bad.Closed(), "non-backpressure failures are left to the transport")
}

func TestDispatcher_BackpressureKicksSession(t *testing.T) {
	reg, d := newTestDispatcher(t)
	slow := coretest.NewConn()
	slow.Fail(core.ErrBackpressure)
	mustRegister(t, reg, "alice", "slow", slow)

	d.Deliver([]domain.UserID{"alice"}, core.EvMessage, "x")
	assert.True(t, slow.Closed())
}

func TestDispatcher_PreservesPerSenderOrder(t *testing.T) {
	reg, d := newTestDispatcher(t)
	c := coretest.NewConn()
	mustRegister(t, reg, "bob", "b1", c)

	d.Deliver([]domain.UserID{"bob"}, core.EvCallOffer, "A")
	d.Deliver([]domain.UserID{"bob"}, core.EvCallCancelled, "B")

	assert.Equal(t, []string{core.EvCallOffer, core.EvCallCancelled}, c.Types())
}

func TestDispatcher_DeliverSessionsSkipsGoneSessions(t *testing.T) {
	reg, d := newTestDispatcher(t)
	b1, b2 := coretest.NewConn(), coretest.NewConn()
	mustRegister(t, reg, "bob", "b1", b1)
	mustRegister(t, reg, "bob", "b2", b2)
	reg.Remove("b2")

	report := d.DeliverSessions([]core.SessionID{"b1", "b2", "nope"}, core.EvCallClosed, "x")
	assert.Equal(t, 1, report.Targets["bob"].Delivered)
	assert.Equal(t, 1, b1.Count(core.EvCallClosed))
	assert.Zero(t, b2.Count(core.EvCallClosed))
}
