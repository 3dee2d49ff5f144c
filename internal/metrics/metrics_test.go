package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetPresence(1, 1)
		m.Delivered("message", 1, 1)
		m.CallFinished("answered")
		m.Inbound("offer")
		m.PresenceChanged(true)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SetPresence(3, 2)
	m.Delivered("call-offer", 2, 1)
	m.CallFinished("timed_out")
	m.PresenceChanged(false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, "dialogue_sessions_active 3")
	assert.Contains(t, out, "dialogue_users_online 2")
	assert.Contains(t, out, `dialogue_deliveries_total{event="call-offer",result="failed"} 1`)
	assert.Contains(t, out, `dialogue_calls_total{outcome="timed_out"} 1`)
	assert.Contains(t, out, `dialogue_presence_changes_total{state="offline"} 1`)
}
