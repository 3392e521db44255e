package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.EventPublished("FileCreated")
		m.EventDropped()
		m.SessionOpened()
		m.SessionClosed()
		m.SetLocksHeld(3)
		m.WatcherEvent(OutcomeEmitted)
		m.Commit(OutcomeCommitted)
	})
	assert.NotNil(t, m.Handler())
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.EventPublished("FileModified")
	m.EventPublished("FileModified")
	m.EventDropped()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.SetLocksHeld(4)
	m.Commit(OutcomeNoChanges)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsPublished.WithLabelValues("FileModified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.locksHeld))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues(OutcomeNoChanges)))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.WatcherEvent(OutcomeSuppressed)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ironpad_watcher_events_total{outcome="suppressed"} 1`)
}
