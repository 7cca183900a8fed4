package metrics

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New()
	require.NotNil(t, m.Registry)

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	// unlabelled gauges and counters are exported before first use
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"bustracker_db_connections_open",
		"bustracker_active_sharing_sessions",
		"bustracker_hub_observers",
		"bustracker_nats_connected",
	} {
		assert.True(t, names[want], want)
	}
	assert.Nil(t, NewWithLogger(nil).logger)
}

func openStatsDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDBStatsCollector(t *testing.T) {
	t.Run("nil database is ignored", func(t *testing.T) {
		m := New()
		m.StartDBStatsCollector(nil, time.Second)
		assert.False(t, m.collectorStarted.Load())
		m.Shutdown()
	})

	t.Run("copies pool stats", func(t *testing.T) {
		m := New()
		m.StartDBStatsCollector(openStatsDB(t), 10*time.Millisecond)
		defer m.Shutdown()

		assert.Eventually(t, func() bool {
			return testutil.ToFloat64(m.DBConnectionsOpen) >= 1
		}, time.Second, 10*time.Millisecond)
		assert.GreaterOrEqual(t, testutil.ToFloat64(m.DBConnectionsIdle), float64(0))
	})

	t.Run("second start is a no-op and shutdown waits", func(t *testing.T) {
		db := openStatsDB(t)
		m := New()
		m.StartDBStatsCollector(db, 10*time.Millisecond)
		m.StartDBStatsCollector(db, 10*time.Millisecond)
		assert.True(t, m.collectorStarted.Load())

		done := make(chan struct{})
		go func() {
			m.Shutdown()
			m.Shutdown()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("collector did not stop")
		}
	})
}

func TestHTTPMetrics_RecordRequest(t *testing.T) {
	m := New()

	m.HTTPRequestsTotal.WithLabelValues("GET", "GET /api/locations", "200").Inc()
	m.HTTPRequestDuration.WithLabelValues("GET", "GET /api/locations").Observe(0.5)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "GET /api/locations", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.HTTPRequestDuration))
}

func TestTrackingMetrics_Registered(t *testing.T) {
	m := New()

	m.PositionReportsTotal.WithLabelValues("accepted").Inc()
	m.PositionReportsTotal.WithLabelValues("accepted").Inc()
	m.ActiveSessions.Inc()
	m.HubEventsTotal.WithLabelValues("locationUpdate").Inc()
	m.DeliveryFailuresTotal.Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PositionReportsTotal.WithLabelValues("accepted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveSessions))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "bustracker_position_reports_total")
	assert.Contains(t, names, "bustracker_hub_events_total")
	assert.Contains(t, names, "bustracker_hub_delivery_failures_total")
}

func TestNATSRelayMetrics(t *testing.T) {
	m := New()

	m.NATSSetConnected(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NATSConnected))
	m.NATSSetConnected(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.NATSConnected))

	m.NATSPublishedInc()
	m.NATSPublishedInc()
	m.NATSPublishErrInc()
	m.PublishObserve(2 * time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.NATSPublishedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NATSErrorsTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(m.NATSPublishLatency))
}
