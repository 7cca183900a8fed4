// Package metrics provides Prometheus metrics for the bus tracker.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	// Tracking metrics
	PositionReportsTotal *prometheus.CounterVec
	SharingSessionsTotal *prometheus.CounterVec
	ActiveSessions       prometheus.Gauge
	ETAComputeDuration   prometheus.Histogram
	ETAConfidenceTotal   *prometheus.CounterVec

	// Hub metrics
	Observers             prometheus.Gauge
	HubEventsTotal        *prometheus.CounterVec
	DeliveryFailuresTotal prometheus.Counter
	RelayFailuresTotal    *prometheus.CounterVec

	// NATS relay metrics
	NATSConnected      prometheus.Gauge
	NATSPublishedTotal prometheus.Counter
	NATSErrorsTotal    prometheus.Counter
	NATSPublishLatency prometheus.Histogram

	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and registers all application metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bustracker_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bustracker_http_request_duration_seconds",
				Help:    "HTTP request latency distribution",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_db_connections_in_use",
			Help: "Number of database connections currently in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBWaitSecondsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_db_wait_seconds_total",
			Help: "Total time blocked waiting for a database connection",
		}),
		PositionReportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bustracker_position_reports_total",
				Help: "Driver position reports by outcome",
			},
			[]string{"result"},
		),
		SharingSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bustracker_sharing_sessions_total",
				Help: "Location sharing session transitions",
			},
			[]string{"action"},
		),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_active_sharing_sessions",
			Help: "Buses currently sharing their location",
		}),
		ETAComputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bustracker_eta_compute_duration_seconds",
			Help:    "Time spent deriving next stop and ETA for one report",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		ETAConfidenceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bustracker_eta_estimates_total",
				Help: "ETA estimates by confidence",
			},
			[]string{"confidence"},
		),
		Observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_hub_observers",
			Help: "Observers currently registered with the hub",
		}),
		HubEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bustracker_hub_events_total",
				Help: "Events published through the hub",
			},
			[]string{"event"},
		),
		DeliveryFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_hub_delivery_failures_total",
			Help: "Observers dropped after a failed send",
		}),
		RelayFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bustracker_relay_failures_total",
				Help: "Events a relay failed to forward",
			},
			[]string{"relay"},
		),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_nats_connected",
			Help: "1 when the NATS relay is connected",
		}),
		NATSPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_nats_published_total",
			Help: "Events published to NATS",
		}),
		NATSErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_nats_publish_errors_total",
			Help: "NATS publish errors",
		}),
		NATSPublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bustracker_nats_publish_duration_seconds",
			Help:    "Time spent handing one event to the NATS client",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		}),
		logger: logger,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitSecondsTotal,
		m.PositionReportsTotal,
		m.SharingSessionsTotal,
		m.ActiveSessions,
		m.ETAComputeDuration,
		m.ETAConfidenceTotal,
		m.Observers,
		m.HubEventsTotal,
		m.DeliveryFailuresTotal,
		m.RelayFailuresTotal,
		m.NATSConnected,
		m.NATSPublishedTotal,
		m.NATSErrorsTotal,
		m.NATSPublishLatency,
	)

	return m
}

func (m *Metrics) NATSPublishedInc()  { m.NATSPublishedTotal.Inc() }
func (m *Metrics) NATSPublishErrInc() { m.NATSErrorsTotal.Inc() }

func (m *Metrics) PublishObserve(d time.Duration) { m.NATSPublishLatency.Observe(d.Seconds()) }

func (m *Metrics) NATSSetConnected(connected bool) {
	if connected {
		m.NATSConnected.Set(1)
		return
	}
	m.NATSConnected.Set(0)
}

// StartDBStatsCollector starts a goroutine that periodically copies the
// database pool statistics into the DB gauges. Calling it more than once has
// no effect. Call Shutdown to stop the collector.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}

	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	var lastWaitDuration time.Duration

	// Add to WaitGroup before exposing cancel to avoid racing Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				if m.logger != nil {
					m.logger.Error("panic in DB stats collector", "error", r)
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
				m.DBConnectionsInUse.Set(float64(stats.InUse))
				m.DBConnectionsIdle.Set(float64(stats.Idle))

				waitDelta := stats.WaitDuration - lastWaitDuration
				if waitDelta > 0 {
					m.DBWaitSecondsTotal.Add(waitDelta.Seconds())
				}
				lastWaitDuration = stats.WaitDuration

			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops the DB stats collector goroutine and waits for it to exit.
// It is safe to call multiple times.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
