// Package publisher mirrors hub events onto NATS so other processes (archivers,
// campus displays, a second API replica) can follow live bus state.
package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"bustracker.campus.org/internal/hub"
	"bustracker.campus.org/internal/logging"
)

// PublisherMetrics is the subset of metrics the relay reports to.
type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

type conn interface {
	Publish(subject string, data []byte) error
}

// NATSRelay publishes every hub event as JSON. Bus-scoped events go to
// <prefix>.bus.<busId>.<event>, broadcast events to <prefix>.all.<event>.
type NATSRelay struct {
	nc      *nats.Conn
	conn    conn
	prefix  string
	metrics PublisherMetrics
	logger  *slog.Logger
}

func NewNATSRelay(url, prefix string, m PublisherMetrics, logger *slog.Logger) (*NATSRelay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "nats_relay"))

	nc, err := nats.Connect(url,
		nats.Name("bustracker-api"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			if err != nil {
				logging.LogError(logger, "nats disconnected", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logging.LogOperation(logger, "nats_reconnected", slog.String("url", c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logging.LogOperation(logger, "nats_closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}

	r := newRelay(nc, prefix, m, logger)
	r.nc = nc
	return r, nil
}

func newRelay(c conn, prefix string, m PublisherMetrics, logger *slog.Logger) *NATSRelay {
	if prefix == "" {
		prefix = "bustracker"
	}
	return &NATSRelay{conn: c, prefix: subjectToken(prefix), metrics: m, logger: logger}
}

func (r *NATSRelay) Name() string { return "nats" }

// Message is the wire form of a relayed event.
type Message struct {
	Event     string    `json:"event"`
	BusID     string    `json:"busId,omitempty"`
	Broadcast bool      `json:"broadcast"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (r *NATSRelay) Relay(ev hub.Event) error {
	b, err := json.Marshal(Message{
		Event:     ev.Name,
		BusID:     ev.BusID,
		Broadcast: ev.Scope.All,
		Data:      ev.Data,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Name, err)
	}

	subject := r.subjectFor(ev)
	r.logger.Debug("nats publish", slog.String("subject", subject))

	start := time.Now()
	err = r.conn.Publish(subject, b)
	if r.metrics != nil {
		r.metrics.PublishObserve(time.Since(start))
		if err != nil {
			r.metrics.NATSPublishErrInc()
		} else {
			r.metrics.NATSPublishedInc()
		}
	}
	return err
}

func (r *NATSRelay) subjectFor(ev hub.Event) string {
	if ev.Scope.All || ev.Scope.BusID == "" {
		return fmt.Sprintf("%s.all.%s", r.prefix, subjectToken(ev.Name))
	}
	return fmt.Sprintf("%s.bus.%s.%s", r.prefix, subjectToken(ev.Scope.BusID), subjectToken(ev.Name))
}

// Close drains pending messages and closes the connection.
func (r *NATSRelay) Close() {
	if r.nc != nil {
		_ = r.nc.Drain()
		r.nc.Close()
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
