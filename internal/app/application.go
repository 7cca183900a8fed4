// Package app holds the long-lived dependencies shared by the HTTP handlers,
// the WebSocket transport and the debug pages.
package app

import (
	"log/slog"

	"bustracker.campus.org/internal/appconf"
	"bustracker.campus.org/internal/clock"
	"bustracker.campus.org/internal/hub"
	"bustracker.campus.org/internal/metrics"
	"bustracker.campus.org/internal/tracking"
	"bustracker.campus.org/trackdb"
)

type Application struct {
	Config  appconf.Config
	Logger  *slog.Logger
	DB      *trackdb.Client
	Tracker *tracking.Tracker
	Hub     *hub.Hub
	Clock   clock.Clock
	Metrics *metrics.Metrics
}
