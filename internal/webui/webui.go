// Package webui serves the operator pages: the campus dashboard assets and,
// outside production, a debug dump of live tracker state.
package webui

import (
	"log/slog"
	"net/http"

	"bustracker.campus.org/internal/app"
)

type WebUI struct {
	*app.Application
	// AssetDir holds the dashboard's static files.
	AssetDir string
}

func (webUI *WebUI) SetWebUIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /debug/", webUI.debugIndexHandler)
	mux.HandleFunc("GET /dashboard/{file}", webUI.dashboardHandler)
}

func (webUI *WebUI) logger() *slog.Logger {
	if webUI.Application != nil && webUI.Logger != nil {
		return webUI.Logger
	}
	return slog.Default()
}
