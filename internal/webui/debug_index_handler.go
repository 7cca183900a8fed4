package webui

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/davecgh/go-spew/spew"

	"bustracker.campus.org/internal/appconf"
	"bustracker.campus.org/internal/geo"
)

//go:embed debug_index.html
var templateFS embed.FS

var debugTemplate = template.Must(template.ParseFS(templateFS, "debug_index.html"))

type debugData struct {
	Title string
	Pre   string
}

var dumper = spew.ConfigState{Indent: "  ", SortKeys: true, DisablePointerAddresses: true}

func writeDebugData(w http.ResponseWriter, title string, data any) {
	w.Header().Set("Content-Type", "text/html")
	err := debugTemplate.Execute(w, debugData{Title: title, Pre: dumper.Sdump(data)})
	if err != nil {
		slog.Error("failed to execute debug template", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (webUI *WebUI) debugIndexHandler(w http.ResponseWriter, r *http.Request) {
	if webUI.Application == nil || webUI.Config.Env == appconf.Production {
		http.NotFound(w, r)
		return
	}

	ctx := r.Context()
	var (
		data  any
		title string
		err   error
	)

	switch r.URL.Query().Get("dataType") {
	case "tables":
		title = "Store - Row Counts"
		data, err = webUI.DB.TableCountsContext(ctx)
	case "routes":
		title = "Store - Routes"
		data, err = webUI.DB.Queries.ListRoutes(ctx)
	case "buses":
		title = "Store - Buses"
		data, err = webUI.DB.Queries.ListBuses(ctx)
	case "sessions":
		title = "Tracker - Sharing Sessions"
		data, err = webUI.Tracker.ActiveLocations(ctx)
	case "nearby":
		// half the circumference reaches every indexed bus
		title = "Tracker - Spatial Index"
		data = webUI.Tracker.NearbyBuses(geo.Point{}, 20_037_509)
	case "subscriptions":
		title = "Hub - Interest Sets"
		data = map[string]any{
			"observers": webUI.Hub.ObserverCount(),
			"interest":  webUI.Hub.InterestSets(),
		}
	case "config":
		title = "Configuration"
		cfg := webUI.Config
		cfg.ApiKeys = redact(cfg.ApiKeys)
		cfg.AdminKeys = redact(cfg.AdminKeys)
		data = cfg
	default:
		title = "Choose a data type"
		data = map[string]string{
			"error": "Please use one of the following: tables, routes, buses, sessions, nearby, subscriptions, config.",
		}
	}

	if err != nil {
		slog.Error("failed to load debug data", "error", err, "title", title)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeDebugData(w, title, data)
}

func redact(keys []string) []string {
	out := make([]string, len(keys))
	for i := range keys {
		out[i] = "***"
	}
	return out
}
