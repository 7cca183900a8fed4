package restapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type keyCheck int

const (
	anyKey keyCheck = iota
	adminKey
)

// SetRoutes registers every endpoint on mux.
func (api *RestAPI) SetRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", api.healthHandler)

	mux.Handle("GET /api/current-time", api.protected(anyKey, false, api.currentTimeHandler))
	mux.Handle("GET /api/config", api.guard(anyKey, false, 5*time.Minute, api.configHandler))

	// driver app
	mux.Handle("POST /api/drivers/sharing/start", api.protected(anyKey, true, api.startSharingHandler))
	mux.Handle("POST /api/drivers/positions", api.protected(anyKey, true, api.reportPositionHandler))
	mux.Handle("POST /api/drivers/sharing/stop", api.protected(anyKey, true, api.stopSharingHandler))

	// dashboards
	mux.Handle("GET /api/buses/{id}/location", api.protected(anyKey, false, api.busLocationHandler))
	mux.Handle("GET /api/buses/{id}/trips", api.protected(anyKey, false, api.busTripsHandler))
	mux.Handle("GET /api/locations", api.protected(anyKey, false, api.activeLocationsHandler))
	mux.Handle("GET /api/locations/nearby", api.protected(anyKey, false, api.nearbyBusesHandler))
	mux.Handle("GET /api/eta", api.protected(anyKey, false, api.etaHandler))

	// operations
	mux.Handle("POST /api/announcements", api.protected(adminKey, false, api.announcementHandler))
	mux.Handle("POST /api/alerts", api.protected(adminKey, false, api.alertHandler))

	mux.HandleFunc("GET /api/ws", api.websocketHandler)

	if api.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(api.Metrics.Registry, promhttp.HandlerOpts{}))
	}
}

// protected guards an endpoint serving live data, which is never cached.
func (api *RestAPI) protected(check keyCheck, limited bool, h http.HandlerFunc) http.Handler {
	return api.guard(check, limited, 0, h)
}

// guard wraps h with the key check and, for driver writes, the rate limit.
func (api *RestAPI) guard(check keyCheck, limited bool, maxAge time.Duration, h http.HandlerFunc) http.Handler {
	var next http.Handler = CacheControlMiddleware(maxAge, h)
	if limited {
		next = api.rateLimiter.Handler()(next)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		if api.IsInvalidAPIKey(key) || (check == adminKey && !api.IsAdminKey(key)) {
			api.sendForbidden(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
