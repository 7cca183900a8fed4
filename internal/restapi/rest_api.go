// Package restapi serves the driver, dashboard and admin HTTP endpoints and
// the WebSocket observer transport.
package restapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bustracker.campus.org/internal/app"
	"bustracker.campus.org/internal/clock"
)

type RestAPI struct {
	*app.Application
	rateLimiter *RateLimitMiddleware
	upgrader    websocket.Upgrader

	// Hijacked WebSocket connections outlive http.Server.Shutdown, so the
	// API tracks them itself.
	wsMu      sync.Mutex
	wsClosing bool
	wsConns   map[*wsObserver]struct{}
	wsWG      sync.WaitGroup
}

// NewRestAPI builds the API around app. Call Shutdown to stop the rate
// limiter's cleanup goroutine and close live WebSocket observers.
func NewRestAPI(app *app.Application) *RestAPI {
	if app.Clock == nil {
		app.Clock = clock.RealClock{}
	}
	if app.Logger == nil {
		app.Logger = slog.Default()
	}
	return &RestAPI{
		Application: app,
		rateLimiter: NewRateLimitMiddleware(app.Config.RateLimit, time.Second, app.Config.AdminKeys, app.Clock),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from other campus origins; the key check gates access.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		wsConns: make(map[*wsObserver]struct{}),
	}
}

// Shutdown stops background work and closes every WebSocket observer. It
// returns once their handlers have finished, so storage can be closed next.
func (api *RestAPI) Shutdown() {
	if api.rateLimiter != nil {
		api.rateLimiter.Stop()
	}

	api.wsMu.Lock()
	api.wsClosing = true
	open := make([]*wsObserver, 0, len(api.wsConns))
	for obs := range api.wsConns {
		open = append(open, obs)
	}
	api.wsMu.Unlock()

	for _, obs := range open {
		obs.close()
		_ = obs.conn.Close()
	}
	api.wsWG.Wait()
}

// trackObserver records a live connection. It returns false once Shutdown
// has started.
func (api *RestAPI) trackObserver(obs *wsObserver) bool {
	api.wsMu.Lock()
	defer api.wsMu.Unlock()
	if api.wsClosing {
		return false
	}
	api.wsConns[obs] = struct{}{}
	api.wsWG.Add(1)
	return true
}

func (api *RestAPI) untrackObserver(obs *wsObserver) {
	api.wsMu.Lock()
	delete(api.wsConns, obs)
	api.wsMu.Unlock()
	api.wsWG.Done()
}

func (api *RestAPI) shuttingDown() bool {
	api.wsMu.Lock()
	defer api.wsMu.Unlock()
	return api.wsClosing
}

// liveObservers reports how many WebSocket connections are being served.
func (api *RestAPI) liveObservers() int {
	api.wsMu.Lock()
	defer api.wsMu.Unlock()
	return len(api.wsConns)
}
