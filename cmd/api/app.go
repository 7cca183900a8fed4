package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"

	"bustracker.campus.org/internal/app"
	"bustracker.campus.org/internal/appconf"
	"bustracker.campus.org/internal/clock"
	"bustracker.campus.org/internal/hub"
	"bustracker.campus.org/internal/logging"
	"bustracker.campus.org/internal/metrics"
	"bustracker.campus.org/internal/publisher"
	"bustracker.campus.org/internal/restapi"
	"bustracker.campus.org/internal/tracking"
	"bustracker.campus.org/internal/webui"
	"bustracker.campus.org/trackdb"
)

const dbStatsInterval = 15 * time.Second

// ParseAPIKeys splits a comma separated key list from a flag or env var.
func ParseAPIKeys(s string) []string {
	return appconf.ParseAPIKeys(s)
}

// BuildApplication opens the store, seeds it from GTFS when configured, and
// wires the tracker to the hub. Live sessions left open by a previous process
// are restored before the application is returned.
func BuildApplication(cfg appconf.Config) (*app.Application, error) {
	logger := logging.NewLogger(cfg.Env == appconf.Production, cfg.Verbose)
	c := clock.RealClock{}

	dataPath := cfg.DataPath
	if dataPath == "" {
		dataPath = appconf.Defaults().DataPath
	}
	db, err := trackdb.NewClient(trackdb.NewConfig(dataPath, cfg.Env, cfg.Verbose))
	if err != nil {
		return nil, fmt.Errorf("failed to open tracker database: %w", err)
	}

	ctx := context.Background()
	if cfg.GTFSSeedPath != "" {
		if err := db.ImportFromFile(ctx, cfg.GTFSSeedPath); err != nil {
			logging.SafeCloseWithLogging(db, logger, "tracker database")
			return nil, fmt.Errorf("failed to seed routes from GTFS: %w", err)
		}
		logging.LogOperation(logger, "gtfs_seed_imported",
			slog.String("path", cfg.GTFSSeedPath),
			slog.Duration("runtime", db.ImportRuntime()))
	}

	m := metrics.NewWithLogger(logger)
	h := hub.New(c, m, logger)
	tracker := tracking.New(db, h, c, m, logger, tracking.Config{
		StaleAfter:       cfg.StaleAfter,
		AutoStopAfter:    cfg.AutoStopAfter,
		SpeedHistorySize: cfg.SpeedHistorySize,
	})
	h.SetStatusSource(tracker)

	if err := tracker.Restore(ctx); err != nil {
		logging.SafeCloseWithLogging(db, logger, "tracker database")
		return nil, fmt.Errorf("failed to restore live sessions: %w", err)
	}

	return &app.Application{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Tracker: tracker,
		Hub:     h,
		Clock:   c,
		Metrics: m,
	}, nil
}

// ConnectRelay attaches the NATS relay when a URL is configured. The returned
// relay is nil when relaying is disabled.
func ConnectRelay(coreApp *app.Application) (*publisher.NATSRelay, error) {
	cfg := coreApp.Config
	if cfg.NATSURL == "" {
		return nil, nil
	}
	relay, err := publisher.NewNATSRelay(cfg.NATSURL, cfg.NATSSubjectPrefix, coreApp.Metrics, coreApp.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect NATS relay: %w", err)
	}
	coreApp.Hub.AddRelay(relay)
	return relay, nil
}

// CreateServer builds the HTTP server and the API it serves. Callers must
// call api.Shutdown when done.
func CreateServer(coreApp *app.Application, cfg appconf.Config) (*http.Server, *restapi.RestAPI) {
	api := restapi.NewRestAPI(coreApp)

	mux := http.NewServeMux()
	api.SetRoutes(mux)

	webUI := &webui.WebUI{Application: coreApp, AssetDir: cfg.AssetDir}
	webUI.SetWebUIRoutes(mux)

	handler := withCompression(mux)
	handler = restapi.MetricsHandler(coreApp.Metrics)(handler)
	handler = restapi.NewRequestLoggingMiddleware(coreApp.Logger)(handler)
	handler = restapi.RequestIDMiddleware(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return srv, api
}

// withCompression gzips responses except WebSocket upgrades, which need the
// raw connection.
func withCompression(next http.Handler) http.Handler {
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

// Run serves until SIGINT/SIGTERM, then drains connections and stops the
// background workers.
func Run(srv *http.Server, coreApp *app.Application, api *restapi.RestAPI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, srv, coreApp, api)
}

func serve(ctx context.Context, srv *http.Server, coreApp *app.Application, api *restapi.RestAPI) error {
	logger := coreApp.Logger
	cfg := coreApp.Config

	relay, err := ConnectRelay(coreApp)
	if err != nil {
		return err
	}
	if relay != nil {
		defer relay.Close()
	}

	workers, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		coreApp.Tracker.RunSweeper(workers, cfg.SweepInterval)
	}()
	coreApp.Metrics.StartDBStatsCollector(coreApp.DB.DB, dbStatsInterval)

	serverErr := make(chan error, 1)
	go func() {
		logging.LogOperation(logger, "server_started",
			slog.String("addr", srv.Addr),
			slog.String("env", cfg.Env.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			cancelWorkers()
			<-sweepDone
			shutdownWorkers(coreApp, api)
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logging.LogOperation(logger, "server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(logger, "server shutdown failed", err)
	}

	cancelWorkers()
	<-sweepDone
	shutdownWorkers(coreApp, api)
	logging.LogOperation(logger, "server_stopped")
	return nil
}

func shutdownWorkers(coreApp *app.Application, api *restapi.RestAPI) {
	api.Shutdown()
	coreApp.Metrics.Shutdown()
	logging.SafeCloseWithLogging(coreApp.DB, coreApp.Logger, "tracker database")
}

// envOr returns the environment value for key or def when unset.
func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}
