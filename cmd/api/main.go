// Command api runs the campus bus tracker: the driver and dashboard HTTP API,
// the WebSocket observer feed and the operator pages.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"bustracker.campus.org/internal/appconf"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	coreApp, err := BuildApplication(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	srv, api := CreateServer(coreApp, cfg)
	if err := Run(srv, coreApp, api); err != nil {
		coreApp.Logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration from a file given with -f, or from flags
// whose defaults come from BUSTRACKER_* environment variables.
func loadConfig(args []string) (appconf.Config, error) {
	def := appconf.Defaults()
	fs := flag.NewFlagSet("api", flag.ContinueOnError)

	configFile := fs.String("f", "", "path to a JSON or YAML config file; other flags are ignored when set")
	port := fs.Int("port", envInt("BUSTRACKER_PORT", def.Port), "HTTP listen port")
	env := fs.String("env", envOr("BUSTRACKER_ENV", def.Env.String()), "environment: development, test or production")
	apiKeys := fs.String("api-keys", envOr("BUSTRACKER_API_KEYS", ""), "comma separated API keys")
	adminKeys := fs.String("admin-keys", envOr("BUSTRACKER_ADMIN_KEYS", ""), "comma separated admin keys")
	verbose := fs.Bool("verbose", envOr("BUSTRACKER_VERBOSE", "") == "true", "debug logging")
	rateLimit := fs.Int("rate-limit", envInt("BUSTRACKER_RATE_LIMIT", def.RateLimit), "driver requests per second per client")
	dataPath := fs.String("data-path", envOr("BUSTRACKER_DATA_PATH", def.DataPath), "sqlite database path")
	assetDir := fs.String("asset-dir", envOr("BUSTRACKER_ASSET_DIR", def.AssetDir), "dashboard static files")
	seedPath := fs.String("gtfs-seed", envOr("BUSTRACKER_GTFS_SEED", ""), "GTFS zip used to seed routes and stops")
	staleAfter := fs.Duration("stale-after", envDuration("BUSTRACKER_STALE_AFTER", def.StaleAfter), "mark positions stale after this long")
	autoStop := fs.Duration("auto-stop-after", envDuration("BUSTRACKER_AUTO_STOP_AFTER", def.AutoStopAfter), "end idle sharing sessions after this long; 0 disables")
	sweep := fs.Duration("sweep-interval", envDuration("BUSTRACKER_SWEEP_INTERVAL", def.SweepInterval), "auto-stop check interval")
	history := fs.Int("speed-history", envInt("BUSTRACKER_SPEED_HISTORY", def.SpeedHistorySize), "speed samples averaged for ETAs")
	natsURL := fs.String("nats-url", envOr("NATS_URL", ""), "relay events to this NATS server")
	natsPrefix := fs.String("nats-prefix", envOr("BUSTRACKER_NATS_PREFIX", def.NATSSubjectPrefix), "NATS subject prefix")

	if err := fs.Parse(args); err != nil {
		return appconf.Config{}, err
	}

	if *configFile != "" {
		fileCfg, err := appconf.LoadFromFile(*configFile)
		if err != nil {
			return appconf.Config{}, err
		}
		return fileCfg.ToAppConfig(), nil
	}

	environment, err := appconf.ParseEnvironment(*env)
	if err != nil {
		return appconf.Config{}, err
	}
	if *staleAfter > 0 && *autoStop > 0 && *staleAfter > *autoStop {
		return appconf.Config{}, fmt.Errorf("stale-after (%s) exceeds auto-stop-after (%s)", *staleAfter, *autoStop)
	}

	return appconf.Config{
		Port:              *port,
		Env:               environment,
		ApiKeys:           ParseAPIKeys(*apiKeys),
		AdminKeys:         ParseAPIKeys(*adminKeys),
		Verbose:           *verbose,
		RateLimit:         *rateLimit,
		DataPath:          *dataPath,
		GTFSSeedPath:      *seedPath,
		AssetDir:          *assetDir,
		StaleAfter:        *staleAfter,
		AutoStopAfter:     *autoStop,
		SweepInterval:     *sweep,
		SpeedHistorySize:  *history,
		NATSURL:           *natsURL,
		NATSSubjectPrefix: *natsPrefix,
	}, nil
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(envOr(key, "")); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(envOr(key, "")); err == nil {
		return v
	}
	return def
}
