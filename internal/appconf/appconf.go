// Package appconf holds the runtime configuration of the tracker and the
// loader for JSON and YAML configuration files.
package appconf

import (
	"fmt"
	"strings"
	"time"
)

type Environment int

const (
	Development Environment = iota
	Test
	Production
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// ParseEnvironment maps a config/flag value to an Environment.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dev", "development":
		return Development, nil
	case "test":
		return Test, nil
	case "prod", "production":
		return Production, nil
	}
	return Development, fmt.Errorf("unknown environment %q", s)
}

// Config is the resolved application configuration.
type Config struct {
	Port      int
	Env       Environment
	ApiKeys   []string
	AdminKeys []string
	Verbose   bool
	RateLimit int

	// DataPath is the sqlite database path; ":memory:" is allowed in tests.
	DataPath     string
	GTFSSeedPath string
	// AssetDir holds the dashboard's static files.
	AssetDir string

	StaleAfter       time.Duration
	AutoStopAfter    time.Duration
	SweepInterval    time.Duration
	SpeedHistorySize int

	NATSURL           string
	NATSSubjectPrefix string
}

const (
	DefaultPort             = 4000
	DefaultRateLimit        = 100
	DefaultStaleAfter       = 5 * time.Minute
	DefaultAutoStopAfter    = 30 * time.Minute
	DefaultSweepInterval    = time.Minute
	DefaultSpeedHistorySize = 10
	DefaultSubjectPrefix    = "bustracker"
)

// Defaults returns a Config with every tunable set to its default.
func Defaults() Config {
	return Config{
		Port:              DefaultPort,
		Env:               Development,
		RateLimit:         DefaultRateLimit,
		DataPath:          "bustracker.db",
		AssetDir:          "web",
		StaleAfter:        DefaultStaleAfter,
		AutoStopAfter:     DefaultAutoStopAfter,
		SweepInterval:     DefaultSweepInterval,
		SpeedHistorySize:  DefaultSpeedHistorySize,
		NATSSubjectPrefix: DefaultSubjectPrefix,
	}
}

// ParseAPIKeys splits a comma separated key list, trimming whitespace.
func ParseAPIKeys(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		keys = append(keys, strings.TrimSpace(p))
	}
	return keys
}
