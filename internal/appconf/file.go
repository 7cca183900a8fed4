package appconf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors the on-disk configuration format. Durations are given in
// seconds so the same document parses as JSON or YAML.
type FileConfig struct {
	Port      int      `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	Env       string   `json:"env" yaml:"env" validate:"omitempty,oneof=development dev test production prod"`
	ApiKeys   []string `json:"api-keys" yaml:"api-keys" validate:"dive,required"`
	AdminKeys []string `json:"admin-keys" yaml:"admin-keys" validate:"dive,required"`
	Verbose   bool     `json:"verbose" yaml:"verbose"`
	RateLimit int      `json:"rate-limit" yaml:"rate-limit" validate:"gte=0"`

	DataPath     string `json:"data-path" yaml:"data-path"`
	GTFSSeedPath string `json:"gtfs-seed-path" yaml:"gtfs-seed-path"`
	AssetDir     string `json:"asset-dir" yaml:"asset-dir"`

	StaleAfterSeconds    int `json:"stale-after-seconds" yaml:"stale-after-seconds" validate:"gte=0"`
	AutoStopAfterSeconds int `json:"auto-stop-after-seconds" yaml:"auto-stop-after-seconds" validate:"gte=0"`
	SweepIntervalSeconds int `json:"sweep-interval-seconds" yaml:"sweep-interval-seconds" validate:"gte=0"`
	SpeedHistorySize     int `json:"speed-history-size" yaml:"speed-history-size" validate:"gte=0,lte=1000"`

	NATSURL           string `json:"nats-url" yaml:"nats-url" validate:"omitempty,url"`
	NATSSubjectPrefix string `json:"nats-subject-prefix" yaml:"nats-subject-prefix"`
}

// LoadFromFile reads and validates a configuration file. Files ending in .yaml
// or .yml are parsed as YAML, everything else as JSON.
func LoadFromFile(path string) (*FileConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *FileConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.AutoStopAfterSeconds > 0 && c.StaleAfterSeconds > c.AutoStopAfterSeconds {
		return fmt.Errorf("invalid configuration: stale-after-seconds (%d) exceeds auto-stop-after-seconds (%d)",
			c.StaleAfterSeconds, c.AutoStopAfterSeconds)
	}
	return nil
}

// ToAppConfig resolves the file values onto Defaults().
func (c *FileConfig) ToAppConfig() Config {
	cfg := Defaults()
	if c.Port != 0 {
		cfg.Port = c.Port
	}
	// Env was validated, the error cannot happen here.
	cfg.Env, _ = ParseEnvironment(c.Env)
	if c.ApiKeys != nil {
		cfg.ApiKeys = c.ApiKeys
	}
	if c.AdminKeys != nil {
		cfg.AdminKeys = c.AdminKeys
	}
	cfg.Verbose = c.Verbose
	if c.RateLimit != 0 {
		cfg.RateLimit = c.RateLimit
	}
	if c.DataPath != "" {
		cfg.DataPath = c.DataPath
	}
	cfg.GTFSSeedPath = c.GTFSSeedPath
	if c.AssetDir != "" {
		cfg.AssetDir = c.AssetDir
	}
	if c.StaleAfterSeconds != 0 {
		cfg.StaleAfter = time.Duration(c.StaleAfterSeconds) * time.Second
	}
	if c.AutoStopAfterSeconds != 0 {
		cfg.AutoStopAfter = time.Duration(c.AutoStopAfterSeconds) * time.Second
	}
	if c.SweepIntervalSeconds != 0 {
		cfg.SweepInterval = time.Duration(c.SweepIntervalSeconds) * time.Second
	}
	if c.SpeedHistorySize != 0 {
		cfg.SpeedHistorySize = c.SpeedHistorySize
	}
	cfg.NATSURL = c.NATSURL
	if c.NATSSubjectPrefix != "" {
		cfg.NATSSubjectPrefix = c.NATSSubjectPrefix
	}
	return cfg
}
