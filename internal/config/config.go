package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Default values used when neither the config file nor the environment sets a field.
const (
	DefaultPort             = "5050"
	DefaultVerifyTimeout    = 5000 * time.Millisecond
	DefaultLat              = 40.344
	DefaultLng              = -74.6514
	DefaultRefreshWorkers   = 4
	DefaultRefreshQueueSize = 64
	DefaultRefreshTimeout   = 30 * time.Second
	DefaultOutcomeTTL       = 60 * time.Minute
	DefaultRateLimitRPS     = 5.0
	DefaultRateLimitBurst   = 10
	DefaultLogLevel         = "info"
)

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL environment variable is required")
	ErrInvalidLogLevel    = errors.New("LOG_LEVEL must be one of debug, info, warn, error")
)

// Config is the process-wide configuration. It is built once at startup by Load
// and passed by value to every component that needs it.
type Config struct {
	Port        string
	DatabaseURL string
	LogLevel    string

	// Metadata probe budget.
	VerifyTimeout time.Duration

	// Reference point used by the distance ranking when the caller sends none.
	DefaultLat float64
	DefaultLng float64

	RefreshWorkers   int
	RefreshQueueSize int
	RefreshTimeout   time.Duration
	OutcomeTTL       time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	CORSOrigins []string
}

// fileConfig mirrors Config in the optional YAML file. Pointers distinguish
// "not set" from zero values.
type fileConfig struct {
	Port              *string   `yaml:"port"`
	DatabaseURL       *string   `yaml:"databaseUrl"`
	LogLevel          *string   `yaml:"logLevel"`
	VerifyTimeoutMs   *int      `yaml:"verifyTimeoutMs"`
	DefaultLat        *float64  `yaml:"defaultLat"`
	DefaultLng        *float64  `yaml:"defaultLng"`
	RefreshWorkers    *int      `yaml:"refreshWorkers"`
	RefreshQueueSize  *int      `yaml:"refreshQueueSize"`
	RefreshTimeoutMs  *int      `yaml:"refreshTimeoutMs"`
	OutcomeTTLMinutes *int      `yaml:"outcomeTtlMinutes"`
	RateLimitRPS      *float64  `yaml:"rateLimitRps"`
	RateLimitBurst    *int      `yaml:"rateLimitBurst"`
	CORSOrigins       *[]string `yaml:"corsOrigins"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Port:             DefaultPort,
		LogLevel:         DefaultLogLevel,
		VerifyTimeout:    DefaultVerifyTimeout,
		DefaultLat:       DefaultLat,
		DefaultLng:       DefaultLng,
		RefreshWorkers:   DefaultRefreshWorkers,
		RefreshQueueSize: DefaultRefreshQueueSize,
		RefreshTimeout:   DefaultRefreshTimeout,
		OutcomeTTL:       DefaultOutcomeTTL,
		RateLimitRPS:     DefaultRateLimitRPS,
		RateLimitBurst:   DefaultRateLimitBurst,
		CORSOrigins: []string{
			"http://localhost:5173",
			"http://localhost:5174",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if path
// is non-empty), then environment variables.
//
// Environment variables:
//   - PORT, DATABASE_URL, LOG_LEVEL
//   - VERIFY_TIMEOUT_MS, REFRESH_TIMEOUT_MS, OUTCOME_TTL_MINUTES
//   - DEFAULT_LAT, DEFAULT_LNG
//   - REFRESH_WORKERS, REFRESH_QUEUE_SIZE
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST
//   - CORS_ORIGINS (comma separated)
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.applyYAML(data); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyYAML(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	if fc.Port != nil {
		c.Port = *fc.Port
	}
	if fc.DatabaseURL != nil {
		c.DatabaseURL = *fc.DatabaseURL
	}
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
	}
	if fc.VerifyTimeoutMs != nil {
		c.VerifyTimeout = time.Duration(*fc.VerifyTimeoutMs) * time.Millisecond
	}
	if fc.DefaultLat != nil {
		c.DefaultLat = *fc.DefaultLat
	}
	if fc.DefaultLng != nil {
		c.DefaultLng = *fc.DefaultLng
	}
	if fc.RefreshWorkers != nil {
		c.RefreshWorkers = *fc.RefreshWorkers
	}
	if fc.RefreshQueueSize != nil {
		c.RefreshQueueSize = *fc.RefreshQueueSize
	}
	if fc.RefreshTimeoutMs != nil {
		c.RefreshTimeout = time.Duration(*fc.RefreshTimeoutMs) * time.Millisecond
	}
	if fc.OutcomeTTLMinutes != nil {
		c.OutcomeTTL = time.Duration(*fc.OutcomeTTLMinutes) * time.Minute
	}
	if fc.RateLimitRPS != nil {
		c.RateLimitRPS = *fc.RateLimitRPS
	}
	if fc.RateLimitBurst != nil {
		c.RateLimitBurst = *fc.RateLimitBurst
	}
	if fc.CORSOrigins != nil {
		c.CORSOrigins = *fc.CORSOrigins
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("PORT"); ok {
		c.Port = v
	}
	if v, ok := get("DATABASE_URL"); ok {
		c.DatabaseURL = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = strings.ToLower(v)
	}

	ints := []struct {
		key string
		set func(int)
	}{
		{"VERIFY_TIMEOUT_MS", func(n int) { c.VerifyTimeout = time.Duration(n) * time.Millisecond }},
		{"REFRESH_TIMEOUT_MS", func(n int) { c.RefreshTimeout = time.Duration(n) * time.Millisecond }},
		{"OUTCOME_TTL_MINUTES", func(n int) { c.OutcomeTTL = time.Duration(n) * time.Minute }},
		{"REFRESH_WORKERS", func(n int) { c.RefreshWorkers = n }},
		{"REFRESH_QUEUE_SIZE", func(n int) { c.RefreshQueueSize = n }},
		{"RATE_LIMIT_BURST", func(n int) { c.RateLimitBurst = n }},
	}
	for _, e := range ints {
		v, ok := get(e.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", e.key, err)
		}
		e.set(n)
	}

	floats := []struct {
		key string
		set func(float64)
	}{
		{"DEFAULT_LAT", func(f float64) { c.DefaultLat = f }},
		{"DEFAULT_LNG", func(f float64) { c.DefaultLng = f }},
		{"RATE_LIMIT_RPS", func(f float64) { c.RateLimitRPS = f }},
	}
	for _, e := range floats {
		v, ok := get(e.key)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", e.key, err)
		}
		e.set(f)
	}

	if v, ok := get("CORS_ORIGINS"); ok {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORSOrigins = origins
	}
	return nil
}

// Validate checks that every value is usable. DATABASE_URL is not checked
// here; commands that need the database call RequireDatabase.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	if c.VerifyTimeout <= 0 {
		return errors.New("verify timeout must be positive")
	}
	if c.RefreshTimeout <= 0 {
		return errors.New("refresh timeout must be positive")
	}
	if c.OutcomeTTL <= 0 {
		return errors.New("outcome TTL must be positive")
	}
	if c.RefreshWorkers < 1 {
		return errors.New("refresh workers must be at least 1")
	}
	if c.RefreshQueueSize < 1 {
		return errors.New("refresh queue size must be at least 1")
	}
	if math.IsNaN(c.DefaultLat) || c.DefaultLat < -90 || c.DefaultLat > 90 {
		return fmt.Errorf("default latitude out of range: %v", c.DefaultLat)
	}
	if math.IsNaN(c.DefaultLng) || c.DefaultLng < -180 || c.DefaultLng > 180 {
		return fmt.Errorf("default longitude out of range: %v", c.DefaultLng)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return errors.New("rate limit must allow at least one request")
	}
	return nil
}

// RequireDatabase reports ErrMissingDatabaseURL when no DSN is configured.
func (c Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return "0.0.0.0:" + c.Port
}
