// Package config loads service configuration from environment variables,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	ListenAddr      string
	DatabaseURL     string
	JWTSecret       string
	LogLevel        string
	LogFormat       string // json or console
	DevMode         bool
	RegistryTTL     time.Duration
	GeoIPCityPath   string
	GeoIPASNPath    string
	GeoIPAnonPath   string
	RateLimitPerSec float64
	RateLimitBurst  int
	JobWorkers      int
	JobQueueSize    int
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. envFile, when non-empty, is
// loaded first without overriding already-set variables.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		// Best effort; a missing .env is the normal case in production.
		_ = godotenv.Load()
	}

	v := viper.New()
	v.SetEnvPrefix("MODL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("dev_mode", false)
	v.SetDefault("registry_ttl", "5m")
	v.SetDefault("rate_limit_per_sec", 50.0)
	v.SetDefault("rate_limit_burst", 100)
	v.SetDefault("job_workers", 4)
	v.SetDefault("job_queue_size", 512)
	v.SetDefault("shutdown_timeout", "15s")

	cfg := &Config{
		ListenAddr:      v.GetString("listen_addr"),
		DatabaseURL:     v.GetString("database_url"),
		JWTSecret:       v.GetString("jwt_secret"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		DevMode:         v.GetBool("dev_mode"),
		RegistryTTL:     v.GetDuration("registry_ttl"),
		GeoIPCityPath:   v.GetString("geoip_city_path"),
		GeoIPASNPath:    v.GetString("geoip_asn_path"),
		GeoIPAnonPath:   v.GetString("geoip_anon_path"),
		RateLimitPerSec: v.GetFloat64("rate_limit_per_sec"),
		RateLimitBurst:  v.GetInt("rate_limit_burst"),
		JobWorkers:      v.GetInt("job_workers"),
		JobQueueSize:    v.GetInt("job_queue_size"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with. Dev mode
// relaxes the database and JWT requirements.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.ListenAddr, validation.Required),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error")),
		validation.Field(&c.LogFormat, validation.In("json", "console")),
	)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !c.DevMode {
		err = validation.ValidateStruct(c,
			validation.Field(&c.DatabaseURL, validation.Required),
			validation.Field(&c.JWTSecret, validation.Required, validation.Length(16, 0)),
		)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}
