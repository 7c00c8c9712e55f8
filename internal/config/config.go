// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load layers a YAML file and MATCHA_ environment variables over New.
// - External errors are wrapped with ErrLoadConfig or ErrInvalidConfig.
package config

import (
	"context"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Downstream service base URLs.
	UserServiceBaseURL    string `koanf:"user_service_base_url"`
	BudgetServiceBaseURL  string `koanf:"budget_service_base_url"`
	RankingServiceBaseURL string `koanf:"ranking_service_base_url"`

	// DownstreamTimeoutMS bounds every downstream HTTP call.
	DownstreamTimeoutMS int `koanf:"downstream_timeout_ms"`

	// JWT signing settings for issued access tokens.
	JWTSecret     string `koanf:"jwt_secret"`
	JWTAlgorithm  string `koanf:"jwt_algorithm"`
	JWTTTLMinutes int    `koanf:"jwt_ttl_minutes"`

	// GoogleClientID is the expected audience of Google ID tokens.
	GoogleClientID string `koanf:"google_client_id"`
	// GoogleCertsURL serves Google's signing keys as a JWKS.
	GoogleCertsURL string `koanf:"google_certs_url"`

	// DefaultSummaryLimit and MaxSummaryLimit bound GET /summary/users/{id}?limit.
	DefaultSummaryLimit int `koanf:"default_summary_limit"`
	MaxSummaryLimit     int `koanf:"max_summary_limit"`

	// AllowedOriginsCSV lists CORS origins separated by commas. "*" allows any.
	AllowedOriginsCSV string `koanf:"allowed_origins"`

	// DevLoginEnabled exposes POST /auth/dev-login.
	DevLoginEnabled bool `koanf:"dev_login_enabled"`

	// MetricsRefreshMS sets how often runtime gauges are sampled.
	MetricsRefreshMS int `koanf:"metrics_refresh_ms"`

	// ShutdownTimeoutMS bounds graceful HTTP shutdown.
	ShutdownTimeoutMS int `koanf:"shutdown_timeout_ms"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":8080",
		UserServiceBaseURL:    "http://localhost:8001",
		BudgetServiceBaseURL:  "http://localhost:8002",
		RankingServiceBaseURL: "http://localhost:8003",
		DownstreamTimeoutMS:   5000,
		JWTAlgorithm:          "HS256",
		JWTTTLMinutes:         60,
		GoogleCertsURL:        "https://www.googleapis.com/oauth2/v3/certs",
		DefaultSummaryLimit:   10,
		MaxSummaryLimit:       100,
		AllowedOriginsCSV:     "*",
		DevLoginEnabled:       true,
		MetricsRefreshMS:      10_000,
		ShutdownTimeoutMS:     10_000,
	}
}

// DownstreamTimeout returns DownstreamTimeoutMS as a duration.
func (c *Config) DownstreamTimeout() time.Duration {
	return time.Duration(c.DownstreamTimeoutMS) * time.Millisecond
}

// JWTTTL returns JWTTTLMinutes as a duration.
func (c *Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLMinutes) * time.Minute
}

// MetricsRefresh returns MetricsRefreshMS as a duration.
func (c *Config) MetricsRefresh() time.Duration {
	return time.Duration(c.MetricsRefreshMS) * time.Millisecond
}

// ShutdownTimeout returns ShutdownTimeoutMS as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

// AllowedOrigins splits AllowedOriginsCSV, dropping blanks.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, origin := range strings.Split(c.AllowedOriginsCSV, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
