package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "MATCHA_"
	envFileVar = "MATCHA_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if MATCHA_CONFIG is set
//  3. env (prefix MATCHA_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv(envFileVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: file %s: %v", ErrLoadConfig, path, err)
		}
	}

	// MATCHA_JWT_SECRET -> jwt_secret. Underscores are kept to match the flat koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return invalid("addr must not be empty")
	case strings.TrimSpace(c.JWTSecret) == "":
		return invalid("jwt_secret must be set")
	case !isHMAC(c.JWTAlgorithm):
		return invalid("jwt_algorithm must be one of HS256, HS384, HS512")
	case c.JWTTTLMinutes <= 0:
		return invalid("jwt_ttl_minutes must be positive")
	case c.DownstreamTimeoutMS <= 0:
		return invalid("downstream_timeout_ms must be positive")
	case c.DefaultSummaryLimit < 1:
		return invalid("default_summary_limit must be at least 1")
	case c.MaxSummaryLimit < c.DefaultSummaryLimit:
		return invalid("max_summary_limit must not be below default_summary_limit")
	}
	urls := []struct{ key, raw string }{
		{"user_service_base_url", c.UserServiceBaseURL},
		{"budget_service_base_url", c.BudgetServiceBaseURL},
		{"ranking_service_base_url", c.RankingServiceBaseURL},
		{"google_certs_url", c.GoogleCertsURL},
	}
	for _, u := range urls {
		if !isHTTPURL(u.raw) {
			return invalid(u.key + " must be an absolute http(s) URL")
		}
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}

func isHMAC(alg string) bool {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "HS256", "HS384", "HS512":
		return true
	}
	return false
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
