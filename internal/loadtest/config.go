// Package loadtest drives concurrent summary requests against a running
// service and reports outcome counts and latency percentiles.
package loadtest

import (
	"errors"
	"time"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL  string        // Base URL of the service
	UserIDs  []string      // Users requested round-robin
	Requests int           // Total summary requests
	Workers  int           // Concurrent workers
	Limit    int           // limit query parameter; 0 omits it
	Timeout  time.Duration // HTTP request timeout
	Email    string        // Subject requested from dev login
	Token    string        // Pre-issued access token; skips dev login when set
}

// Stats holds run statistics.
type Stats struct {
	Requests   int
	OK         int
	Degraded   int
	NotFound   int
	Failed     int
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	Max        time.Duration
	StartTime  time.Time
	Duration   time.Duration
	StatusSeen map[int]int
}

// ErrInvalidConfig is returned by Run for an unusable Config.
var ErrInvalidConfig = errors.New("invalid load test config")

func (c *Config) validate() error {
	switch {
	case c.BaseURL == "":
		return errors.Join(ErrInvalidConfig, errors.New("base url is required"))
	case len(c.UserIDs) == 0:
		return errors.Join(ErrInvalidConfig, errors.New("at least one user id is required"))
	case c.Requests < 1:
		return errors.Join(ErrInvalidConfig, errors.New("requests must be positive"))
	case c.Workers < 1:
		return errors.Join(ErrInvalidConfig, errors.New("workers must be positive"))
	}
	return nil
}
