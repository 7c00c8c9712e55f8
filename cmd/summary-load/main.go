package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/okian/matcha-composite/internal/loadtest"
	"github.com/okian/matcha-composite/pkg/logger"
)

// Default configuration constants.
const (
	defaultRequests    = 1000
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 10 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "Base URL of the service")
		users    = flag.String("users", "", "Comma separated user ids to request")
		requests = flag.Int("requests", defaultRequests, "Number of summary requests")
		workers  = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		limit    = flag.Int("limit", 0, "limit query parameter (0 uses the server default)")
		timeout  = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		email    = flag.String("email", "", "Subject requested from dev login")
		token    = flag.String("token", os.Getenv("MATCHA_TOKEN"), "Access token; skips dev login")
		format   = flag.String("log-format", "text", "Log format: text or json")
	)
	flag.Parse()

	if err := logger.InitWithFormat(*format); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultTestTimeout)
	defer cancel()

	var ids []string
	for _, id := range strings.Split(*users, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	stats, err := loadtest.Run(ctx, &loadtest.Config{
		BaseURL:  *baseURL,
		UserIDs:  ids,
		Requests: *requests,
		Workers:  *workers,
		Limit:    *limit,
		Timeout:  *timeout,
		Email:    *email,
		Token:    *token,
	}, logger.Named("loadtest"))
	if err != nil {
		logger.Get().Error(ctx, "load test failed", logger.Error(err))
		os.Exit(1)
	}
	if stats.Failed > 0 {
		os.Exit(1)
	}
}
