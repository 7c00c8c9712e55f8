package loadtest

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/okian/matcha-composite/pkg/logger"
)

const workerChannelMultiplier = 2

// Run checks health, obtains a token and issues the configured requests.
func Run(ctx context.Context, cfg *Config, log logger.Logger) (*Stats, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting summary load test",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("requests", cfg.Requests),
		logger.Int("workers", cfg.Workers),
		logger.Int("users", len(cfg.UserIDs)),
	)

	if err := client.health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	token := cfg.Token
	if token == "" {
		var err error
		if token, err = client.devLogin(ctx, cfg.Email); err != nil {
			return nil, err
		}
	}

	stats := &Stats{StartTime: time.Now(), StatusSeen: map[int]int{}}
	outcomes := make(chan outcome, cfg.Workers*workerChannelMultiplier)
	jobs := make(chan string, cfg.Workers*workerChannelMultiplier)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range jobs {
				outcomes <- client.summary(ctx, token, userID, cfg.Limit)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; i < cfg.Requests; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- cfg.UserIDs[i%len(cfg.UserIDs)]:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	latencies := make([]time.Duration, 0, cfg.Requests)
	for o := range outcomes {
		stats.Requests++
		latencies = append(latencies, o.latency)
		if o.status != 0 {
			stats.StatusSeen[o.status]++
		}
		switch {
		case o.err != nil:
			stats.Failed++
			log.Debug(ctx, "summary request failed", logger.Error(o.err))
		case o.status == http.StatusOK && o.degraded:
			stats.Degraded++
		case o.status == http.StatusOK:
			stats.OK++
		case o.status == http.StatusNotFound:
			stats.NotFound++
		default:
			stats.Failed++
		}
	}

	stats.Duration = time.Since(stats.StartTime)
	stats.P50, stats.P95, stats.P99, stats.Max = percentiles(latencies)

	log.Info(ctx, "final statistics",
		logger.Int("requests", stats.Requests),
		logger.Int("ok", stats.OK),
		logger.Int("degraded", stats.Degraded),
		logger.Int("notFound", stats.NotFound),
		logger.Int("failed", stats.Failed),
		logger.Duration("p50", stats.P50),
		logger.Duration("p95", stats.P95),
		logger.Duration("p99", stats.P99),
		logger.Duration("max", stats.Max),
		logger.Duration("duration", stats.Duration),
	)
	return stats, ctx.Err()
}

// percentiles returns the nearest-rank p50, p95, p99 and max of samples.
func percentiles(samples []time.Duration) (p50, p95, p99, maxLatency time.Duration) {
	if len(samples) == 0 {
		return 0, 0, 0, 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := func(p float64) time.Duration {
		idx := int(math.Ceil(p*float64(len(sorted)))) - 1
		return sorted[max(idx, 0)]
	}
	return rank(0.50), rank(0.95), rank(0.99), sorted[len(sorted)-1]
}
