// Package service orchestrates the downstream calls behind the user summary.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/matcha-composite/internal/adapters/downstream"
	"github.com/okian/matcha-composite/internal/auth"
	"github.com/okian/matcha-composite/internal/domain/model"
	"github.com/okian/matcha-composite/internal/domain/summary"
	"github.com/okian/matcha-composite/pkg/logger"
	"github.com/okian/matcha-composite/pkg/metrics"
)

// DefaultLimit is the expense page size used when the caller gives none.
const DefaultLimit = 10

// Summary outcomes reported to metrics.
const (
	outcomeOK              = "ok"
	outcomeDegraded        = "degraded"
	outcomeNotFound        = "not_found"
	outcomeUnauthenticated = "unauthenticated"
	outcomeError           = "error"
)

// UserReader looks up a user profile.
type UserReader interface {
	GetUser(ctx context.Context, userID string) (*model.UserProfile, error)
}

// ExpenseReader reads a page of expenses.
type ExpenseReader interface {
	GetExpenses(ctx context.Context, limit, offset int) ([]model.Expense, error)
}

// RankingReader reads the ranking records of a user.
type RankingReader interface {
	GetRankings(ctx context.Context, userID string) ([]model.RankingRecord, error)
}

// Service builds user summaries.
type Service struct {
	users    UserReader
	expenses ExpenseReader
	rankings RankingReader

	defaultLimit int

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDefaultLimit sets the expense page size used for limits below 1.
func WithDefaultLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.defaultLimit = limit
		}
	}
}

// WithUsers sets the user reader.
func WithUsers(r UserReader) Option {
	return func(s *Service) { s.users = r }
}

// WithExpenses sets the expense reader.
func WithExpenses(r ExpenseReader) Option {
	return func(s *Service) { s.expenses = r }
}

// WithRankings sets the ranking reader.
func WithRankings(r RankingReader) Option {
	return func(s *Service) { s.rankings = r }
}

// New constructs a Service.
func New(opts ...Option) *Service {
	s := &Service{
		defaultLimit: DefaultLimit,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("summary")
	return s
}

// UserSummary builds the summary for userID.
//
// The caller must be authenticated. The user lookup gates everything else:
// when it fails no other service is contacted. Rankings and expenses are
// then fetched concurrently and a failure of either is absorbed, leaving
// its part of the summary empty and listing it in Result.Degraded.
func (s *Service) UserSummary(ctx context.Context, userID string, limit int) (*summary.Result, error) {
	claims, ok := auth.FromContext(ctx)
	if !ok {
		metrics.RecordSummary(outcomeUnauthenticated)
		return nil, auth.ErrUnauthenticated
	}
	if s.users == nil || s.expenses == nil || s.rankings == nil {
		return nil, ErrNotConfigured
	}
	if limit < 1 {
		limit = s.defaultLimit
	}
	log := s.logger.With(logger.String("userID", userID), logger.String("subject", claims.Subject))

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, downstream.ErrUserNotFound) {
			metrics.RecordSummary(outcomeNotFound)
			log.Debug(ctx, "user not found")
			return nil, downstream.ErrUserNotFound
		}
		metrics.RecordSummary(outcomeError)
		log.Error(ctx, "user lookup failed", logger.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrUserUnavailable, err)
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		degraded []string
		records  []model.RankingRecord
		expenses []model.Expense
	)
	absorb := func(service string, err error) {
		log.Warn(ctx, "dependency degraded", logger.String("service", service), logger.Error(err))
		metrics.RecordDegradedDependency(service)
		mu.Lock()
		degraded = append(degraded, service)
		mu.Unlock()
	}

	start := time.Now()
	g.Go(func() error {
		out, err := guarded(func() ([]model.RankingRecord, error) { return s.rankings.GetRankings(ctx, userID) })
		if err != nil {
			absorb(downstream.ServiceRanking, err)
			return nil
		}
		records = out
		return nil
	})
	g.Go(func() error {
		out, err := guarded(func() ([]model.Expense, error) { return s.expenses.GetExpenses(ctx, limit, 0) })
		if err != nil {
			absorb(downstream.ServiceBudget, err)
			return nil
		}
		expenses = out
		return nil
	})
	_ = g.Wait()

	// Fixed order regardless of which call finished first.
	if len(degraded) == 2 && degraded[0] != downstream.ServiceRanking {
		degraded[0], degraded[1] = degraded[1], degraded[0]
	}

	result := summary.Build(*user, records, expenses, degraded)
	if len(degraded) > 0 {
		metrics.RecordSummary(outcomeDegraded)
	} else {
		metrics.RecordSummary(outcomeOK)
	}
	log.Debug(ctx, "summary built",
		logger.Duration("fanout", time.Since(start)),
		logger.Int("rankings", len(records)),
		logger.Int("expenses", len(expenses)),
		logger.Int("degraded", len(degraded)),
	)
	return result, nil
}

// guarded converts a panic in fn into an error.
func guarded[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
