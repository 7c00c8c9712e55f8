package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/okian/matcha-composite/internal/domain/model"
	"github.com/okian/matcha-composite/pkg/logger"
)

var errMissingUserID = errors.New("user has no id")

// UserGateway reads user profiles.
type UserGateway struct {
	c *client
}

// NewUserGateway creates a gateway for GET {baseURL}/users/{id}.
func NewUserGateway(baseURL string, opts ...Option) (*UserGateway, error) {
	c, err := newClient(ServiceUser, baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &UserGateway{c: c}, nil
}

// GetUser fetches a user. A 404 answer returns ErrUserNotFound. A 2xx body
// without an id, including null, is a *DownstreamError.
func (g *UserGateway) GetUser(ctx context.Context, userID string) (*model.UserProfile, error) {
	var user model.UserProfile
	err := g.c.getJSON(ctx, "/users/"+url.PathEscape(userID), nil, &user, func() error {
		if user.ID == "" {
			return errMissingUserID
		}
		return nil
	})
	if isStatus(err, http.StatusNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// BudgetGateway reads expense pages.
type BudgetGateway struct {
	c *client
}

// NewBudgetGateway creates a gateway for GET {baseURL}/expenses.
func NewBudgetGateway(baseURL string, opts ...Option) (*BudgetGateway, error) {
	c, err := newClient(ServiceBudget, baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &BudgetGateway{c: c}, nil
}

// GetExpenses fetches one page of expenses. Any non-2xx answer is an error.
// Entries that are not objects are dropped.
func (g *BudgetGateway) GetExpenses(ctx context.Context, limit, offset int) ([]model.Expense, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var raw []json.RawMessage
	if err := g.c.getJSON(ctx, "/expenses", q, &raw, nil); err != nil {
		return nil, err
	}
	return decodeList[model.Expense](ctx, g.c, raw), nil
}

// RankingGateway reads a user's ranking records.
type RankingGateway struct {
	c *client
}

// NewRankingGateway creates a gateway for GET {baseURL}/ranking.
func NewRankingGateway(baseURL string, opts ...Option) (*RankingGateway, error) {
	c, err := newClient(ServiceRanking, baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &RankingGateway{c: c}, nil
}

// GetRankings fetches every ranking record owned by userID. Records that
// are not objects are dropped.
func (g *RankingGateway) GetRankings(ctx context.Context, userID string) ([]model.RankingRecord, error) {
	q := url.Values{}
	q.Set("user_id", userID)

	var raw []json.RawMessage
	if err := g.c.getJSON(ctx, "/ranking", q, &raw, nil); err != nil {
		return nil, err
	}
	return decodeList[model.RankingRecord](ctx, g.c, raw), nil
}

func decodeList[T any](ctx context.Context, c *client, raw []json.RawMessage) []T {
	out, dropped := model.DecodeEach[T](raw)
	if dropped > 0 {
		c.logger.Warn(ctx, "dropped malformed entries", logger.Int("dropped", dropped), logger.Int("kept", len(out)))
	}
	return out
}
