package downstream_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/matcha-composite/internal/adapters/downstream"
	"github.com/okian/matcha-composite/internal/domain/model"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestUserGateway_GetUser(t *testing.T) {
	t.Run("decodes a user", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/users/11111111-1111-1111-1111-111111111111", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"11111111-1111-1111-1111-111111111111","username":"test_user","email":"t@example.com","matcha_budget":25.5}`))
		})
		gw, err := downstream.NewUserGateway(srv.URL)
		require.NoError(t, err)

		user, err := gw.GetUser(context.Background(), "11111111-1111-1111-1111-111111111111")
		require.NoError(t, err)
		assert.Equal(t, model.Text("test_user"), user.Username)
		budget, ok := user.MatchaBudget.Float64()
		assert.True(t, ok)
		assert.Equal(t, 25.5, budget)
	})

	t.Run("maps 404 to not found", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
		gw, err := downstream.NewUserGateway(srv.URL + "/")
		require.NoError(t, err)

		user, err := gw.GetUser(context.Background(), "missing")
		assert.Nil(t, user)
		assert.ErrorIs(t, err, downstream.ErrUserNotFound)
		assert.NotErrorIs(t, err, downstream.ErrDownstream)
	})

	t.Run("escapes the user id", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/users/a%2Fb", r.URL.EscapedPath())
			_, _ = w.Write([]byte(`{"id":"a/b","username":"slash"}`))
		})
		gw, err := downstream.NewUserGateway(srv.URL)
		require.NoError(t, err)

		user, err := gw.GetUser(context.Background(), "a/b")
		require.NoError(t, err)
		assert.Equal(t, model.ID("a/b"), user.ID)
	})

	t.Run("rejects a body without a user", func(t *testing.T) {
		for _, body := range []string{`null`, `{}`, `{"id":"","username":"ghost"}`, `{"id":{"nested":true}}`} {
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			gw, err := downstream.NewUserGateway(srv.URL)
			require.NoError(t, err)

			user, err := gw.GetUser(context.Background(), "u1")
			assert.Nil(t, user, body)
			assert.ErrorIs(t, err, downstream.ErrDownstream, body)
			assert.NotErrorIs(t, err, downstream.ErrUserNotFound, body)

			var derr *downstream.DownstreamError
			require.True(t, errors.As(err, &derr), body)
			assert.Equal(t, http.StatusOK, derr.StatusCode, body)
		}
	})

	t.Run("wraps server errors", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		gw, err := downstream.NewUserGateway(srv.URL)
		require.NoError(t, err)

		_, err = gw.GetUser(context.Background(), "u1")
		require.Error(t, err)
		assert.ErrorIs(t, err, downstream.ErrDownstream)

		var derr *downstream.DownstreamError
		require.True(t, errors.As(err, &derr))
		assert.Equal(t, downstream.ServiceUser, derr.Service)
		assert.Equal(t, http.StatusInternalServerError, derr.StatusCode)
	})
}

func TestBudgetGateway_GetExpenses(t *testing.T) {
	t.Run("sends paging parameters", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/expenses", r.URL.Path)
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			assert.Equal(t, "0", r.URL.Query().Get("offset"))
			_, _ = w.Write([]byte(`[{"id":"e1","cost":5.0,"order_name":"Latte"},{"id":"e2","cost":"?","order_name":"Hojicha"}]`))
		})
		gw, err := downstream.NewBudgetGateway(srv.URL)
		require.NoError(t, err)

		expenses, err := gw.GetExpenses(context.Background(), 5, 0)
		require.NoError(t, err)
		require.Len(t, expenses, 2)
		assert.True(t, expenses[0].Cost.Valid())
		assert.False(t, expenses[1].Cost.Valid())
	})

	t.Run("keeps valid entries beside malformed ones", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"cost":5.0,"date":"2025-01-01"},{"cost":3.0,"date":20250102},"junk",null]`))
		})
		gw, err := downstream.NewBudgetGateway(srv.URL)
		require.NoError(t, err)

		expenses, err := gw.GetExpenses(context.Background(), 10, 0)
		require.NoError(t, err)
		require.Len(t, expenses, 2)
		assert.Equal(t, model.Text("2025-01-01"), expenses[0].Date)
		assert.Equal(t, model.Text(""), expenses[1].Date)
		cost, ok := expenses[1].Cost.Float64()
		assert.True(t, ok)
		assert.Equal(t, 3.0, cost)
	})

	t.Run("treats 404 as a failure", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
		gw, err := downstream.NewBudgetGateway(srv.URL)
		require.NoError(t, err)

		_, err = gw.GetExpenses(context.Background(), 10, 0)
		assert.ErrorIs(t, err, downstream.ErrDownstream)
	})

	t.Run("rejects undecodable bodies", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"not":"a list"}`))
		})
		gw, err := downstream.NewBudgetGateway(srv.URL)
		require.NoError(t, err)

		_, err = gw.GetExpenses(context.Background(), 10, 0)
		assert.ErrorIs(t, err, downstream.ErrDownstream)
	})
}

func TestRankingGateway_GetRankings(t *testing.T) {
	t.Run("queries by user id", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ranking", r.URL.Path)
			assert.Equal(t, "u1", r.URL.Query().Get("user_id"))
			_, _ = w.Write([]byte(`[{"id":"r1","user_id":"u1","items":[{"name":"Ikuyo","origin":"home","rating":4.0,"cost_per_gram":0.8}]}]`))
		})
		gw, err := downstream.NewRankingGateway(srv.URL + "/")
		require.NoError(t, err)

		records, err := gw.GetRankings(context.Background(), "u1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Len(t, records[0].Items, 1)
		assert.Equal(t, model.Text("Ikuyo"), records[0].Items[0].Name)
	})

	t.Run("keeps valid records beside malformed ones", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[7,{"id":"r1","user_id":"u1","items":[{"name":["x"],"rating":4.0,"cost_per_gram":0.8},"junk"]},{"id":"r2","items":"none"}]`))
		})
		gw, err := downstream.NewRankingGateway(srv.URL)
		require.NoError(t, err)

		records, err := gw.GetRankings(context.Background(), "u1")
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Len(t, records[0].Items, 1)
		assert.Equal(t, model.Text(""), records[0].Items[0].Name)
		assert.True(t, records[0].Items[0].CostPerGram.Positive())
		assert.Empty(t, records[1].Items)
	})

	t.Run("times out slow services", func(t *testing.T) {
		release := make(chan struct{})
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		defer close(release)
		gw, err := downstream.NewRankingGateway(srv.URL, downstream.WithTimeout(50*time.Millisecond))
		require.NoError(t, err)

		_, err = gw.GetRankings(context.Background(), "u1")
		require.Error(t, err)
		assert.ErrorIs(t, err, downstream.ErrDownstream)

		var derr *downstream.DownstreamError
		require.True(t, errors.As(err, &derr))
		assert.Zero(t, derr.StatusCode)
	})

	t.Run("reports transport failures", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()

		gw, err := downstream.NewRankingGateway(addr)
		require.NoError(t, err)

		_, err = gw.GetRankings(context.Background(), "u1")
		assert.ErrorIs(t, err, downstream.ErrDownstream)
	})
}

func TestNewGateway_InvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8002", "ftp://example.com", "http://"} {
		_, err := downstream.NewUserGateway(raw)
		assert.ErrorIs(t, err, downstream.ErrInvalidBaseURL, raw)
	}
}
