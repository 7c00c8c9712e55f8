package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/matcha-composite/internal/adapters/downstream"
	"github.com/okian/matcha-composite/internal/adapters/http/api"
	service "github.com/okian/matcha-composite/internal/app"
	"github.com/okian/matcha-composite/internal/auth"
	"github.com/okian/matcha-composite/internal/domain/model"
	"github.com/okian/matcha-composite/internal/domain/summary"
)

type mockSummaries struct {
	calls   int
	userID  string
	limit   int
	subject string
	result  *summary.Result
	err     error
}

func (m *mockSummaries) UserSummary(ctx context.Context, userID string, limit int) (*summary.Result, error) {
	m.calls++
	m.userID = userID
	m.limit = limit
	if claims, ok := auth.FromContext(ctx); ok {
		m.subject = claims.Subject
	}
	return m.result, m.err
}

type mockExchanger struct {
	tokens *auth.Manager
	email  string
	err    error
}

func (m *mockExchanger) Exchange(_ context.Context, _ string) (auth.Token, error) {
	if m.err != nil {
		return auth.Token{}, m.err
	}
	return m.tokens.Issue(m.email)
}

type harness struct {
	handler   http.Handler
	tokens    *auth.Manager
	summaries *mockSummaries
	exchanger *mockExchanger
}

func newHarness(opts ...api.Option) *harness {
	tokens, err := auth.NewManager(auth.Config{Secret: "test-secret"})
	So(err, ShouldBeNil)

	h := &harness{
		tokens: tokens,
		summaries: &mockSummaries{result: summary.Build(
			model.UserProfile{ID: "u1", Username: "test_user", MatchaBudget: model.NumberOf(30)},
			nil, nil, nil,
		)},
	}
	h.exchanger = &mockExchanger{tokens: tokens, email: "tea@example.com"}

	base := []api.Option{
		api.WithSummaryService(h.summaries),
		api.WithTokens(tokens),
		api.WithIdentityExchanger(h.exchanger),
		api.WithAllowedOrigins([]string{"*"}),
	}
	server := api.NewServer(append(base, opts...)...)
	mux := http.NewServeMux()
	server.Register(context.Background(), mux)
	h.handler = server.Handler(mux)
	return h
}

func (h *harness) bearer() string {
	tok, err := h.tokens.Issue("demo@matcha.app")
	So(err, ShouldBeNil)
	return "Bearer " + tok.AccessToken
}

func (h *harness) do(method, target, body, authorization string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
	return out
}

func TestServer_Basics(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		h := newHarness()

		Convey("When requesting the root", func() {
			w := h.do(http.MethodGet, "/", "", "")

			Convey("Then it should welcome the caller", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["message"], ShouldContainSubstring, "Matcha")
			})
		})

		Convey("When requesting an unknown path", func() {
			w := h.do(http.MethodGet, "/nope", "", "")

			Convey("Then it should answer 404 with a detail", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decode(w)["detail"], ShouldEqual, "Not Found")
			})
		})

		Convey("When requesting the health endpoint", func() {
			w := h.do(http.MethodGet, "/healthz", "", "")

			Convey("Then it should report ok", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["status"], ShouldEqual, "ok")
			})
		})

		Convey("When scraping metrics after a request", func() {
			h.do(http.MethodGet, "/healthz", "", "")
			w := h.do(http.MethodGet, "/metrics", "", "")

			Convey("Then the exposition should contain the http collectors", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "matcha_composite_http_requests_total")
			})
		})

		Convey("When a request carries no request id", func() {
			w := h.do(http.MethodGet, "/healthz", "", "")

			Convey("Then one should be generated", func() {
				So(w.Header().Get("X-Request-ID"), ShouldNotBeEmpty)
			})
		})

		Convey("When a request carries a request id", func() {
			req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
			req.Header.Set("X-Request-ID", "abc-123")
			w := httptest.NewRecorder()
			h.handler.ServeHTTP(w, req)

			Convey("Then it should be echoed", func() {
				So(w.Header().Get("X-Request-ID"), ShouldEqual, "abc-123")
			})
		})

		Convey("When a browser sends a preflight", func() {
			req := httptest.NewRequest(http.MethodOptions, "/summary/users/u1", http.NoBody)
			req.Header.Set("Origin", "https://app.example.com")
			req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			w := httptest.NewRecorder()
			h.handler.ServeHTTP(w, req)

			Convey("Then CORS headers should allow it", func() {
				So(w.Code, ShouldEqual, http.StatusNoContent)
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "https://app.example.com")
				So(w.Header().Get("Access-Control-Allow-Headers"), ShouldContainSubstring, "Authorization")
			})
		})
	})

	Convey("Given a server restricted to one origin", t, func() {
		h := newHarness(api.WithAllowedOrigins([]string{"https://ok.example.com"}))

		Convey("When another origin sends a preflight", func() {
			req := httptest.NewRequest(http.MethodOptions, "/summary/users/u1", http.NoBody)
			req.Header.Set("Origin", "https://evil.example.com")
			req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			w := httptest.NewRecorder()
			h.handler.ServeHTTP(w, req)

			Convey("Then it should be refused", func() {
				So(w.Code, ShouldEqual, http.StatusForbidden)
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldBeEmpty)
			})
		})
	})
}

func TestServer_UserSummary(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		h := newHarness()

		Convey("When the request has no bearer token", func() {
			w := h.do(http.MethodGet, "/summary/users/u1", "", "")

			Convey("Then it should be rejected before the service runs", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
				So(w.Header().Get("WWW-Authenticate"), ShouldEqual, "Bearer")
				So(decode(w)["detail"], ShouldEqual, "Missing Bearer token")
				So(h.summaries.calls, ShouldEqual, 0)
			})
		})

		Convey("When the bearer token is forged", func() {
			w := h.do(http.MethodGet, "/summary/users/u1", "", "Bearer not.a.token")

			Convey("Then it should be rejected", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
				So(decode(w)["detail"], ShouldEqual, "Invalid token")
				So(h.summaries.calls, ShouldEqual, 0)
			})
		})

		Convey("When the request is authenticated", func() {
			w := h.do(http.MethodGet, "/summary/users/u1", "", h.bearer())

			Convey("Then the summary should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				So(body["username"], ShouldEqual, "test_user")
				So(body["budget"], ShouldEqual, 30.0)
				So(body["averageRankingScore"], ShouldBeNil)
				So(body["mostWorthLeaderboard"], ShouldBeEmpty)
				So(body["recentExpenses"], ShouldBeEmpty)
			})

			Convey("And the service should see the caller and the default limit", func() {
				So(h.summaries.calls, ShouldEqual, 1)
				So(h.summaries.userID, ShouldEqual, "u1")
				So(h.summaries.limit, ShouldEqual, 10)
				So(h.summaries.subject, ShouldEqual, "demo@matcha.app")
			})
		})

		Convey("When an explicit limit is given", func() {
			w := h.do(http.MethodGet, "/summary/users/u1?limit=5", "", h.bearer())

			Convey("Then it should be passed through", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(h.summaries.limit, ShouldEqual, 5)
			})
		})

		Convey("When the limit sits on the configured maximum", func() {
			w := h.do(http.MethodGet, "/summary/users/u1?limit=100", "", h.bearer())

			Convey("Then it should be passed through unchanged", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(h.summaries.limit, ShouldEqual, 100)
			})
		})

		Convey("When the limit is invalid", func() {
			for _, limit := range []string{"abc", "0", "-2", "1.5", "101"} {
				w := h.do(http.MethodGet, "/summary/users/u1?limit="+limit, "", h.bearer())
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(decode(w)["detail"], ShouldStartWith, "limit must be")
			}

			Convey("Then the service should never be called", func() {
				So(h.summaries.calls, ShouldEqual, 0)
			})
		})

		Convey("When the user id is path-escaped", func() {
			w := h.do(http.MethodGet, "/summary/users/a%2Fb", "", h.bearer())

			Convey("Then the decoded id should reach the service", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(h.summaries.userID, ShouldEqual, "a/b")
			})
		})

		Convey("When the path has extra segments", func() {
			w := h.do(http.MethodGet, "/summary/users/u1/extra", "", h.bearer())

			Convey("Then it should be 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(h.summaries.calls, ShouldEqual, 0)
			})
		})

		Convey("When the user does not exist", func() {
			h.summaries.err = downstream.ErrUserNotFound
			h.summaries.result = nil
			w := h.do(http.MethodGet, "/summary/users/missing", "", h.bearer())

			Convey("Then it should answer 404 User not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decode(w)["detail"], ShouldEqual, "User not found")
			})
		})

		Convey("When the user service is down", func() {
			h.summaries.err = errors.Join(service.ErrUserUnavailable, &downstream.DownstreamError{Service: downstream.ServiceUser})
			h.summaries.result = nil
			w := h.do(http.MethodGet, "/summary/users/u1", "", h.bearer())

			Convey("Then it should answer 502", func() {
				So(w.Code, ShouldEqual, http.StatusBadGateway)
				So(decode(w)["detail"], ShouldEqual, "User service unavailable")
			})
		})

		Convey("When the service fails unexpectedly", func() {
			h.summaries.err = errors.New("boom")
			h.summaries.result = nil
			w := h.do(http.MethodGet, "/summary/users/u1", "", h.bearer())

			Convey("Then it should answer 500 without leaking the cause", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(w.Body.String(), ShouldNotContainSubstring, "boom")
			})
		})
	})
}

func TestServer_DevLogin(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		h := newHarness()

		Convey("When logging in with an empty body", func() {
			w := h.do(http.MethodPost, "/auth/dev-login", "", "")

			Convey("Then a token for the demo user should be issued", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				So(body["token_type"], ShouldEqual, "bearer")
				claims, err := h.tokens.Verify(body["access_token"].(string))
				So(err, ShouldBeNil)
				So(claims.Subject, ShouldEqual, "demo@matcha.app")
			})
		})

		Convey("When logging in with an email", func() {
			w := h.do(http.MethodPost, "/auth/dev-login", `{"email":"me@example.com"}`, "")

			Convey("Then the token subject should be that email", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				claims, err := h.tokens.Verify(decode(w)["access_token"].(string))
				So(err, ShouldBeNil)
				So(claims.Subject, ShouldEqual, "me@example.com")
			})
		})

		Convey("When the issued token is used", func() {
			w := h.do(http.MethodPost, "/auth/dev-login", "{}", "")
			token := decode(w)["access_token"].(string)
			w = h.do(http.MethodGet, "/summary/users/u1", "", "Bearer "+token)

			Convey("Then the summary route should accept it", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When the body is malformed", func() {
			w := h.do(http.MethodPost, "/auth/dev-login", `{"email":`, "")

			Convey("Then it should answer 422", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
			})
		})

		Convey("When using the wrong method", func() {
			w := h.do(http.MethodGet, "/auth/dev-login", "", "")

			Convey("Then it should be 405 with a JSON detail", func() {
				So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
				So(w.Header().Get("Allow"), ShouldEqual, http.MethodPost)
				So(decode(w)["detail"], ShouldEqual, "Method Not Allowed")
			})
		})
	})

	Convey("Given dev login is disabled", t, func() {
		h := newHarness(api.WithDevLogin(false))

		Convey("Then the route should be 404", func() {
			w := h.do(http.MethodPost, "/auth/dev-login", "", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestServer_GoogleLogin(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		h := newHarness()

		Convey("When the ID token verifies", func() {
			w := h.do(http.MethodPost, "/auth/google", `{"id_token":"good"}`, "")

			Convey("Then a token for the Google email should be issued", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				So(body["token_type"], ShouldEqual, "bearer")
				claims, err := h.tokens.Verify(body["access_token"].(string))
				So(err, ShouldBeNil)
				So(claims.Subject, ShouldEqual, "tea@example.com")
			})
		})

		Convey("When the ID token is invalid", func() {
			h.exchanger.err = auth.ErrInvalidIdentityToken
			w := h.do(http.MethodPost, "/auth/google", `{"id_token":"bad"}`, "")

			Convey("Then it should answer 401", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
				So(decode(w)["detail"], ShouldEqual, "Invalid Google ID token")
			})
		})

		Convey("When the ID token has no email", func() {
			h.exchanger.err = auth.ErrMissingEmail
			w := h.do(http.MethodPost, "/auth/google", `{"id_token":"noemail"}`, "")

			Convey("Then it should answer 401 with the missing email detail", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
				So(decode(w)["detail"], ShouldEqual, "Google token missing email")
			})
		})

		Convey("When the id_token field is missing", func() {
			w := h.do(http.MethodPost, "/auth/google", `{}`, "")

			Convey("Then it should answer 422", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(decode(w)["detail"], ShouldEqual, "id_token is required")
			})
		})
	})
}

func TestServer_SummaryLimitCap(t *testing.T) {
	Convey("Given a server with a raised limit cap", t, func() {
		h := newHarness(api.WithSummaryLimits(10, 500))

		Convey("When asking for a page above the default cap", func() {
			w := h.do(http.MethodGet, "/summary/users/u1?limit=300", "", h.bearer())

			Convey("Then the operator's cap should apply", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(h.summaries.limit, ShouldEqual, 300)
			})
		})

		Convey("When asking for more than the raised cap", func() {
			w := h.do(http.MethodGet, "/summary/users/u1?limit=501", "", h.bearer())

			Convey("Then it should be rejected with the cap in the message", func() {
				So(w.Code, ShouldEqual, http.StatusUnprocessableEntity)
				So(decode(w)["detail"], ShouldEqual, "limit must be at most 500")
			})
		})
	})
}

func TestServer_MethodNotAllowed(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		h := newHarness()

		cases := []struct {
			method, target, allow string
		}{
			{http.MethodPost, "/", http.MethodGet},
			{http.MethodDelete, "/healthz", http.MethodGet},
			{http.MethodPut, "/auth/google", http.MethodPost},
			{http.MethodPost, "/summary/users/u1", http.MethodGet},
		}
		for _, tc := range cases {
			Convey("When calling "+tc.method+" "+tc.target, func() {
				w := h.do(tc.method, tc.target, "", "")

				Convey("Then it should be 405 before any other check", func() {
					So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
					So(w.Header().Get("Allow"), ShouldEqual, tc.allow)
					So(w.Header().Get("WWW-Authenticate"), ShouldBeEmpty)
					So(decode(w)["detail"], ShouldEqual, "Method Not Allowed")
					So(h.summaries.calls, ShouldEqual, 0)
				})
			})
		}

		Convey("When posting to an unknown path", func() {
			w := h.do(http.MethodPost, "/nope", "", "")

			Convey("Then it should still be 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}
