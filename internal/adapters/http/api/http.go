// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/matcha-composite/internal/auth"
	"github.com/okian/matcha-composite/internal/domain/summary"
	"github.com/okian/matcha-composite/pkg/logger"
)

// Limits applied to the summary limit query parameter when none are configured.
const (
	defaultSummaryLimit = 10
	maxSummaryLimit     = 100
)

// SummaryService builds user summaries.
type SummaryService interface {
	UserSummary(ctx context.Context, userID string, limit int) (*summary.Result, error)
}

// Tokens issues access tokens and verifies Authorization headers.
type Tokens interface {
	Issue(subject string) (auth.Token, error)
	VerifyHeader(header string) (auth.Claims, error)
}

// IdentityExchanger trades a third-party ID token for an access token.
type IdentityExchanger interface {
	Exchange(ctx context.Context, idToken string) (auth.Token, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	summaries SummaryService
	tokens    Tokens
	exchanger IdentityExchanger

	defaultLimit   int
	maxLimit       int
	devLogin       bool
	allowedOrigins []string

	logger logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSummaryService sets the summary backend.
func WithSummaryService(s SummaryService) Option {
	return func(srv *Server) { srv.summaries = s }
}

// WithTokens sets the access token issuer and verifier.
func WithTokens(t Tokens) Option {
	return func(srv *Server) { srv.tokens = t }
}

// WithIdentityExchanger enables POST /auth/google.
func WithIdentityExchanger(e IdentityExchanger) Option {
	return func(srv *Server) { srv.exchanger = e }
}

// WithSummaryLimits sets the default and maximum accepted limit.
func WithSummaryLimits(def, maxLimit int) Option {
	return func(srv *Server) {
		if def > 0 && maxLimit >= def {
			srv.defaultLimit = def
			srv.maxLimit = maxLimit
		}
	}
}

// WithDevLogin toggles POST /auth/dev-login.
func WithDevLogin(enabled bool) Option {
	return func(srv *Server) { srv.devLogin = enabled }
}

// WithAllowedOrigins sets the CORS allow list. "*" allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(srv *Server) { srv.allowedOrigins = origins }
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// NewServer creates a new API server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		defaultLimit: defaultSummaryLimit,
		maxLimit:     maxSummaryLimit,
		devLogin:     true,
		logger:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("http")
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/", MetricsMiddleware(s.handleRoot, "root"))
	mux.HandleFunc("/healthz", MetricsMiddleware(s.requireMethod(http.MethodGet, s.handleHealth), "healthz"))
	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/auth/dev-login", MetricsMiddleware(s.requireMethod(http.MethodPost, s.handleDevLogin), "auth_dev_login"))
	mux.HandleFunc("/auth/google", MetricsMiddleware(s.requireMethod(http.MethodPost, s.handleGoogleLogin), "auth_google"))
	mux.HandleFunc("/summary/users/", MetricsMiddleware(s.requireMethod(http.MethodGet, s.requireBearer(s.handleUserSummary)), "summary"))
}

// Handler wraps mux with the request-scoped middleware shared by every route.
func (s *Server) Handler(mux http.Handler) http.Handler {
	h := requestLogging(s.logger, mux)
	if len(s.allowedOrigins) > 0 {
		h = cors(s.allowedOrigins)(h)
	}
	return h
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"detail": detail}. err is logged but never sent to the client.
// allowMethod answers 405 with an Allow header unless r uses method.
func (s *Server) allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	s.writeError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
	return false
}

// requireMethod wraps next so that other methods get a 405 before any other check.
func (s *Server) requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.allowMethod(w, r, method) {
			next(w, r)
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, detail string, err error) {
	if err != nil {
		fields := []logger.Field{logger.Int("status", status), logger.Error(err)}
		if status >= http.StatusInternalServerError {
			s.logger.Error(r.Context(), "request failed", fields...)
		} else {
			s.logger.Debug(r.Context(), "request rejected", fields...)
		}
	}
	writeJSON(w, status, errorResponse{Detail: detail})
}
