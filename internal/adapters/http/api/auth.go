package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/okian/matcha-composite/internal/auth"
	"github.com/okian/matcha-composite/pkg/metrics"
)

const (
	defaultDevEmail = "demo@matcha.app"
	maxAuthBody     = 64 << 10
)

type devLoginRequest struct {
	Email string `json:"email"`
}

type googleLoginRequest struct {
	IDToken string `json:"id_token"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// handleDevLogin handles POST /auth/dev-login. An empty body logs in as the demo user.
func (s *Server) handleDevLogin(w http.ResponseWriter, r *http.Request) {
	const op = "api.dev_login"
	if !s.devLogin {
		s.writeError(w, r, http.StatusNotFound, "Not Found", NewKind(op, ErrDevLoginOff))
		return
	}

	var req devLoginRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, "Invalid request body", WrapKind(op, ErrBadRequest, err))
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = defaultDevEmail
	}
	s.issue(w, r, op, "dev", email)
}

// handleGoogleLogin handles POST /auth/google.
func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	const op = "api.google_login"
	if s.exchanger == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "Google login not configured", NewKind(op, ErrUnsupportedAuth))
		return
	}

	var req googleLoginRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, "Invalid request body", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		s.writeError(w, r, http.StatusUnprocessableEntity, "id_token is required", NewKind(op, ErrBadRequest))
		return
	}

	tok, err := s.exchanger.Exchange(r.Context(), req.IDToken)
	switch {
	case err == nil:
		metrics.RecordTokenIssued("google")
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: tok.AccessToken, TokenType: tok.TokenType})
	case errors.Is(err, auth.ErrMissingEmail):
		metrics.RecordAuthFailure("google_missing_email")
		s.writeError(w, r, http.StatusUnauthorized, "Google token missing email", Wrap(op, err))
	case errors.Is(err, auth.ErrUnauthenticated):
		metrics.RecordAuthFailure("google_invalid")
		s.writeError(w, r, http.StatusUnauthorized, "Invalid Google ID token", Wrap(op, err))
	default:
		s.writeError(w, r, http.StatusInternalServerError, "Internal server error", Wrap(op, err))
	}
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, op, method, subject string) {
	if s.tokens == nil {
		s.writeError(w, r, http.StatusInternalServerError, "Internal server error", NewKind(op, ErrUnsupportedAuth))
		return
	}
	tok, err := s.tokens.Issue(subject)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "Internal server error", Wrap(op, err))
		return
	}
	metrics.RecordTokenIssued(method)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: tok.AccessToken, TokenType: tok.TokenType})
}

// decodeOptionalJSON decodes the request body into v. An empty body leaves v untouched.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxAuthBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
