package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/okian/matcha-composite/internal/adapters/downstream"
	service "github.com/okian/matcha-composite/internal/app"
	"github.com/okian/matcha-composite/internal/auth"
)

const summaryPrefix = "/summary/users/"

// handleUserSummary handles GET /summary/users/{userId}?limit=N.
func (s *Server) handleUserSummary(w http.ResponseWriter, r *http.Request) {
	const op = "api.user_summary"
	userID, ok := summaryUserID(r.URL)
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "Not Found", nil)
		return
	}
	limit, err := s.parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, r, http.StatusUnprocessableEntity, err.Error(), WrapKind(op, ErrInvalidLimit, err))
		return
	}
	if s.summaries == nil {
		s.writeError(w, r, http.StatusInternalServerError, "Internal server error", NewKind(op, service.ErrNotConfigured))
		return
	}

	res, err := s.summaries.UserSummary(r.Context(), userID, limit)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, downstream.ErrUserNotFound):
		s.writeError(w, r, http.StatusNotFound, "User not found", nil)
	case errors.Is(err, auth.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", "Bearer")
		s.writeError(w, r, http.StatusUnauthorized, "Not authenticated", Wrap(op, err))
	case errors.Is(err, service.ErrUserUnavailable), errors.Is(err, downstream.ErrDownstream):
		s.writeError(w, r, http.StatusBadGateway, "User service unavailable", Wrap(op, err))
	default:
		s.writeError(w, r, http.StatusInternalServerError, "Internal server error", Wrap(op, err))
	}
}

// summaryUserID extracts the single path segment after the route prefix.
func summaryUserID(u *url.URL) (string, bool) {
	raw := strings.TrimPrefix(u.EscapedPath(), summaryPrefix)
	if raw == "" || strings.Contains(raw, "/") {
		return "", false
	}
	id, err := url.PathUnescape(raw)
	if err != nil || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

func (s *Server) parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if limit < 1 {
		return 0, errors.New("limit must be at least 1")
	}
	if limit > s.maxLimit {
		return 0, fmt.Errorf("limit must be at most %d", s.maxLimit)
	}
	return limit, nil
}
