package auth

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is matched by every credential failure in this package.
var ErrUnauthenticated = errors.New("unauthenticated")

// Credential failures. Each one satisfies errors.Is(err, ErrUnauthenticated).
var (
	ErrMissingToken         = fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	ErrInvalidToken         = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	ErrTokenExpired         = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	ErrInvalidIdentityToken = fmt.Errorf("%w: invalid identity token", ErrUnauthenticated)
	ErrMissingEmail         = fmt.Errorf("%w: identity token missing email", ErrUnauthenticated)
)

// Configuration and key errors.
var (
	ErrInvalidConfig = errors.New("invalid auth config")
	ErrEmptySubject  = errors.New("token subject must not be empty")
	ErrUnknownKey    = errors.New("unknown signing key")
	ErrFetchKeys     = errors.New("fetch signing keys failed")
)
