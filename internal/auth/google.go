package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultGoogleCertsURL publishes Google's ID-token signing keys as a JWKS.
	DefaultGoogleCertsURL = "https://www.googleapis.com/oauth2/v3/certs"

	defaultKeyTTL        = time.Hour
	defaultKeyTimeout    = 5 * time.Second
	defaultMinKeyRefresh = time.Minute
	maxJWKSBytes         = 1 << 20
)

var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// KeySet caches RSA keys from a JWKS endpoint. An unknown kid or an
// expired cache triggers a refresh, at most once per minimum refresh
// interval. Concurrent refreshes share one fetch that outlives the caller
// that started it.
type KeySet struct {
	url        string
	http       *http.Client
	ttl        time.Duration
	minRefresh time.Duration
	timeout    time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetched   time.Time
	attempted time.Time
	lastErr   error

	group singleflight.Group
}

// KeySetOption configures a KeySet.
type KeySetOption func(*KeySet)

// WithKeyTTL sets how long fetched keys are trusted before a refresh.
func WithKeyTTL(d time.Duration) KeySetOption {
	return func(k *KeySet) {
		if d > 0 {
			k.ttl = d
		}
	}
}

// WithKeyMinRefresh sets the minimum time between two fetches.
func WithKeyMinRefresh(d time.Duration) KeySetOption {
	return func(k *KeySet) {
		if d > 0 {
			k.minRefresh = d
		}
	}
}

// WithKeyHTTPClient replaces the HTTP client used to fetch keys.
func WithKeyHTTPClient(hc *http.Client) KeySetOption {
	return func(k *KeySet) {
		if hc != nil {
			k.http = hc
		}
	}
}

// WithKeyClock overrides the clock used for cache expiry.
func WithKeyClock(now func() time.Time) KeySetOption {
	return func(k *KeySet) {
		if now != nil {
			k.now = now
		}
	}
}

// NewKeySet creates a KeySet reading from url.
func NewKeySet(url string, opts ...KeySetOption) *KeySet {
	if strings.TrimSpace(url) == "" {
		url = DefaultGoogleCertsURL
	}
	k := &KeySet{
		url:        url,
		http:       &http.Client{Timeout: defaultKeyTimeout},
		ttl:        defaultKeyTTL,
		minRefresh: defaultMinKeyRefresh,
		timeout:    defaultKeyTimeout,
		now:        time.Now,
		keys:       map[string]*rsa.PublicKey{},
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Key returns the public key for kid. A stale key is still returned when a
// refresh fails or is throttled.
func (k *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	key, ok := k.keys[kid]
	now := k.now()
	fresh := !k.fetched.IsZero() && now.Sub(k.fetched) < k.ttl
	throttled := !k.attempted.IsZero() && now.Sub(k.attempted) < k.minRefresh
	lastErr := k.lastErr
	k.mu.RUnlock()
	if ok && (fresh || throttled) {
		return key, nil
	}
	if throttled {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
	}

	if err := k.refresh(ctx); err != nil {
		if ok {
			return key, nil
		}
		return nil, err
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if key, ok := k.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

func (k *KeySet) refresh(ctx context.Context) error {
	ch := k.group.DoChan("jwks", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
		defer cancel()
		keys, err := k.fetch(fetchCtx)

		k.mu.Lock()
		defer k.mu.Unlock()
		k.attempted = k.now()
		k.lastErr = err
		if err != nil {
			return nil, err
		}
		k.keys = keys
		k.fetched = k.attempted
		return nil, nil
	})
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrFetchKeys, ctx.Err())
	case res := <-ch:
		return res.Err
	}
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k *KeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchKeys, err)
	}
	resp, err := k.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchKeys, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchKeys, resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrFetchKeys, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, key := range doc.Keys {
		if key.Kty != "RSA" || key.Kid == "" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		pub, err := parseRSAKey(key.N, key.E)
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no usable keys", ErrFetchKeys)
	}
	return keys, nil
}

func parseRSAKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(n, "="))
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(e, "="))
	if err != nil {
		return nil, err
	}
	exp := new(big.Int).SetBytes(eb)
	if len(nb) == 0 || !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, errors.New("malformed rsa key")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp.Int64())}, nil
}

// Identity is the verified subject of a third-party ID token.
type Identity struct {
	Subject string
	Email   string
}

// IdentityVerifier validates a third-party ID token.
type IdentityVerifier interface {
	VerifyIDToken(ctx context.Context, raw string) (Identity, error)
}

type keySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// GoogleVerifier checks Google ID tokens: RS256 signature against Google's
// keys, audience equal to the configured client id, a Google issuer and an
// unexpired exp.
type GoogleVerifier struct {
	keys     keySource
	clientID string
	now      func() time.Time
}

// NewGoogleVerifier returns a verifier for tokens issued to clientID.
func NewGoogleVerifier(keys *KeySet, clientID string, now func() time.Time) *GoogleVerifier {
	if now == nil {
		now = time.Now
	}
	return &GoogleVerifier{keys: keys, clientID: strings.TrimSpace(clientID), now: now}
}

type googleClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// VerifyIDToken implements IdentityVerifier.
func (v *GoogleVerifier) VerifyIDToken(ctx context.Context, raw string) (Identity, error) {
	if v.clientID == "" {
		return Identity{}, fmt.Errorf("%w: client id not configured", ErrInvalidIdentityToken)
	}
	var claims googleClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keys.Key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentityToken, err)
	}
	if !validGoogleIssuer(claims.Issuer) {
		return Identity{}, fmt.Errorf("%w: issuer %q", ErrInvalidIdentityToken, claims.Issuer)
	}
	email := strings.TrimSpace(claims.Email)
	if email == "" {
		return Identity{}, ErrMissingEmail
	}
	return Identity{Subject: claims.Subject, Email: email}, nil
}

func validGoogleIssuer(iss string) bool {
	for _, allowed := range googleIssuers {
		if iss == allowed {
			return true
		}
	}
	return false
}

// Exchanger trades a verified third-party ID token for a local access token.
type Exchanger struct {
	verifier IdentityVerifier
	tokens   *Manager
}

// NewExchanger wires a verifier to the token manager.
func NewExchanger(verifier IdentityVerifier, tokens *Manager) *Exchanger {
	return &Exchanger{verifier: verifier, tokens: tokens}
}

// Exchange verifies idToken and issues a token whose subject is its email.
func (e *Exchanger) Exchange(ctx context.Context, idToken string) (Token, error) {
	if strings.TrimSpace(idToken) == "" {
		return Token{}, fmt.Errorf("%w: empty id token", ErrInvalidIdentityToken)
	}
	identity, err := e.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return Token{}, err
	}
	return e.tokens.Issue(identity.Email)
}
