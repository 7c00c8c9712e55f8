// Package downstream holds thin typed clients for the user, budget and
// ranking services. Each call is a single attempt bounded by a timeout.
package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/matcha-composite/pkg/logger"
	"github.com/okian/matcha-composite/pkg/metrics"
)

// Service names used in errors, logs and metrics.
const (
	ServiceUser    = "user"
	ServiceBudget  = "budget"
	ServiceRanking = "ranking"
)

const (
	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 4 << 20

	outcomeOK       = "ok"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
)

// Option configures a gateway.
type Option func(*client)

// WithTimeout bounds every request made by the gateway.
func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Its own Timeout is
// overwritten by the gateway timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger used for failed calls.
func WithLogger(l logger.Logger) Option {
	return func(c *client) {
		if l != nil {
			c.logger = l
		}
	}
}

type client struct {
	service string
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  logger.Logger
}

func newClient(service, baseURL string, opts ...Option) (*client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%s service %q: %w", service, baseURL, ErrInvalidBaseURL)
	}
	c := &client{
		service: service,
		baseURL: strings.TrimRight(u.String(), "/"),
		timeout: defaultTimeout,
		http:    &http.Client{},
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	hc := *c.http
	hc.Timeout = c.timeout
	c.http = &hc
	c.logger = c.logger.Named("downstream").With(logger.String("service", service))
	return c, nil
}

// getJSON issues GET baseURL+path?query and decodes a 2xx body into out.
// Non-2xx statuses, transport failures, undecodable bodies and bodies
// rejected by check all return a *DownstreamError. check may be nil.
func (c *client) getJSON(ctx context.Context, path string, query url.Values, out any, check func() error) error {
	start := time.Now()
	outcome := outcomeError
	defer func() {
		metrics.RecordDownstreamCall(c.service, outcome, float64(time.Since(start).Milliseconds()))
	}()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return c.fail(ctx, 0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(ctx, 0, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		outcome = outcomeNotFound
		return &DownstreamError{Service: c.service, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fail(ctx, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return c.fail(ctx, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if check != nil {
		if err := check(); err != nil {
			return c.fail(ctx, resp.StatusCode, fmt.Errorf("invalid response: %w", err))
		}
	}
	outcome = outcomeOK
	return nil
}

func (c *client) fail(ctx context.Context, status int, err error) error {
	derr := &DownstreamError{Service: c.service, StatusCode: status, Err: err}
	c.logger.Warn(ctx, "downstream call failed", logger.Int("status", status), logger.Error(err))
	return derr
}

func isStatus(err error, status int) bool {
	var derr *DownstreamError
	return errors.As(err, &derr) && derr.StatusCode == status
}
