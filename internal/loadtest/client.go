package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const maxBody = 4 << 20

// httpClient wraps http.Client with the service's routes.
type httpClient struct {
	client  *http.Client
	baseURL string
}

func newHTTPClient(baseURL string, timeout time.Duration) *httpClient {
	return &httpClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *httpClient) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

func (c *httpClient) devLogin(ctx context.Context, email string) (string, error) {
	body := "{}"
	if email != "" {
		raw, err := json.Marshal(map[string]string{"email": email})
		if err != nil {
			return "", err
		}
		body = string(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/dev-login", strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("dev login: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dev login failed with status: %d", resp.StatusCode)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&tok); err != nil {
		return "", fmt.Errorf("dev login: decode: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("dev login returned no token")
	}
	return tok.AccessToken, nil
}

// outcome of one summary request.
type outcome struct {
	status   int
	degraded bool
	latency  time.Duration
	err      error
}

func (c *httpClient) summary(ctx context.Context, token, userID string, limit int) outcome {
	target := c.baseURL + "/summary/users/" + url.PathEscape(userID)
	if limit > 0 {
		target += "?limit=" + strconv.Itoa(limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return outcome{err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return outcome{err: err, latency: time.Since(start)}
	}
	defer func() { _ = resp.Body.Close() }()

	out := outcome{status: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		var body struct {
			Degraded []string `json:"degraded"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&body); err != nil {
			out.err = fmt.Errorf("decode summary: %w", err)
		}
		out.degraded = len(body.Degraded) > 0
	} else {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	}
	out.latency = time.Since(start)
	return out
}
