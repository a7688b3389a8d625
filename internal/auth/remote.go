package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// RemoteVerifier asks the auth service who a token belongs to.
type RemoteVerifier struct {
	baseURL string
	path    string
	http    *fasthttp.Client

	timeout  time.Duration
	retryMax int
}

var _ Authenticator = (*RemoteVerifier)(nil)

type RemoteOption func(*RemoteVerifier)

func WithRemoteTimeout(d time.Duration) RemoteOption {
	return func(v *RemoteVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

func WithRemoteRetry(max int) RemoteOption {
	return func(v *RemoteVerifier) { v.retryMax = max }
}

// WithRemotePath overrides the identity endpoint (default /api/auth/me).
func WithRemotePath(p string) RemoteOption {
	return func(v *RemoteVerifier) {
		if strings.TrimSpace(p) != "" {
			v.path = "/" + strings.TrimLeft(strings.TrimSpace(p), "/")
		}
	}
}

func WithHTTPClient(c *fasthttp.Client) RemoteOption {
	return func(v *RemoteVerifier) {
		if c != nil {
			v.http = c
		}
	}
}

func NewRemoteVerifier(baseURL string, opts ...RemoteOption) *RemoteVerifier {
	v := &RemoteVerifier{
		baseURL:  strings.TrimRight(baseURL, "/"),
		path:     "/api/auth/me",
		http:     &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 64},
		timeout:  3 * time.Second,
		retryMax: 3,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// identity accepts both {"id","username"} and {"user":{...}} bodies.
type identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	User     *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

func (v *RemoteVerifier) Authenticate(ctx context.Context, token string) (User, error) {
	token = BearerToken(token)
	if token == "" {
		return User{}, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(v.baseURL + v.path)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	attempts := v.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := v.http.DoDeadline(req, resp, v.deadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("auth request failed: %w", err)
			if attempt == attempts {
				return User{}, lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return User{}, lastErr
			}
			continue
		}

		status := resp.StatusCode()
		switch {
		case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden || status == fasthttp.StatusNotFound:
			return User{}, fmt.Errorf("%w: auth service status=%d", ErrInvalidCredential, status)
		case status < 200 || status >= 300:
			lastErr = fmt.Errorf("auth service error: status=%d body=%s", status, truncate(string(resp.Body()), 256))
			if attempt == attempts || !shouldRetryStatus(status) {
				return User{}, lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return User{}, lastErr
			}
			continue
		}

		var body identity
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			return User{}, fmt.Errorf("decode auth response: %w", err)
		}
		u := User{ID: strings.TrimSpace(body.ID), Username: strings.TrimSpace(body.Username)}
		if body.User != nil {
			u = User{ID: strings.TrimSpace(body.User.ID), Username: strings.TrimSpace(body.User.Username)}
		}
		if u.ID == "" {
			return User{}, fmt.Errorf("%w: auth service returned no user id", ErrInvalidCredential)
		}
		if u.Username == "" {
			u.Username = u.ID
		}
		return u, nil
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return User{}, lastErr
}

func (v *RemoteVerifier) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(v.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
