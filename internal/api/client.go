// Package api implements the Cafe backend client: a typed HTTP client with
// exponential-backoff retry for transient failures, response classification,
// and a session-expired broadcast for irrecoverable authentication failures.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/scawful/halext-org-sub003/internal/config"
)

// TokenSource supplies the bearer token for a single attempt. Implementations
// are expected to read from durable storage on every call rather than caching;
// the client never holds a token across attempts.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed-value TokenSource, mostly useful in tests.
type StaticToken string

func (s StaticToken) Token() (string, error) { return string(s), nil }

type Client struct {
	baseURL    *url.URL
	http       *http.Client
	userAgent  string
	accessCode string
	tokens     TokenSource
	sessions   *SessionNotifier
	log        zerolog.Logger

	maxRetries int
	baseDelay  time.Duration

	// sleep suspends the calling goroutine for the backoff duration; tests
	// substitute a recorder.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg config.APIConfig, tokens TokenSource, log zerolog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base URL scheme %q", base.Scheme)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 1 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "cafe-go/0.1"
	}

	return &Client{
		baseURL:    base,
		http:       &http.Client{Timeout: cfg.Timeout},
		userAgent:  userAgent,
		accessCode: cfg.AccessCode,
		tokens:     tokens,
		sessions:   NewSessionNotifier(),
		log:        log,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      sleepCtx,
	}, nil
}

// Sessions exposes the session-expired broadcast fed by 401 classification.
func (c *Client) Sessions() *SessionNotifier {
	return c.sessions
}

// Do issues one logical API call: at most 1+maxRetries sequential attempts
// sharing a single counter for transport failures and 5xx responses. The body
// is resent verbatim on each attempt; the bearer token is re-read from the
// token source per attempt. On 2xx the response bytes are decoded into out
// (skipped when out is nil).
func (c *Client) Do(ctx context.Context, method, path string, body []byte, out any) error {
	u := c.baseURL.JoinPath(path)

	for attempt := 0; ; attempt++ {
		status, data, err := c.attempt(ctx, method, u, body)
		if err != nil {
			if ctx.Err() != nil {
				return &TransportError{Err: ctx.Err()}
			}
			if attempt < c.maxRetries {
				delay := c.backoff(attempt)
				c.log.Warn().
					Str("method", method).
					Str("path", path).
					Int("attempt", attempt+1).
					Dur("retry_in", delay).
					Err(err).
					Msg("transport failure, retrying")
				if serr := c.sleep(ctx, delay); serr != nil {
					return &TransportError{Err: serr}
				}
				continue
			}
			return &TransportError{Err: err}
		}

		switch {
		case status >= 200 && status < 300:
			if out == nil {
				return nil
			}
			return decodeJSON(data, out)

		case status == http.StatusUnauthorized:
			c.log.Info().Str("path", path).Msg("unauthorized, broadcasting session expiry")
			c.sessions.emit()
			return &AuthError{}

		case status >= 500:
			if attempt < c.maxRetries {
				delay := c.backoff(attempt)
				c.log.Warn().
					Str("method", method).
					Str("path", path).
					Int("status", status).
					Int("attempt", attempt+1).
					Dur("retry_in", delay).
					Msg("server error, retrying")
				if serr := c.sleep(ctx, delay); serr != nil {
					return &TransportError{Err: serr}
				}
				continue
			}
			return classifyFailure(status, data)

		default:
			return classifyFailure(status, data)
		}
	}
}

// DoJSON marshals in as the request body and delegates to Do.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}
	return c.Do(ctx, method, path, body, out)
}

func (c *Client) attempt(ctx context.Context, method string, u *url.URL, body []byte) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return 0, nil, err
	}

	token, err := c.tokens.Token()
	if err != nil {
		return 0, nil, fmt.Errorf("read credential: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.accessCode != "" {
		req.Header.Set("X-Access-Code", c.accessCode)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	return c.baseDelay << attempt
}

// classifyFailure maps a terminal non-2xx response to a typed error. HTML
// bodies are recognized before any JSON parsing so a gateway error page is
// never mistaken for an API envelope.
func classifyFailure(status int, body []byte) error {
	if isHTML(body) {
		switch status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return &GatewayError{Status: status}
		}
		return &ServerError{Status: status}
	}

	var env struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Detail != "" {
		return &ClientError{Status: status, Detail: env.Detail}
	}

	if status >= 500 {
		return &ServerError{Status: status}
	}
	return &ClientError{Status: status}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
