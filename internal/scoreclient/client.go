// Package scoreclient is a fasthttp client for the score API, used by tooling and tests.
package scoreclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/cheese-scoreboard/internal/signature"
	"github.com/park285/cheese-scoreboard/pkg/scoredto"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("score api error: status=%d code=%s msg=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("score api error: status=%d msg=%s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithDial overrides how connections are opened, e.g. an in-memory listener in tests.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) StartSession(ctx context.Context) (*scoredto.StartSessionResponse, error) {
	var out scoredto.StartSessionResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/start-session", nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit posts req as is. Submissions are never retried: a retried accept would come back as session-reused.
func (c *Client) Submit(ctx context.Context, req scoredto.SubmitScoreRequest) (*scoredto.SubmitScoreResponse, error) {
	var out scoredto.SubmitScoreResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/submit-score", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Run describes a finished attempt to be signed and submitted.
type Run struct {
	SessionToken string
	PlayerName   string
	FinalTime    int64
	MissCount    int64
	Checkpoints  []any
}

// SubmitSigned signs run with secret the same way a game client does and submits it.
func (c *Client) SubmitSigned(ctx context.Context, secret []byte, run Run) (*scoredto.SubmitScoreResponse, error) {
	tag := signature.Sign(secret, signature.Fields{
		SessionToken: run.SessionToken,
		PlayerName:   run.PlayerName,
		FinalTime:    run.FinalTime,
		MissCount:    run.MissCount,
		Checkpoints:  run.Checkpoints,
	})
	ft := scoredto.Number(strconv.FormatInt(run.FinalTime, 10))
	mc := scoredto.Number(strconv.FormatInt(run.MissCount, 10))
	return c.Submit(ctx, scoredto.SubmitScoreRequest{
		SessionToken: &run.SessionToken,
		PlayerName:   &run.PlayerName,
		FinalTime:    &ft,
		MissCount:    &mc,
		Checkpoints:  run.Checkpoints,
		Signature:    &tag,
	})
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]scoredto.LeaderboardRow, error) {
	path := "/api/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var rows []scoredto.LeaderboardRow
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &rows, true); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) Health(ctx context.Context) (*scoredto.HealthResponse, error) {
	var out scoredto.HealthResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/health", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			lastErr = decodeAPIError(status, resp.Body())
			if !shouldRetryStatus(status) {
				return lastErr
			}
		} else {
			if out != nil {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func decodeAPIError(status int, body []byte) *APIError {
	var de scoredto.DomainError
	if err := json.Unmarshal(body, &de); err != nil || de.Message == "" {
		return &APIError{Status: status, Message: truncate(string(body), 512)}
	}
	return &APIError{Status: status, Code: de.Code, Message: de.Message}
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
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
	return s[:n]
}
