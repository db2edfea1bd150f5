package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-scoreboard/internal/leaderboard"
	"github.com/park285/cheese-scoreboard/internal/msgcat"
	"github.com/park285/cheese-scoreboard/internal/ratelimit"
	"github.com/park285/cheese-scoreboard/internal/scoring"
	"github.com/park285/cheese-scoreboard/internal/session"
	"github.com/park285/cheese-scoreboard/internal/signature"
	"github.com/park285/cheese-scoreboard/pkg/scoredto"
)

var secret = []byte("http-test-secret")

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	srv *Server
	clk *clock
	h   fasthttp.RequestHandler
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clk := &clock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	svc, err := scoring.NewService(
		session.NewStore(10*time.Minute, session.WithClock(clk.Now)),
		ratelimit.New(10, time.Hour, ratelimit.WithClock(clk.Now)),
		leaderboard.New(leaderboard.MaxEntries),
		scoring.Config{Rules: scoring.Rules{Secret: secret}},
		scoring.WithClock(clk.Now),
		scoring.WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	cat, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	srv := New(svc, cat, opts...)
	return &harness{srv: srv, clk: clk, h: srv.Handler()}
}

type result struct {
	status int
	body   []byte
	header *fasthttp.ResponseHeader
}

func (h *harness) do(method, uri string, body []byte, headers map[string]string) result {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP("203.0.113.9"), Port: 5555}, nil)
	h.h(&ctx)

	hdr := &fasthttp.ResponseHeader{}
	ctx.Response.Header.CopyTo(hdr)
	return result{
		status: ctx.Response.StatusCode(),
		body:   append([]byte(nil), ctx.Response.Body()...),
		header: hdr,
	}
}

func (h *harness) start(t *testing.T) scoredto.StartSessionResponse {
	t.Helper()
	res := h.do(fasthttp.MethodPost, "http://x/api/start-session", nil, nil)
	if res.status != fasthttp.StatusOK {
		t.Fatalf("start-session status %d: %s", res.status, res.body)
	}
	var out scoredto.StartSessionResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func submitBody(token, name string, finalTime, miss int64, cps []any) []byte {
	tag := signature.Sign(secret, signature.Fields{
		SessionToken: token, PlayerName: name, FinalTime: finalTime, MissCount: miss, Checkpoints: cps,
	})
	raw, _ := json.Marshal(map[string]any{
		"sessionToken": token,
		"playerName":   name,
		"finalTime":    finalTime,
		"missCount":    miss,
		"checkpoints":  cps,
		"signature":    tag,
	})
	return raw
}

func decodeError(t *testing.T, body []byte) scoredto.DomainError {
	t.Helper()
	var e scoredto.DomainError
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode error body %s: %v", body, err)
	}
	return e
}

func TestStartAndSubmit(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	if len(sess.SessionToken) != 64 || sess.StartTime != h.clk.Now().UnixMilli() {
		t.Fatalf("unexpected session response: %+v", sess)
	}

	h.clk.Advance(44 * time.Second)
	body := submitBody(sess.SessionToken, "Ada", 45000, 2, []any{15000, 30000})
	res := h.do(fasthttp.MethodPost, "http://x/api/submit-score", body, nil)
	if res.status != fasthttp.StatusOK {
		t.Fatalf("submit status %d: %s", res.status, res.body)
	}
	var out scoredto.SubmitScoreResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || out.Rank != 1 || out.TotalPlayers != 1 {
		t.Fatalf("unexpected submit response: %+v", out)
	}

	res = h.do(fasthttp.MethodPost, "http://x/api/submit-score", body, nil)
	if res.status != fasthttp.StatusBadRequest {
		t.Fatalf("replay status %d", res.status)
	}
	if e := decodeError(t, res.body); e.Code != "session-reused" || e.Message != "Session already used" {
		t.Fatalf("unexpected replay error: %+v", e)
	}

	res = h.do(fasthttp.MethodGet, "http://x/api/leaderboard", nil, nil)
	var rows []map[string]any
	if err := json.Unmarshal(res.body, &rows); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if len(rows) != 1 || rows[0]["playerName"] != "Ada" || rows[0]["finalTime"] != float64(45000) {
		t.Fatalf("unexpected leaderboard: %s", res.body)
	}
	if _, leaked := rows[0]["clientIdentity"]; leaked {
		t.Fatalf("client identity must not be exposed")
	}
	if bytes.Contains(res.body, []byte("203.0.113.9")) {
		t.Fatalf("leaderboard leaks client ip: %s", res.body)
	}
}

func TestSubmitErrorStatuses(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	h.clk.Advance(40 * time.Second)

	cases := []struct {
		name   string
		body   []byte
		status int
		code   string
	}{
		{"malformed json", []byte(`{"sessionToken":`), 400, "missing-fields"},
		{"empty body", []byte(``), 400, "missing-fields"},
		{"no signature", []byte(`{"sessionToken":"` + sess.SessionToken + `","playerName":"A","finalTime":40000}`), 400, "missing-fields"},
		{"unknown session", submitBody("feedface", "Ada", 40000, 0, nil), 401, "invalid-session"},
		{"bad signature", bytes.Replace(submitBody(sess.SessionToken, "Ada", 40000, 0, nil), []byte(`"Ada"`), []byte(`"Eve"`), 1), 401, "bad-signature"},
		{"time mismatch", submitBody(sess.SessionToken, "Ada", 55000, 0, nil), 400, "time-mismatch"},
		{"blank name", submitBody(sess.SessionToken, "  ", 40000, 0, nil), 400, "invalid-name-length"},
		{"quoted finalTime", bytes.Replace(submitBody(sess.SessionToken, "Ada", 40000, 0, nil), []byte(`"finalTime":40000`), []byte(`"finalTime":"40000"`), 1), 400, "missing-fields"},
		{"oversized finalTime", bytes.Replace(submitBody(sess.SessionToken, "Ada", 40000, 0, nil), []byte(`"finalTime":40000`), []byte(`"finalTime":9223372036854775807`), 1), 400, "missing-fields"},
		{"padded token", submitBody(sess.SessionToken+" ", "Ada", 40000, 0, nil), 401, "invalid-session"},
	}
	for _, c := range cases {
		res := h.do(fasthttp.MethodPost, "http://x/api/submit-score", c.body, nil)
		if res.status != c.status {
			t.Fatalf("%s: status %d, want %d (%s)", c.name, res.status, c.status, res.body)
		}
		if e := decodeError(t, res.body); e.Code != c.code || e.Message == "" {
			t.Fatalf("%s: unexpected error %+v", c.name, e)
		}
	}

	res := h.do(fasthttp.MethodPost, "http://x/api/submit-score", submitBody(sess.SessionToken, "  ", 40000, 0, nil), nil)
	if e := decodeError(t, res.body); e.Message != "Player name must be 1-20 characters" {
		t.Fatalf("unexpected name message %q", e.Message)
	}
}

func TestSuspiciousTime(t *testing.T) {
	h := newHarness(t)
	sess := h.start(t)
	h.clk.Advance(29999 * time.Millisecond)
	res := h.do(fasthttp.MethodPost, "http://x/api/submit-score", submitBody(sess.SessionToken, "Ada", 29999, 0, nil), nil)
	if res.status != 400 || decodeError(t, res.body).Code != "suspicious-time" {
		t.Fatalf("expected suspicious-time, got %d %s", res.status, res.body)
	}
}

func TestRateLimitPerIdentity(t *testing.T) {
	h := newHarness(t, WithTrustProxy(true))
	hdr := map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}
	for i := 0; i < 10; i++ {
		if res := h.do(fasthttp.MethodPost, "http://x/api/start-session", nil, hdr); res.status != 200 {
			t.Fatalf("call %d: status %d", i+1, res.status)
		}
	}
	res := h.do(fasthttp.MethodPost, "http://x/api/start-session", nil, hdr)
	if res.status != fasthttp.StatusTooManyRequests || decodeError(t, res.body).Code != "rate-limited" {
		t.Fatalf("expected 429, got %d %s", res.status, res.body)
	}

	// another forwarded client has its own quota
	other := map[string]string{"X-Forwarded-For": "198.51.100.2"}
	if res := h.do(fasthttp.MethodPost, "http://x/api/start-session", nil, other); res.status != 200 {
		t.Fatalf("other client should be allowed, got %d", res.status)
	}

	h.clk.Advance(time.Hour + time.Second)
	if res := h.do(fasthttp.MethodPost, "http://x/api/start-session", nil, hdr); res.status != 200 {
		t.Fatalf("after window: status %d", res.status)
	}
}

func TestForwardedForIgnoredWithoutTrust(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 10; i++ {
		h.do(fasthttp.MethodPost, "http://x/api/start-session", nil, map[string]string{"X-Forwarded-For": fmt.Sprintf("10.0.0.%d", i)})
	}
	res := h.do(fasthttp.MethodPost, "http://x/api/start-session", nil, map[string]string{"X-Forwarded-For": "10.9.9.9"})
	if res.status != fasthttp.StatusTooManyRequests {
		t.Fatalf("spoofed header must not bypass the limit, got %d", res.status)
	}
}

func TestLeaderboardLimit(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		sess := h.start(t)
		ft := int64(40000 + i*1000)
		h.clk.Advance(time.Duration(ft) * time.Millisecond)
		res := h.do(fasthttp.MethodPost, "http://x/api/submit-score", submitBody(sess.SessionToken, fmt.Sprintf("p%d", i), ft, 0, nil), nil)
		if res.status != 200 {
			t.Fatalf("submit %d: %d %s", i, res.status, res.body)
		}
	}
	cases := map[string]int{"": 3, "?limit=2": 2, "?limit=abc": 3, "?limit=-1": 3, "?limit=1000": 3}
	for q, want := range cases {
		res := h.do(fasthttp.MethodGet, "http://x/api/leaderboard"+q, nil, nil)
		var rows []scoredto.LeaderboardRow
		if err := json.Unmarshal(res.body, &rows); err != nil {
			t.Fatalf("%q: decode: %v", q, err)
		}
		if len(rows) != want {
			t.Fatalf("%q: got %d rows, want %d", q, len(rows), want)
		}
		if rows[0].PlayerName != "p0" || rows[0].Rank != 1 {
			t.Fatalf("%q: unexpected order %+v", q, rows)
		}
	}
}

func TestEmptyLeaderboardIsArray(t *testing.T) {
	h := newHarness(t)
	res := h.do(fasthttp.MethodGet, "http://x/api/leaderboard", nil, nil)
	if string(res.body) != "[]" {
		t.Fatalf("expected empty array, got %s", res.body)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	res := h.do(fasthttp.MethodGet, "http://x/api/health", nil, nil)
	var out scoredto.HealthResponse
	if err := json.Unmarshal(res.body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "ok" || out.Sessions != 1 || out.Scores != 0 {
		t.Fatalf("unexpected health %+v", out)
	}
}

func TestLeaderboardPNG(t *testing.T) {
	h := newHarness(t)
	res := h.do(fasthttp.MethodGet, "http://x/api/leaderboard.png?limit=5", nil, nil)
	if res.status != 200 || string(res.header.ContentType()) != "image/png" {
		t.Fatalf("unexpected response %d %s", res.status, res.header.ContentType())
	}
	if _, err := png.Decode(bytes.NewReader(res.body)); err != nil {
		t.Fatalf("decode png: %v", err)
	}
}

func TestRoutingAndCORS(t *testing.T) {
	h := newHarness(t, WithCORSOrigin("https://game.example.com"))

	res := h.do(fasthttp.MethodOptions, "http://x/api/submit-score", nil, nil)
	if res.status != fasthttp.StatusNoContent {
		t.Fatalf("preflight status %d", res.status)
	}
	if got := string(res.header.Peek("Access-Control-Allow-Origin")); got != "https://game.example.com" {
		t.Fatalf("unexpected allow-origin %q", got)
	}

	res = h.do(fasthttp.MethodGet, "http://x/api/nope", nil, nil)
	if res.status != fasthttp.StatusNotFound || decodeError(t, res.body).Message != "Not found" {
		t.Fatalf("unexpected 404 response %d %s", res.status, res.body)
	}

	res = h.do(fasthttp.MethodGet, "http://x/api/start-session", nil, nil)
	if res.status != fasthttp.StatusMethodNotAllowed || string(res.header.Peek("Allow")) != "POST, OPTIONS" {
		t.Fatalf("unexpected 405 response %d %q", res.status, res.header.Peek("Allow"))
	}
	res = h.do(fasthttp.MethodPost, "http://x/api/leaderboard", nil, nil)
	if res.status != fasthttp.StatusMethodNotAllowed {
		t.Fatalf("POST leaderboard status %d", res.status)
	}
}
