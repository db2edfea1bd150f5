// Package httpapi exposes the score service over fasthttp.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-scoreboard/internal/leaderboard"
	"github.com/park285/cheese-scoreboard/internal/msgcat"
	"github.com/park285/cheese-scoreboard/internal/obslog"
	"github.com/park285/cheese-scoreboard/internal/render"
	"github.com/park285/cheese-scoreboard/internal/scoring"
	"github.com/park285/cheese-scoreboard/pkg/scoredto"
)

const (
	PathStartSession   = "/api/start-session"
	PathSubmitScore    = "/api/submit-score"
	PathLeaderboard    = "/api/leaderboard"
	PathLeaderboardPNG = "/api/leaderboard.png"
	PathHealth         = "/api/health"

	maxBodyBytes = 256 << 10
)

type Server struct {
	svc        *scoring.Service
	cat        *msgcat.Catalog
	cards      *render.Renderer
	corsOrigin string
	trustProxy bool
	maxName    int
	logger     *zap.Logger

	srv *fasthttp.Server
}

type Option func(*Server)

func WithCORSOrigin(origin string) Option { return func(s *Server) { s.corsOrigin = origin } }

// WithTrustProxy makes the first X-Forwarded-For hop the client identity.
func WithTrustProxy(trust bool) Option { return func(s *Server) { s.trustProxy = trust } }

func WithRenderer(r *render.Renderer) Option { return func(s *Server) { s.cards = r } }

func WithMaxNameRunes(n int) Option { return func(s *Server) { s.maxName = n } }

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

func New(svc *scoring.Service, cat *msgcat.Catalog, opts ...Option) *Server {
	s := &Server{
		svc:        svc,
		cat:        cat,
		corsOrigin: "*",
		maxName:    scoring.DefaultMaxNameRunes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = obslog.L()
	}
	if s.cards == nil {
		s.cards = render.New(cat)
	}
	s.srv = &fasthttp.Server{
		Handler:            s.Handler(),
		Name:               "score-server",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxRequestBodySize: maxBodyBytes,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error { return s.srv.ListenAndServe(addr) }

func (s *Server) Serve(ln net.Listener) error { return s.srv.Serve(ln) }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.ShutdownWithContext(ctx) }

func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		s.setCORS(ctx)
		if ctx.IsOptions() {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		switch string(ctx.Path()) {
		case PathStartSession:
			if s.allow(ctx, fasthttp.MethodPost) {
				s.startSession(ctx)
			}
		case PathSubmitScore:
			if s.allow(ctx, fasthttp.MethodPost) {
				s.submitScore(ctx)
			}
		case PathLeaderboard:
			if s.allow(ctx, fasthttp.MethodGet) {
				s.leaderboard(ctx)
			}
		case PathLeaderboardPNG:
			if s.allow(ctx, fasthttp.MethodGet) {
				s.leaderboardPNG(ctx)
			}
		case PathHealth:
			if s.allow(ctx, fasthttp.MethodGet) {
				writeJSON(ctx, fasthttp.StatusOK, s.svc.Health())
			}
		default:
			s.writeError(ctx, fasthttp.StatusNotFound, "not-found", nil, "not found")
		}
	}
}

func (s *Server) setCORS(ctx *fasthttp.RequestCtx) {
	h := &ctx.Response.Header
	h.Set("Access-Control-Allow-Origin", s.corsOrigin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Max-Age", "600")
	if s.corsOrigin != "*" {
		h.Set("Vary", "Origin")
	}
}

func (s *Server) allow(ctx *fasthttp.RequestCtx, method string) bool {
	m := string(ctx.Method())
	if m == method || (method == fasthttp.MethodGet && m == fasthttp.MethodHead) {
		return true
	}
	ctx.Response.Header.Set("Allow", method+", OPTIONS")
	s.writeError(ctx, fasthttp.StatusMethodNotAllowed, "method-not-allowed", nil, "method not allowed")
	return false
}

func (s *Server) startSession(ctx *fasthttp.RequestCtx) {
	sess, err := s.svc.StartSession(ctx, s.clientIdentity(ctx))
	switch {
	case errors.Is(err, scoring.ErrRateLimited):
		s.writeError(ctx, fasthttp.StatusTooManyRequests, "rate-limited", nil, err.Error())
		return
	case err != nil:
		s.logger.Error("start_session_failed", zap.Error(err))
		s.writeError(ctx, fasthttp.StatusInternalServerError, "internal", nil, "internal server error")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, scoredto.StartSessionResponse{
		SessionToken: sess.Token,
		StartTime:    sess.StartTime.UnixMilli(),
	})
}

func (s *Server) submitScore(ctx *fasthttp.RequestCtx) {
	var req scoredto.SubmitScoreRequest
	if err := decodeBody(ctx.PostBody(), &req); err != nil {
		s.logger.Debug("submit_bad_json", zap.Error(err))
		s.writeRejection(ctx, scoring.ReasonMissingFields)
		return
	}

	res, err := s.svc.Submit(ctx, s.clientIdentity(ctx), req)
	if err != nil {
		if reason, ok := scoring.ReasonOf(err); ok {
			s.writeRejection(ctx, reason)
			return
		}
		s.logger.Error("submit_failed", zap.Error(err))
		s.writeError(ctx, fasthttp.StatusInternalServerError, "internal", nil, "internal server error")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, scoredto.SubmitScoreResponse{
		Success:      true,
		Rank:         res.Rank,
		TotalPlayers: res.Total,
	})
}

func decodeBody(body []byte, out any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON object")
	}
	return nil
}

func (s *Server) leaderboard(ctx *fasthttp.RequestCtx) {
	limit := queryInt(ctx, "limit")
	writeJSON(ctx, fasthttp.StatusOK, s.svc.Leaderboard(leaderboard.ClampLimit(limit)))
}

func (s *Server) leaderboardPNG(ctx *fasthttp.RequestCtx) {
	rows := s.svc.Leaderboard(render.ClampRows(queryInt(ctx, "limit")))
	img, err := s.cards.PNG(rows)
	if err != nil {
		s.logger.Error("render_card_failed", zap.Error(err))
		s.writeError(ctx, fasthttp.StatusInternalServerError, "internal", nil, "internal server error")
		return
	}
	ctx.Response.Header.Set("Cache-Control", "no-store")
	ctx.SetContentType("image/png")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(img)
}

// queryInt returns 0 for a missing or unparsable value, which callers treat as "use the default".
func queryInt(ctx *fasthttp.RequestCtx, key string) int {
	raw := strings.TrimSpace(string(ctx.QueryArgs().Peek(key)))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) clientIdentity(ctx *fasthttp.RequestCtx) string {
	if s.trustProxy {
		if xff := string(ctx.Request.Header.Peek("X-Forwarded-For")); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	return ctx.RemoteIP().String()
}

func (s *Server) writeRejection(ctx *fasthttp.RequestCtx, reason scoring.Reason) {
	fallback := (&scoring.ValidationError{Reason: reason}).Error()
	s.writeError(ctx, reason.Status(), string(reason), map[string]any{"MaxName": s.maxName}, fallback)
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, status int, code string, data map[string]any, fallback string) {
	msg := s.cat.Text("errors."+code, data, fallback)
	writeJSON(ctx, status, scoredto.DomainError{Code: code, Message: msg})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"error":"internal server error"}`)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(raw)
}
