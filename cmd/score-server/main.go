package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-scoreboard/internal/audit"
	appcfg "github.com/park285/cheese-scoreboard/internal/config"
	"github.com/park285/cheese-scoreboard/internal/feed"
	"github.com/park285/cheese-scoreboard/internal/httpapi"
	"github.com/park285/cheese-scoreboard/internal/leaderboard"
	"github.com/park285/cheese-scoreboard/internal/msgcat"
	"github.com/park285/cheese-scoreboard/internal/obslog"
	"github.com/park285/cheese-scoreboard/internal/ratelimit"
	"github.com/park285/cheese-scoreboard/internal/render"
	"github.com/park285/cheese-scoreboard/internal/scoring"
	"github.com/park285/cheese-scoreboard/internal/session"
	"github.com/park285/cheese-scoreboard/pkg/scoredto"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}
	if cfg.UsingInsecureSecret {
		logger.Warn("insecure_secret", zap.String("hint", "set SCORE_SECRET; the development default must never reach production"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_error", zap.Error(err))
	}

	sinks := openAuditSinks(ctx, cfg, logger)
	defer func() { _ = sinks.Close() }()

	board := leaderboard.New(leaderboard.MaxEntries)
	hub := feed.NewHub(func() []scoredto.LeaderboardRow { return board.List(leaderboard.DefaultLimit) },
		feed.WithAllowedOrigin(cfg.CORSOrigin),
	)

	opts := []scoring.Option{scoring.WithPublisher(hub)}
	if len(sinks) > 0 {
		opts = append(opts, scoring.WithRecorder(sinks))
	}
	svc, err := scoring.NewService(
		session.NewStore(cfg.SessionTTL),
		ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow),
		board,
		scoring.Config{
			Rules: scoring.Rules{Secret: []byte(cfg.Secret), MaxCheckpoints: cfg.MaxCheckpoints},
		},
		opts...,
	)
	if err != nil {
		logger.Fatal("service_error", zap.Error(err))
	}
	go svc.Maintain(ctx, cfg.SweepInterval)

	api := httpapi.New(svc, cat,
		httpapi.WithCORSOrigin(cfg.CORSOrigin),
		httpapi.WithTrustProxy(cfg.TrustProxy),
		httpapi.WithRenderer(render.New(cat)),
	)
	errCh := make(chan error, 2)
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr()), zap.String("env", cfg.AppEnv))
		errCh <- api.ListenAndServe(cfg.Addr())
	}()

	var feedSrv *http.Server
	if strings.TrimSpace(cfg.FeedAddr) != "" {
		mux := http.NewServeMux()
		mux.Handle("/feed", hub)
		feedSrv = &http.Server{Addr: cfg.FeedAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("feed_listen", zap.String("addr", cfg.FeedAddr))
			if err := feedSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal")
	case err := <-errCh:
		if err != nil {
			logger.Error("listener_failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Close()
	if feedSrv != nil {
		_ = feedSrv.Shutdown(shutdownCtx)
	}
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown", zap.Error(err))
	}
}

// openAuditSinks connects the optional audit trail backends. A backend that is configured
// but unreachable is logged and skipped; scores keep being accepted without it.
func openAuditSinks(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) audit.Multi {
	var sinks audit.Multi
	if strings.TrimSpace(cfg.RedisURL) != "" {
		s, err := audit.NewRedisSink(ctx, cfg.RedisURL, cfg.AuditRedisMax)
		if err != nil {
			logger.Warn("audit_redis_disabled", zap.Error(err))
		} else {
			sinks = append(sinks, s)
		}
	}
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		s, err := audit.NewPostgresSink(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn("audit_postgres_disabled", zap.Error(err))
		} else {
			sinks = append(sinks, s)
		}
	}
	return sinks
}
