package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-scoreboard/internal/leaderboard"
	"github.com/park285/cheese-scoreboard/internal/obslog"
	"github.com/park285/cheese-scoreboard/internal/ratelimit"
	"github.com/park285/cheese-scoreboard/internal/session"
	"github.com/park285/cheese-scoreboard/pkg/scoredto"
)

const auditTimeout = 3 * time.Second

// Recorder receives every accepted entry, e.g. an audit trail.
type Recorder interface {
	Record(ctx context.Context, e *leaderboard.Entry) error
}

// Publisher is told the board changed after an accepted entry places in the top rows.
// It reads the board itself when it broadcasts.
type Publisher interface {
	Refresh()
}

type Config struct {
	Rules        Rules
	AuditTimeout time.Duration
}

type Service struct {
	sessions  *session.Store
	limiter   *ratelimit.Limiter
	board     *leaderboard.Board
	validator *Validator
	recorder  Recorder
	publisher Publisher
	auditTO   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }

func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(sessions *session.Store, limiter *ratelimit.Limiter, board *leaderboard.Board, cfg Config, opts ...Option) (*Service, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if board == nil {
		return nil, fmt.Errorf("leaderboard is required")
	}
	if len(cfg.Rules.Secret) == 0 {
		return nil, fmt.Errorf("signing secret is required")
	}
	s := &Service{
		sessions:  sessions,
		limiter:   limiter,
		board:     board,
		validator: NewValidator(cfg.Rules),
		auditTO:   cfg.AuditTimeout,
		now:       time.Now,
	}
	if s.auditTO <= 0 {
		s.auditTO = auditTimeout
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = obslog.L()
	}
	return s, nil
}

// StartSession rate-limits identity and issues a new session.
func (s *Service) StartSession(ctx context.Context, identity string) (session.Session, error) {
	if !s.limiter.Allow(identity) {
		s.logger.Info("rate_limited", zap.String("client", identity))
		return session.Session{}, ErrRateLimited
	}
	sess, err := s.sessions.Create(identity)
	if err != nil {
		return session.Session{}, err
	}
	s.logger.Debug("session_start", zap.String("client", identity), zap.Time("start", sess.StartTime))
	return sess, nil
}

// SubmitResult is the outcome of an accepted submission. Rank is 0 when the run was valid
// but slower than every ranked entry on a full board.
type SubmitResult struct {
	Rank  int
	Total int
	Entry *leaderboard.Entry
}

// Submit validates req for identity and records the run. The session is consumed only after
// every check passed.
func (s *Service) Submit(ctx context.Context, identity string, req scoredto.SubmitScoreRequest) (*SubmitResult, error) {
	p := ParsePayload(req)
	now := s.now()

	var sess *session.Session
	if p.SessionToken != "" {
		if found, err := s.sessions.Lookup(p.SessionToken); err == nil {
			sess = &found
		}
	}

	name, err := s.validator.Validate(sess, p, now)
	if err != nil {
		s.logRejection(identity, err)
		return nil, err
	}

	// concurrent submissions for the same token race here; exactly one wins
	if err := s.sessions.MarkCompleted(p.SessionToken); err != nil {
		var verr *ValidationError
		switch {
		case errors.Is(err, session.ErrAlreadyUsed):
			verr = reject(ReasonSessionReused, "lost completion race")
		default:
			verr = reject(ReasonInvalidSession, "expired before completion")
		}
		s.logRejection(identity, verr)
		return nil, verr
	}

	entry := leaderboard.NewEntry(name, *p.FinalTime, p.MissCount, p.Checkpoints, identity, now)
	rank, total, err := s.board.Insert(entry)
	if err != nil && !errors.Is(err, leaderboard.ErrNotRanked) {
		return nil, err
	}

	s.logger.Info("score_accepted",
		zap.String("entry_id", entry.ID),
		zap.String("client", identity),
		zap.Int64("final_time_ms", entry.FinalTime),
		zap.Int("rank", rank),
		zap.Int("total", total),
	)

	s.record(ctx, entry)
	if s.publisher != nil && rank > 0 {
		s.publisher.Refresh()
	}
	return &SubmitResult{Rank: rank, Total: total, Entry: entry}, nil
}

func (s *Service) record(ctx context.Context, e *leaderboard.Entry) {
	if s.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.auditTO)
	defer cancel()
	if err := s.recorder.Record(rctx, e); err != nil {
		s.logger.Warn("audit_record_failed", zap.String("entry_id", e.ID), zap.Error(err))
	}
}

func (s *Service) logRejection(identity string, err error) {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return
	}
	s.logger.Info("score_rejected",
		zap.String("client", identity),
		zap.String("reason", string(ve.Reason)),
		zap.String("detail", ve.Detail),
	)
}

// Leaderboard returns the public top list.
func (s *Service) Leaderboard(limit int) []scoredto.LeaderboardRow {
	return s.board.List(limit)
}

func (s *Service) Health() scoredto.HealthResponse {
	return scoredto.HealthResponse{Status: "ok", Sessions: s.sessions.Len(), Scores: s.board.Len()}
}

// Maintain sweeps expired sessions and stale rate records until ctx is done.
func (s *Service) Maintain(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			expired := s.sessions.Sweep()
			pruned := s.limiter.Prune()
			if expired > 0 || pruned > 0 {
				s.logger.Debug("maintenance_sweep", zap.Int("sessions_expired", expired), zap.Int("rate_records_pruned", pruned))
			}
		}
	}
}
