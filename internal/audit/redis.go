package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-scoreboard/internal/leaderboard"
)

const (
	DefaultRedisMax = 10000
	identCounterTTL = 30 * 24 * time.Hour
)

type RedisSink struct {
	rdb *redis.Client
	max int64
}

// NewRedisSink connects to redisURL and keeps at most max records in the trail list.
func NewRedisSink(ctx context.Context, redisURL string, max int64) (*RedisSink, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL is required for the redis audit sink")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if max <= 0 {
		max = DefaultRedisMax
	}
	return &RedisSink{rdb: rdb, max: max}, nil
}

func (s *RedisSink) keyTrail() string { return "scores:audit" }

func (s *RedisSink) keyIdent(hash string) string { return "scores:audit:ident:" + hash }

func (s *RedisSink) Record(ctx context.Context, e *leaderboard.Entry) error {
	if s == nil || s.rdb == nil || e == nil {
		return nil
	}
	rec := FromEntry(e)
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, s.keyTrail(), raw)
	pipe.LTrim(ctx, s.keyTrail(), 0, s.max-1)
	pipe.Incr(ctx, s.keyIdent(rec.ClientHash))
	pipe.Expire(ctx, s.keyIdent(rec.ClientHash), identCounterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis audit: %w", err)
	}
	return nil
}

// Recent returns up to n newest records.
func (s *RedisSink) Recent(ctx context.Context, n int64) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	raws, err := s.rdb.LRange(ctx, s.keyTrail(), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(raws))
	for _, raw := range raws {
		var r Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// AcceptedBy counts accepted scores for identity over the counter TTL.
func (s *RedisSink) AcceptedBy(ctx context.Context, identity string) (int64, error) {
	n, err := s.rdb.Get(ctx, s.keyIdent(HashIdentity(identity))).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (s *RedisSink) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// parseRedisURL accepts redis:// and rediss:// URLs; rediss enables TLS.
func parseRedisURL(raw string) (*redis.Options, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	return opts, nil
}
