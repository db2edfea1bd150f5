package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-scoreboard/internal/leaderboard"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS score_audit (
	entry_id      TEXT PRIMARY KEY,
	player_name   TEXT NOT NULL,
	final_time_ms BIGINT NOT NULL,
	miss_count    BIGINT NOT NULL,
	checkpoints   INTEGER NOT NULL,
	client_hash   TEXT NOT NULL,
	accepted_at   TIMESTAMPTZ NOT NULL
)`

const insertSQL = `INSERT INTO score_audit (
	entry_id, player_name, final_time_ms, miss_count, checkpoints, client_hash, accepted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (entry_id) DO NOTHING`

type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres audit sink")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresSink{db: db}
	if err := s.EnsureSchema(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create score_audit: %w", err)
	}
	return nil
}

func (s *PostgresSink) Record(ctx context.Context, e *leaderboard.Entry) error {
	if s == nil || s.db == nil || e == nil {
		return nil
	}
	r := FromEntry(e)
	_, err := s.db.ExecContext(ctx, insertSQL,
		r.EntryID, r.PlayerName, r.FinalTime, r.MissCount, r.Checkpoints, r.ClientHash, r.AcceptedAt)
	if err != nil {
		return fmt.Errorf("insert score_audit: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
