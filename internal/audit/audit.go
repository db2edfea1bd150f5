// Package audit keeps a write-only trail of accepted scores. Nothing here is read back
// to rebuild the leaderboard; a restart still starts from an empty board.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/park285/cheese-scoreboard/internal/leaderboard"
)

// Record is the stored form of an accepted entry. The client identity is hashed.
type Record struct {
	EntryID     string    `json:"entry_id"`
	PlayerName  string    `json:"player_name"`
	FinalTime   int64     `json:"final_time_ms"`
	MissCount   int64     `json:"miss_count"`
	Checkpoints int       `json:"checkpoints"`
	ClientHash  string    `json:"client_hash"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

func FromEntry(e *leaderboard.Entry) Record {
	return Record{
		EntryID:     e.ID,
		PlayerName:  e.PlayerName,
		FinalTime:   e.FinalTime,
		MissCount:   e.MissCount,
		Checkpoints: len(e.Checkpoints),
		ClientHash:  HashIdentity(e.ClientIdentity),
		AcceptedAt:  e.Timestamp.UTC(),
	}
}

func HashIdentity(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:])
}

type Sink interface {
	Record(ctx context.Context, e *leaderboard.Entry) error
	Close() error
}

// Multi fans an entry out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e *leaderboard.Entry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
