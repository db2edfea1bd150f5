package leaderboard

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/park285/cheese-scoreboard/pkg/scoredto"
)

const (
	MaxEntries   = 100
	DefaultLimit = 50
)

var ErrNotRanked = staticErr("entry did not make the leaderboard")

type staticErr string

func (e staticErr) Error() string { return string(e) }

// Entry is an accepted run. ClientIdentity is kept for audit only.
type Entry struct {
	ID             string    `json:"id"`
	PlayerName     string    `json:"player_name"`
	FinalTime      int64     `json:"final_time_ms"`
	MissCount      int64     `json:"miss_count"`
	Checkpoints    []any     `json:"checkpoints"`
	Timestamp      time.Time `json:"timestamp"`
	ClientIdentity string    `json:"client_identity"`
}

// NewEntry stamps a fresh id and timestamp.
func NewEntry(playerName string, finalTime, missCount int64, checkpoints []any, identity string, at time.Time) *Entry {
	if checkpoints == nil {
		checkpoints = []any{}
	}
	return &Entry{
		ID:             uuid.NewString(),
		PlayerName:     playerName,
		FinalTime:      finalTime,
		MissCount:      missCount,
		Checkpoints:    checkpoints,
		Timestamp:      at,
		ClientIdentity: identity,
	}
}

// Board keeps at most capacity entries ordered by ascending FinalTime; ties keep insertion order.
type Board struct {
	mu       sync.RWMutex
	entries  []*Entry
	capacity int
}

func New(capacity int) *Board {
	if capacity <= 0 || capacity > MaxEntries {
		capacity = MaxEntries
	}
	return &Board{entries: make([]*Entry, 0, capacity+1), capacity: capacity}
}

// Insert는 e를 삽입 후 용량 초과분을 잘라냄. 1부터 시작하는 순위와 잘라낸 뒤의 크기를 반환.
func (b *Board) Insert(e *Entry) (rank, total int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// first index whose time is strictly worse keeps equal times in arrival order
	idx := sort.Search(len(b.entries), func(i int) bool {
		return b.entries[i].FinalTime > e.FinalTime
	})
	if idx >= b.capacity {
		return 0, len(b.entries), ErrNotRanked
	}
	b.entries = append(b.entries, nil)
	copy(b.entries[idx+1:], b.entries[idx:])
	b.entries[idx] = e
	if len(b.entries) > b.capacity {
		for i := b.capacity; i < len(b.entries); i++ {
			b.entries[i] = nil
		}
		b.entries = b.entries[:b.capacity]
	}
	return idx + 1, len(b.entries), nil
}

// List returns the public view of the top limit entries. limit <= 0 means DefaultLimit.
func (b *Board) List(limit int) []scoredto.LeaderboardRow {
	limit = ClampLimit(limit)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit > len(b.entries) {
		limit = len(b.entries)
	}
	rows := make([]scoredto.LeaderboardRow, 0, limit)
	for i := 0; i < limit; i++ {
		e := b.entries[i]
		rows = append(rows, scoredto.LeaderboardRow{
			Rank:       i + 1,
			PlayerName: e.PlayerName,
			FinalTime:  e.FinalTime,
			MissCount:  e.MissCount,
			Timestamp:  e.Timestamp.UnixMilli(),
		})
	}
	return rows
}

func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// ClampLimit은 요청 개수를 [1, MaxEntries] 범위로 보정.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxEntries {
		return MaxEntries
	}
	return limit
}
