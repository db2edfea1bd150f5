// Package ratelimit implements a fixed-window request counter keyed by client identity.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultLimit  = 10
	DefaultWindow = time.Hour
)

// Record is the per-identity counter state.
type Record struct {
	Count   int
	ResetAt time.Time
}

type Limiter struct {
	mu      sync.Mutex
	records map[string]*Record
	limit   int
	window  time.Duration
	now     func() time.Time
}

type Option func(*Limiter)

// WithClock은 time.Now 대체(테스트용).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		records: make(map[string]*Record),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow는 identity의 요청 1건을 소비하고 한도 이내였는지 반환.
// 거부된 요청은 카운트하지 않음.
func (l *Limiter) Allow(identity string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[identity]
	if !ok {
		rec = &Record{ResetAt: now.Add(l.window)}
		l.records[identity] = rec
	}
	if now.After(rec.ResetAt) {
		rec.Count = 0
		rec.ResetAt = now.Add(l.window)
	}
	if rec.Count >= l.limit {
		return false
	}
	rec.Count++
	return true
}

// Peek returns a copy of the record for identity.
func (l *Limiter) Peek(identity string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[identity]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Prune은 윈도우가 지난 레코드를 제거하고 제거 수를 반환.
func (l *Limiter) Prune() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, rec := range l.records {
		if now.After(rec.ResetAt) {
			delete(l.records, id)
			n++
		}
	}
	return n
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
