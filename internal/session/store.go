package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultTTL = 10 * time.Minute
	tokenBytes = 32
)

// Session binds a start time and client identity to an opaque single-use token.
type Session struct {
	Token          string
	StartTime      time.Time
	ClientIdentity string
	Completed      bool
	ExpiresAt      time.Time
}

func (s *Session) expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

var (
	ErrInvalidOrExpired = staticErr("session invalid or expired")
	ErrAlreadyUsed      = staticErr("session already used")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	tokenGen func() (string, error)
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTokenGenerator replaces the crypto/rand token source.
func WithTokenGenerator(gen func() (string, error)) Option {
	return func(s *Store) { s.tokenGen = gen }
}

func NewStore(ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		tokenGen: newToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create는 identity용 새 세션을 발급.
func (s *Store) Create(identity string) (Session, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// a collision with 256 random bits means the generator is broken
	for i := 0; i < 3; i++ {
		token, err := s.tokenGen()
		if err != nil {
			return Session{}, fmt.Errorf("generate session token: %w", err)
		}
		if _, exists := s.sessions[token]; exists {
			continue
		}
		sess := &Session{
			Token:          token,
			StartTime:      now,
			ClientIdentity: identity,
			ExpiresAt:      now.Add(s.ttl),
		}
		s.sessions[token] = sess
		return *sess, nil
	}
	return Session{}, fmt.Errorf("failed to allocate unique session token")
}

// Lookup returns a copy of the live session for token.
func (s *Store) Lookup(token string) (Session, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, ErrInvalidOrExpired
	}
	if sess.expired(now) {
		delete(s.sessions, token)
		return Session{}, ErrInvalidOrExpired
	}
	return *sess, nil
}

// MarkCompleted는 세션을 소비. 토큰당 단 한 번만 성공.
func (s *Store) MarkCompleted(token string) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return ErrInvalidOrExpired
	}
	if sess.expired(now) {
		delete(s.sessions, token)
		return ErrInvalidOrExpired
	}
	if sess.Completed {
		return ErrAlreadyUsed
	}
	sess.Completed = true
	return nil
}

// Sweep은 만료 세션을 모두 삭제하고 삭제 수를 반환.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, sess := range s.sessions {
		if sess.expired(now) {
			delete(s.sessions, token)
			n++
		}
	}
	return n
}

// Len은 완료된 것을 포함한 살아있는 세션 수.
func (s *Store) Len() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if !sess.expired(now) {
			n++
		}
	}
	return n
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
