// Package session maps opaque session ids to conversation memories and
// evicts sessions that have been idle for too long.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vision-agent/internal/domain"
	"vision-agent/internal/memory"
	"vision-agent/internal/metrics"
)

// ErrNotFound is returned when an operation names an unknown session id.
var ErrNotFound = errors.New("session: not found")

// Session is one conversation. Its Memory is owned exclusively by it.
type Session struct {
	ID        string
	CreatedAt time.Time
	Memory    memory.Memory

	lastTouch atomic.Int64
}

func (s *Session) Kind() domain.MemoryKind {
	return s.Memory.Kind()
}

// LastTouch returns the time of the most recent access.
func (s *Session) LastTouch() time.Time {
	return time.Unix(0, s.lastTouch.Load())
}

func (s *Session) touch(t time.Time) {
	s.lastTouch.Store(t.UnixNano())
}

// Store is the session lookup contract used by the orchestrator and the
// sweeper. Every successful lookup refreshes the session's last touch.
type Store interface {
	// Resolve returns the session for id, creating one of kind when id is
	// empty or unknown. created reports whether a new session was minted.
	Resolve(ctx context.Context, id string, kind domain.MemoryKind) (sess *Session, created bool, err error)
	// Create always mints a new session, ignoring any existing id.
	Create(ctx context.Context, kind domain.MemoryKind) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	// IdleSince lists sessions whose last touch is before cutoff.
	IdleSince(ctx context.Context, cutoff time.Time) ([]string, error)
}

// MemoryBuilder returns an empty memory of the given kind.
type MemoryBuilder func(kind domain.MemoryKind) (memory.Memory, error)

// MemoryStore keeps sessions in process memory. All state is lost on exit.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	newMemory   MemoryBuilder
	defaultKind domain.MemoryKind
	now         func() time.Time
	newID       func() string
}

type Option func(*MemoryStore)

// WithDefaultKind sets the kind used when Resolve gets no kind hint.
func WithDefaultKind(kind domain.MemoryKind) Option {
	return func(s *MemoryStore) {
		s.defaultKind = kind
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *MemoryStore) {
		s.newID = newID
	}
}

func NewMemoryStore(newMemory MemoryBuilder, opts ...Option) (*MemoryStore, error) {
	if newMemory == nil {
		return nil, errors.New("session: memory builder must not be nil")
	}
	s := &MemoryStore{
		sessions:    make(map[string]*Session),
		newMemory:   newMemory,
		defaultKind: domain.MemoryTranscript,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *MemoryStore) Resolve(_ context.Context, id string, kind domain.MemoryKind) (*Session, bool, error) {
	if id != "" {
		s.mu.RLock()
		sess, ok := s.sessions[id]
		if ok {
			sess.touch(s.now())
		}
		s.mu.RUnlock()
		if ok {
			return sess, false, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.createLocked(kind)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

func (s *MemoryStore) Create(_ context.Context, kind domain.MemoryKind) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(kind)
}

func (s *MemoryStore) createLocked(kind domain.MemoryKind) (*Session, error) {
	if kind == "" {
		kind = s.defaultKind
	}
	mem, err := s.newMemory(kind)
	if err != nil {
		return nil, fmt.Errorf("session: create memory: %w", err)
	}

	id := s.newID()
	for {
		if _, taken := s.sessions[id]; !taken {
			break
		}
		id = s.newID()
	}

	now := s.now()
	sess := &Session{ID: id, CreatedAt: now, Memory: mem}
	sess.touch(now)
	s.sessions[id] = sess
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return sess, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	sess.touch(s.now())
	return sess, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return nil
}

func (s *MemoryStore) IdleSince(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, sess := range s.sessions {
		if sess.LastTouch().Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
