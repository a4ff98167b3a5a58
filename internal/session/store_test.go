package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vision-agent/internal/domain"
	"vision-agent/internal/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, opts ...Option) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore(memory.NewFactory(nil, 0, nil).New, opts...)
	require.NoError(t, err)
	return s
}

func TestNewMemoryStore_ValidatesBuilder(t *testing.T) {
	_, err := NewMemoryStore(nil)
	require.Error(t, err)
}

func TestResolve_EmptyID_CreatesDefaultKind(t *testing.T) {
	s := newTestStore(t)

	sess, created, err := s.Resolve(context.Background(), "", "")
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, sess.ID)
	require.Equal(t, domain.MemoryTranscript, sess.Kind())
	require.Equal(t, 1, s.Len())
}

func TestResolve_UnknownID_MintsFreshID(t *testing.T) {
	s := newTestStore(t)

	sess, created, err := s.Resolve(context.Background(), "client-made-up", domain.MemorySummary)
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, "client-made-up", sess.ID)
	require.Equal(t, domain.MemorySummary, sess.Kind())
}

func TestResolve_KnownID_ReturnsSameSessionAndKind(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))

	first, _, err := s.Resolve(context.Background(), "", domain.MemorySummary)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		clock.Advance(time.Minute)
		got, created, err := s.Resolve(context.Background(), first.ID, domain.MemoryTranscript)
		require.NoError(t, err)
		require.False(t, created)
		require.Same(t, first, got)
		require.Equal(t, domain.MemorySummary, got.Kind(), "kind hint is ignored for existing sessions")
		require.True(t, got.LastTouch().Equal(clock.Now()))
	}
	require.Equal(t, 1, s.Len())
}

func TestResolve_ConcurrentSameID_NeverCreates(t *testing.T) {
	s := newTestStore(t)
	sess, _, err := s.Resolve(context.Background(), "", "")
	require.NoError(t, err)

	type result struct {
		id      string
		created bool
		err     error
	}
	results := make(chan result, 32)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, created, err := s.Resolve(context.Background(), sess.ID, "")
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{id: got.ID, created: created}
		}()
	}
	wg.Wait()
	close(results)

	for r := range results {
		require.NoError(t, r.err)
		require.False(t, r.created)
		require.Equal(t, sess.ID, r.id)
	}
	require.Equal(t, 1, s.Len())
}

func TestResolve_UnsupportedKind(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Resolve(context.Background(), "", "vector")
	require.Error(t, err)
	require.Contains(t, err.Error(), "create memory")
	require.Zero(t, s.Len())
}

func TestCreate_AlwaysMintsNewID(t *testing.T) {
	s := newTestStore(t, WithDefaultKind(domain.MemorySummary))

	a, err := s.Create(context.Background(), "")
	require.NoError(t, err)
	b, err := s.Create(context.Background(), domain.MemoryTranscript)
	require.NoError(t, err)

	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, domain.MemorySummary, a.Kind())
	require.Equal(t, domain.MemoryTranscript, b.Kind())
	require.NotSame(t, a.Memory, b.Memory)
}

func TestCreate_RetriesOnIDCollision(t *testing.T) {
	ids := []string{"dup", "dup", "fresh"}
	n := 0
	s := newTestStore(t, WithIDGenerator(func() string {
		id := ids[n]
		n++
		return id
	}))

	a, err := s.Create(context.Background(), "")
	require.NoError(t, err)
	b, err := s.Create(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "dup", a.ID)
	require.Equal(t, "fresh", b.ID)
}

func TestGet(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))
	sess, err := s.Create(context.Background(), "")
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	got, err := s.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Same(t, sess, got)
	require.True(t, got.LastTouch().Equal(clock.Now()))

	_, err = s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.Create(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), sess.ID))
	require.ErrorIs(t, s.Delete(context.Background(), sess.ID), ErrNotFound)
	_, err = s.Get(context.Background(), sess.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.Zero(t, s.Len())
}

func TestIdleSince(t *testing.T) {
	clock := newFakeClock()
	n := 0
	s := newTestStore(t, WithClock(clock.Now), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}))

	_, err := s.Create(context.Background(), "")
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	_, err = s.Create(context.Background(), "")
	require.NoError(t, err)

	ids, err := s.IdleSince(context.Background(), clock.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, []string{"s1"}, ids)
}
