package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vision-agent/internal/metrics"
)

const (
	DefaultTTL           = time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// Sweeper periodically evicts sessions idle for longer than a TTL.
//
// Idle ids are listed first and deleted one by one afterwards, so a session
// touched between the two steps can still be evicted. That race is accepted:
// the store is never locked for a whole sweep.
type Sweeper struct {
	store    Store
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewSweeper(store Store, ttl, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("session: sweeper store must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Run sweeps every interval until ctx is cancelled. A failing cycle is
// logged and the next one runs on schedule.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("session sweeper started", "ttl", s.ttl, "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper stopped")
			return nil
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single eviction cycle and returns how many sessions it
// removed. It never panics.
func (s *Sweeper) SweepOnce(ctx context.Context) (evicted int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session sweep panicked", "err", fmt.Sprint(r), "evicted", evicted)
		}
	}()

	cutoff := s.now().Add(-s.ttl)
	ids, err := s.store.IdleSince(ctx, cutoff)
	if err != nil {
		s.logger.Error("session sweep: list idle sessions", "err", err)
		return 0
	}

	for _, id := range ids {
		if err := s.store.Delete(ctx, id); err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.logger.Error("session sweep: delete session", "session_id", id, "err", err)
			}
			continue
		}
		evicted++
		metrics.SessionsEvicted.Inc()
		s.logger.Info("evicted expired session", "session_id", id)
	}
	return evicted
}
