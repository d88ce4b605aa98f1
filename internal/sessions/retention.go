package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// retentionParser accepts standard five-field cron expressions with an
// optional seconds field and descriptors such as @hourly.
var retentionParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Sweeper deletes sessions whose last activity is older than a configured
// idle age. Deleting a session cascades to its events.
type Sweeper struct {
	store    Store
	maxIdle  time.Duration
	schedule cron.Schedule
	logger   *slog.Logger

	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	started bool
	next    time.Time
	wg      sync.WaitGroup
}

// SweeperOption configures the sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger configures the sweeper logger.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSweeperNow overrides the clock for tests.
func WithSweeperNow(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSweeperTickInterval overrides how often the loop checks for due sweeps.
func WithSweeperTickInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// NewSweeper builds a sweeper that removes sessions idle longer than maxIdle,
// on the given cron schedule (empty means @hourly). A maxIdle of zero builds
// a sweeper whose sweeps never remove anything.
func NewSweeper(store Store, maxIdle time.Duration, schedule string, opts ...SweeperOption) (*Sweeper, error) {
	if schedule == "" {
		schedule = "@hourly"
	}
	parsed, err := retentionParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", schedule, err)
	}

	sweeper := &Sweeper{
		store:        store,
		maxIdle:      maxIdle,
		schedule:     parsed,
		logger:       slog.Default().With("component", "retention"),
		now:          time.Now,
		tickInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(sweeper)
	}
	sweeper.next = parsed.Next(sweeper.now())
	return sweeper, nil
}

// Start begins the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop waits for the sweep loop to exit.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) runDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	due := !now.Before(s.next)
	if due {
		s.next = s.schedule.Next(now)
	}
	s.mu.Unlock()

	if !due {
		return
	}

	removed, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Warn("session sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("removed idle sessions", "count", removed, "max_idle", s.maxIdle)
	}
}

// RunOnce performs a single sweep immediately (primarily for tests) and
// returns the number of sessions removed.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if s.maxIdle <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-s.maxIdle)
	infos, err := s.store.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	removed := 0
	for _, info := range infos {
		lastActivity := info.UpdatedAt
		if lastActivity.IsZero() {
			lastActivity = info.CreatedAt
		}
		if !lastActivity.Before(cutoff) {
			continue
		}
		if err := s.store.DeleteSession(ctx, info.ID); err != nil {
			return removed, fmt.Errorf("delete session %s: %w", info.ID, err)
		}
		removed++
	}
	return removed, nil
}
