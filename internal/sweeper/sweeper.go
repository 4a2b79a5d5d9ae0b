// Package sweeper runs the periodic freshness decay pass over every
// fragment for the lifetime of the process.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/moltmud/internal/events"
	"github.com/nidhogg/moltmud/internal/freshness"
	"go.uber.org/zap"
)

// DefaultInterval is the time between sweeps.
const DefaultInterval = 15 * time.Minute

// DefaultMaxFailures is how many cycles in a row may fail before storage is
// considered unrecoverable.
const DefaultMaxFailures = 8

// Batcher is the part of the freshness engine the sweeper drives.
type Batcher interface {
	BatchUpdate(ctx context.Context) (freshness.BatchResult, error)
}

// Config tunes a Sweeper.
type Config struct {
	Interval    time.Duration
	MaxFailures int // consecutive failed cycles before giving up
}

// Sweeper calls BatchUpdate on a fixed cadence. Create with New, then Start
// and Stop it explicitly.
type Sweeper struct {
	batcher     Batcher
	interval    time.Duration
	maxFailures int
	bus         events.Publisher
	logger      *zap.Logger

	cycleMu sync.Mutex // one sweep at a time, timed or forced

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	err      error
	failures int
	last     freshness.BatchResult
}

// New creates a stopped sweeper. bus may be nil.
func New(b Batcher, cfg Config, bus events.Publisher, logger *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if bus == nil {
		bus = events.Nop{}
	}
	return &Sweeper{
		batcher:     b,
		interval:    cfg.Interval,
		maxFailures: cfg.MaxFailures,
		bus:         bus,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Start launches the loop. The first sweep runs immediately. Calling Start
// more than once has no effect.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.loop(ctx)
	s.logger.Info("decay sweeper started", zap.Duration("interval", s.interval))
}

// Stop cancels the loop and waits for the in-flight sweep to finish or roll
// back, or for ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	started, cancel := s.started, s.cancel
	s.mu.Unlock()

	if !started {
		s.finish(nil)
		return nil
	}
	cancel()

	select {
	case <-s.done:
		s.logger.Info("decay sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the loop exits, whether stopped or failed.
func (s *Sweeper) Done() <-chan struct{} {
	return s.done
}

// Err is non-nil once the sweeper has given up on a broken store.
func (s *Sweeper) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Last returns the result of the most recent successful sweep.
func (s *Sweeper) Last() freshness.BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RunOnce performs a single sweep outside the cadence.
func (s *Sweeper) RunOnce(ctx context.Context) (freshness.BatchResult, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	res, err := s.batcher.BatchUpdate(ctx)
	if err != nil {
		return res, err
	}

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()

	if res.Updated > 0 {
		s.logger.Info("decay sweep complete",
			zap.Int("updated", res.Updated),
			zap.Int("fully_decayed", res.FullyDecayed))
		ev := &events.Event{
			Type: events.FreshnessSwept,
			Data: map[string]any{
				"updated":       res.Updated,
				"fully_decayed": res.FullyDecayed,
			},
		}
		if err := s.bus.Publish(ctx, ev); err != nil {
			s.logger.Warn("sweep event publish failed", zap.Error(err))
		}
	}
	return res, nil
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.cycle(ctx) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			s.finish(nil)
			return
		case <-ticker.C:
			if s.cycle(ctx) {
				return
			}
		}
	}
}

// cycle runs one sweep and reports whether the loop should exit.
func (s *Sweeper) cycle(ctx context.Context) bool {
	_, err := s.RunOnce(ctx)
	if err == nil {
		s.mu.Lock()
		s.failures = 0
		s.mu.Unlock()
		return false
	}
	if ctx.Err() != nil {
		s.finish(nil)
		return true
	}

	s.mu.Lock()
	s.failures++
	failures := s.failures
	s.mu.Unlock()

	s.logger.Error("decay sweep failed",
		zap.Int("consecutive_failures", failures),
		zap.Error(err))
	if failures >= s.maxFailures {
		s.finish(fmt.Errorf("decay sweeper gave up after %d consecutive failures: %w", failures, err))
		return true
	}
	return false
}

func (s *Sweeper) finish(err error) {
	s.doneOnce.Do(func() {
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			s.logger.Error("decay sweeper stopped on fatal error", zap.Error(err))
		}
		close(s.done)
	})
}
