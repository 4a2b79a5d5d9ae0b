package freshness

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/moltmud/internal/fragment"
	"go.uber.org/zap"
)

// Config controls how the engine pages through the fragment table.
type Config struct {
	BatchSize int              // rows locked per sweep transaction (default 500)
	Now       func() time.Time // clock override for tests
}

// BatchResult reports one full sweep.
type BatchResult struct {
	Updated      int       `json:"updated"`
	FullyDecayed int       `json:"fully_decayed"`
	At           time.Time `json:"timestamp"`
}

// Engine recomputes and persists fragment freshness.
type Engine struct {
	store     fragment.Store
	batchSize int
	now       func() time.Time
	logger    *zap.Logger
}

// NewEngine creates a freshness engine over store.
func NewEngine(store fragment.Store, cfg Config, logger *zap.Logger) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:     store,
		batchSize: cfg.BatchSize,
		now:       cfg.Now,
		logger:    logger,
	}
}

// ApplyDecay brings a single fragment's score up to date and returns the
// fragment as persisted. Called on every read of a fragment.
func (e *Engine) ApplyDecay(ctx context.Context, id string) (*fragment.Fragment, error) {
	var out *fragment.Fragment
	err := e.store.InTx(ctx, func(ctx context.Context, tx fragment.Tx) error {
		f, err := tx.LockFragment(ctx, id)
		if err != nil {
			return err
		}
		now := e.now()
		f.FreshnessScore = Calculate(f.LastDecayCheck, now, f.DecayRatePerHour, f.FreshnessScore)
		f.LastDecayCheck = now
		if err := tx.SaveWatermark(ctx, f.ID, f.FreshnessScore, now); err != nil {
			return err
		}
		out = f
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply decay %s: %w", id, err)
	}
	return out, nil
}

// Refresh sets a fragment's score to min(1, amount) and restarts its decay
// clock.
func (e *Engine) Refresh(ctx context.Context, id string, amount float64) error {
	err := e.store.InTx(ctx, func(ctx context.Context, tx fragment.Tx) error {
		if _, err := tx.LockFragment(ctx, id); err != nil {
			return err
		}
		return tx.SaveWatermark(ctx, id, clamp(amount), e.now())
	})
	if err != nil {
		return fmt.Errorf("refresh %s: %w", id, err)
	}
	return nil
}

// BatchUpdate decays every fragment that still has freshness left. Each page
// of rows is committed on its own; cancellation is checked between pages.
func (e *Engine) BatchUpdate(ctx context.Context) (BatchResult, error) {
	now := e.now()
	res := BatchResult{At: now}
	after := ""

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var seen, updated, decayed int
		var last string
		err := e.store.InTx(ctx, func(ctx context.Context, tx fragment.Tx) error {
			seen, updated, decayed = 0, 0, 0
			marks, err := tx.LockDecayCandidates(ctx, after, e.batchSize)
			if err != nil {
				return err
			}
			seen = len(marks)
			for _, w := range marks {
				score := Calculate(w.CheckedAt, now, w.Rate, w.Score)
				if err := tx.SaveWatermark(ctx, w.ID, score, now); err != nil {
					return err
				}
				updated++
				if score <= 0 {
					decayed++
				}
				last = w.ID
			}
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("decay page after %q: %w", after, err)
		}

		res.Updated += updated
		res.FullyDecayed += decayed
		if seen < e.batchSize {
			break
		}
		after = last
	}

	e.logger.Debug("freshness batch complete",
		zap.Int("updated", res.Updated),
		zap.Int("fully_decayed", res.FullyDecayed))
	return res, nil
}

// Stats buckets every fragment by display band.
func (e *Engine) Stats(ctx context.Context) (fragment.Stats, error) {
	st, err := e.store.Stats(ctx, FreshThreshold, DecayedThreshold)
	if err != nil {
		return fragment.Stats{}, fmt.Errorf("freshness stats: %w", err)
	}
	return st, nil
}

// ListStale returns fragments at or below threshold, least fresh first.
func (e *Engine) ListStale(ctx context.Context, threshold float64, limit int) ([]*fragment.Fragment, error) {
	if threshold < 0 || threshold > 1 {
		threshold = DecayedThreshold
	}
	if limit <= 0 {
		limit = 100
	}
	frags, err := e.store.ListStale(ctx, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	return frags, nil
}
