package freshness

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nidhogg/moltmud/internal/catalog"
	"github.com/nidhogg/moltmud/internal/fragment"
	"github.com/nidhogg/moltmud/internal/store/memstore"
	"go.uber.org/zap"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func seed(s *memstore.Store, id string, score float64) {
	s.PutFragment(&fragment.Fragment{
		ID:               id,
		OwnerID:          "owner",
		RoomID:           "library",
		Content:          "fragment " + id,
		Category:         catalog.Historical,
		Rarity:           catalog.Common,
		BaseValue:        1,
		CurrentValue:     1,
		FreshnessScore:   score,
		DecayRatePerHour: fragment.DefaultDecayRate,
		LastDecayCheck:   epoch,
		CreatedAt:        epoch,
	})
}

func newTestEngine(batch int) (*Engine, *memstore.Store, *fakeClock) {
	store := memstore.New()
	clock := &fakeClock{now: epoch}
	e := NewEngine(store, Config{BatchSize: batch, Now: clock.Now}, zap.NewNop())
	return e, store, clock
}

func TestApplyDecayPersistsWatermark(t *testing.T) {
	e, store, clock := newTestEngine(0)
	seed(store, "f1", 1.0)
	ctx := context.Background()

	clock.Advance(10 * time.Hour)
	f, err := e.ApplyDecay(ctx, "f1")
	if err != nil {
		t.Fatalf("ApplyDecay: %v", err)
	}
	if !approx(f.FreshnessScore, 0.5) {
		t.Errorf("score = %v, want 0.5", f.FreshnessScore)
	}
	if !f.LastDecayCheck.Equal(clock.now) {
		t.Errorf("watermark = %v, want %v", f.LastDecayCheck, clock.now)
	}

	// A second read at the same instant must not decay again.
	f, err = e.ApplyDecay(ctx, "f1")
	if err != nil {
		t.Fatalf("ApplyDecay again: %v", err)
	}
	if !approx(f.FreshnessScore, 0.5) {
		t.Errorf("double decay: score = %v, want 0.5", f.FreshnessScore)
	}

	stored, _ := store.GetFragment(ctx, "f1")
	if !approx(stored.FreshnessScore, 0.5) {
		t.Errorf("stored score = %v, want 0.5", stored.FreshnessScore)
	}
}

func TestApplyDecayUnknownFragment(t *testing.T) {
	e, _, _ := newTestEngine(0)
	_, err := e.ApplyDecay(context.Background(), "missing")
	if !errors.Is(err, fragment.ErrFragmentNotFound) {
		t.Fatalf("got %v, want ErrFragmentNotFound", err)
	}
}

func TestRefresh(t *testing.T) {
	e, store, clock := newTestEngine(0)
	seed(store, "f1", 0.2)
	ctx := context.Background()

	clock.Advance(time.Hour)
	if err := e.Refresh(ctx, "f1", 3); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	f, _ := store.GetFragment(ctx, "f1")
	if f.FreshnessScore != 1 {
		t.Errorf("score = %v, want clamped 1", f.FreshnessScore)
	}
	if !f.LastDecayCheck.Equal(clock.now) {
		t.Errorf("watermark not restarted: %v", f.LastDecayCheck)
	}
}

func TestBatchUpdatePagesThroughEveryFragment(t *testing.T) {
	e, store, clock := newTestEngine(2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seed(store, fmt.Sprintf("f%d", i), 1.0)
	}
	seed(store, "low", 0.1)
	seed(store, "gone", 0)

	clock.Advance(4 * time.Hour)
	res, err := e.BatchUpdate(ctx)
	if err != nil {
		t.Fatalf("BatchUpdate: %v", err)
	}
	if res.Updated != 6 {
		t.Errorf("updated = %d, want 6", res.Updated)
	}
	if res.FullyDecayed != 1 {
		t.Errorf("fully decayed = %d, want 1", res.FullyDecayed)
	}
	if !res.At.Equal(clock.now) {
		t.Errorf("result time = %v, want %v", res.At, clock.now)
	}

	for i := 0; i < 5; i++ {
		f, _ := store.GetFragment(ctx, fmt.Sprintf("f%d", i))
		if !approx(f.FreshnessScore, 0.8) {
			t.Errorf("f%d score = %v, want 0.8", i, f.FreshnessScore)
		}
	}
	gone, _ := store.GetFragment(ctx, "gone")
	if !gone.LastDecayCheck.Equal(epoch) {
		t.Errorf("fully decayed fragment should be skipped, watermark moved to %v", gone.LastDecayCheck)
	}
}

func TestBatchUpdateThenReadDoesNotDoubleCount(t *testing.T) {
	e, store, clock := newTestEngine(0)
	seed(store, "f1", 1.0)
	ctx := context.Background()

	clock.Advance(2 * time.Hour)
	if _, err := e.BatchUpdate(ctx); err != nil {
		t.Fatalf("BatchUpdate: %v", err)
	}
	f, err := e.ApplyDecay(ctx, "f1")
	if err != nil {
		t.Fatalf("ApplyDecay: %v", err)
	}
	if !approx(f.FreshnessScore, 0.9) {
		t.Errorf("score = %v, want 0.9", f.FreshnessScore)
	}
}

func TestBatchUpdateCancelled(t *testing.T) {
	e, store, _ := newTestEngine(0)
	seed(store, "f1", 1.0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.BatchUpdate(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestStatsAndListStale(t *testing.T) {
	e, store, _ := newTestEngine(0)
	ctx := context.Background()
	seed(store, "fresh", 0.9)
	seed(store, "fading", 0.5)
	seed(store, "stale", 0.2)
	seed(store, "dead", 0)

	st, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 4 || st.Fresh != 1 || st.Fading != 1 || st.Decayed != 2 {
		t.Errorf("stats = %+v", st)
	}
	if !approx(st.AverageFreshness, 0.4) {
		t.Errorf("average = %v, want 0.4", st.AverageFreshness)
	}

	stale, err := e.ListStale(ctx, -1, 0)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 2 || stale[0].ID != "dead" || stale[1].ID != "stale" {
		t.Errorf("stale = %v, want [dead stale]", ids(stale))
	}

	stale, _ = e.ListStale(ctx, 0.6, 1)
	if len(stale) != 1 || stale[0].ID != "dead" {
		t.Errorf("limited stale = %v, want [dead]", ids(stale))
	}
}

func ids(fs []*fragment.Fragment) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}
