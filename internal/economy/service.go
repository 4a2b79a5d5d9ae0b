// Package economy is the knowledge-fragment marketplace: sharing fragments
// into rooms, buying access to them with influence and rating them.
package economy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/moltmud/internal/catalog"
	"github.com/nidhogg/moltmud/internal/events"
	"github.com/nidhogg/moltmud/internal/fragment"
	"github.com/nidhogg/moltmud/internal/freshness"
	"go.uber.org/zap"
)

const (
	defaultListLimit         = 50
	maxListLimit             = 200
	defaultStartingInfluence = 10
)

// Config tunes a Service.
type Config struct {
	DefaultDecayRate  float64          // per-hour decay for new fragments (default 0.05)
	StartingInfluence int              // balance granted by RegisterAgent (default 10)
	Seed              uint64           // non-zero makes rarity draws reproducible
	Now               func() time.Time // clock override for tests
}

// Service is the entry point the action dispatcher calls into.
type Service struct {
	store    fragment.Store
	fresh    *freshness.Engine
	bus      events.Publisher
	rate     float64
	starting int
	now      func() time.Time
	logger   *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewService wires the marketplace. bus may be nil.
func NewService(store fragment.Store, fresh *freshness.Engine, bus events.Publisher, cfg Config, logger *zap.Logger) *Service {
	if cfg.DefaultDecayRate <= 0 {
		cfg.DefaultDecayRate = fragment.DefaultDecayRate
	}
	if cfg.StartingInfluence <= 0 {
		cfg.StartingInfluence = defaultStartingInfluence
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if bus == nil {
		bus = events.Nop{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Service{
		store:    store,
		fresh:    fresh,
		bus:      bus,
		rate:     cfg.DefaultDecayRate,
		starting: cfg.StartingInfluence,
		now:      cfg.Now,
		logger:   logger,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// CreateParams describes a newly shared fragment.
type CreateParams struct {
	OwnerID  string   `json:"owner_id"`
	RoomID   string   `json:"room_id"`
	Content  string   `json:"content"`
	Topics   []string `json:"topics"`
	Category string   `json:"category,omitempty"`
}

// Create shares a fragment. Unknown or missing categories fall back to
// Historical; rarity is drawn once here and never changes.
func (s *Service) Create(ctx context.Context, p CreateParams) (*fragment.Fragment, error) {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return nil, fragment.ErrEmptyContent
	}
	category, ok := catalog.ParseCategory(p.Category)
	if !ok {
		category = catalog.DefaultCategory
	}
	topics := p.Topics
	if topics == nil {
		topics = []string{}
	}

	now := s.now()
	f := &fragment.Fragment{
		ID:               uuid.New().String(),
		OwnerID:          p.OwnerID,
		RoomID:           p.RoomID,
		Content:          content,
		Topics:           topics,
		Category:         category,
		Rarity:           s.drawRarity(),
		BaseValue:        fragment.BaseValue,
		CurrentValue:     fragment.BaseValue,
		FreshnessScore:   1.0,
		DecayRatePerHour: s.rate,
		LastDecayCheck:   now,
		CreatedAt:        now,
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx fragment.Tx) error {
		return tx.InsertFragment(ctx, f)
	})
	if err != nil {
		return nil, fmt.Errorf("create fragment: %w", err)
	}

	s.logger.Info("fragment shared",
		zap.String("fragment", f.ID),
		zap.String("owner", f.OwnerID),
		zap.String("room", f.RoomID),
		zap.String("category", string(f.Category)),
		zap.String("rarity", string(f.Rarity)))
	s.publish(ctx, &events.Event{
		Type:       events.FragmentCreated,
		FragmentID: f.ID,
		AgentID:    f.OwnerID,
		RoomID:     f.RoomID,
		Data: map[string]any{
			"category": f.Category,
			"rarity":   f.Rarity,
		},
	})
	return f, nil
}

func (s *Service) drawRarity() catalog.Rarity {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return catalog.SampleRarity(s.rng)
}

// ListInRoom returns up to limit fragments in a room, most valuable first.
func (s *Service) ListInRoom(ctx context.Context, roomID string, limit int) ([]*fragment.Fragment, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	frags, err := s.store.ListInRoom(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list room %s: %w", roomID, err)
	}
	return frags, nil
}

// GetWithFreshness applies pending decay and returns the full fragment.
func (s *Service) GetWithFreshness(ctx context.Context, id string) (*fragment.Fragment, error) {
	return s.fresh.ApplyDecay(ctx, id)
}

// PurchasesByBuyer lists the ledger entries an agent has bought.
func (s *Service) PurchasesByBuyer(ctx context.Context, buyerID string) ([]*fragment.Purchase, error) {
	ps, err := s.store.PurchasesByBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("purchases of %s: %w", buyerID, err)
	}
	return ps, nil
}

// RegisterAgent makes sure an agent has a balance row, granting the
// starting influence on first sight.
func (s *Service) RegisterAgent(ctx context.Context, id, name string) (*fragment.Balance, error) {
	if err := s.store.EnsureAgent(ctx, id, name, s.starting); err != nil {
		return nil, fmt.Errorf("register agent %s: %w", id, err)
	}
	return s.Balance(ctx, id)
}

// Balance reads an agent's influence.
func (s *Service) Balance(ctx context.Context, agentID string) (*fragment.Balance, error) {
	b, err := s.store.Balance(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", agentID, err)
	}
	return b, nil
}

func (s *Service) publish(ctx context.Context, ev *events.Event) {
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("type", ev.Type),
			zap.String("fragment", ev.FragmentID),
			zap.Error(err))
	}
}
