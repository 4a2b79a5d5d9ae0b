// Package memstore is an in-process implementation of fragment.Store.
// A single mutex is held for the whole of each transaction, which
// serializes every writer; a failed transaction restores the snapshot taken
// when it began.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/moltmud/internal/fragment"
)

// Agent is the balance row memstore keeps for each agent.
type Agent struct {
	Influence       int
	InfluenceEarned int
}

type state struct {
	fragments map[string]*fragment.Fragment
	purchases []*fragment.Purchase
	agents    map[string]*Agent
}

// Store is safe for concurrent use. InTx must not be nested.
type Store struct {
	mu       sync.Mutex
	st       state
	starting int
	autoNew  bool
}

// Option configures a Store.
type Option func(*Store)

// WithStartingInfluence makes unknown agents spring into existence with the
// given balance the first time they are touched, instead of failing with
// fragment.ErrAgentNotFound.
func WithStartingInfluence(n int) Option {
	return func(s *Store) {
		s.starting = n
		s.autoNew = true
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{st: state{
		fragments: make(map[string]*fragment.Fragment),
		agents:    make(map[string]*Agent),
	}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PutAgent creates or overwrites an agent balance.
func (s *Store) PutAgent(id string, influence int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.agents[id] = &Agent{Influence: influence}
}

// Agent returns a copy of an agent's balance row.
func (s *Store) Agent(id string) (Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.agents[id]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// PutFragment stores f as-is, bypassing creation defaults. Meant for seeding.
func (s *Store) PutFragment(f *fragment.Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.fragments[f.ID] = copyFragment(f)
}

// Purchases returns every ledger row in insertion order.
func (s *Store) Purchases() []*fragment.Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*fragment.Purchase, len(s.st.purchases))
	for i, p := range s.st.purchases {
		out[i] = copyPurchase(p)
	}
	return out
}

// InTx implements fragment.Store.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx fragment.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(ctx, &tx{s: s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// GetFragment implements fragment.Store.
func (s *Store) GetFragment(_ context.Context, id string) (*fragment.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.st.fragments[id]
	if !ok {
		return nil, fragment.ErrFragmentNotFound
	}
	return copyFragment(f), nil
}

// ListInRoom implements fragment.Store.
func (s *Store) ListInRoom(_ context.Context, roomID string, limit int) ([]*fragment.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*fragment.Fragment
	for _, f := range s.st.fragments {
		if f.RoomID == roomID {
			out = append(out, copyFragment(f))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CurrentValue != b.CurrentValue {
			return a.CurrentValue > b.CurrentValue
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return truncate(out, limit), nil
}

// ListStale implements fragment.Store.
func (s *Store) ListStale(_ context.Context, threshold float64, limit int) ([]*fragment.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*fragment.Fragment
	for _, f := range s.st.fragments {
		if f.FreshnessScore <= threshold {
			out = append(out, copyFragment(f))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FreshnessScore != out[j].FreshnessScore {
			return out[i].FreshnessScore < out[j].FreshnessScore
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

// Stats implements fragment.Store.
func (s *Store) Stats(_ context.Context, fresh, decayed float64) (fragment.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st fragment.Stats
	var sum float64
	for _, f := range s.st.fragments {
		st.Total++
		sum += f.FreshnessScore
		switch {
		case f.FreshnessScore > fresh:
			st.Fresh++
		case f.FreshnessScore > decayed:
			st.Fading++
		default:
			st.Decayed++
		}
	}
	if st.Total > 0 {
		st.AverageFreshness = sum / float64(st.Total)
	}
	return st, nil
}

// PurchasesByBuyer implements fragment.Store.
func (s *Store) PurchasesByBuyer(_ context.Context, buyerID string) ([]*fragment.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*fragment.Purchase
	for _, p := range s.st.purchases {
		if p.BuyerID == buyerID {
			out = append(out, copyPurchase(p))
		}
	}
	return out, nil
}

// Balance implements fragment.Store.
func (s *Store) Balance(_ context.Context, agentID string) (*fragment.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.agents[agentID]
	switch {
	case ok:
		return &fragment.Balance{AgentID: agentID, Influence: a.Influence, InfluenceEarned: a.InfluenceEarned}, nil
	case s.autoNew:
		return &fragment.Balance{AgentID: agentID, Influence: s.starting}, nil
	default:
		return nil, fragment.ErrAgentNotFound
	}
}

// EnsureAgent implements fragment.Store.
func (s *Store) EnsureAgent(_ context.Context, id, _ string, influence int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.agents[id]; !ok {
		s.st.agents[id] = &Agent{Influence: influence}
	}
	return nil
}

type tx struct {
	s *Store
}

func (t *tx) agent(id string) (*Agent, error) {
	a, ok := t.s.st.agents[id]
	if ok {
		return a, nil
	}
	if !t.s.autoNew {
		return nil, fragment.ErrAgentNotFound
	}
	a = &Agent{Influence: t.s.starting}
	t.s.st.agents[id] = a
	return a, nil
}

func (t *tx) InsertFragment(_ context.Context, f *fragment.Fragment) error {
	if _, err := t.agent(f.OwnerID); err != nil {
		return err
	}
	t.s.st.fragments[f.ID] = copyFragment(f)
	return nil
}

func (t *tx) LockFragment(_ context.Context, id string) (*fragment.Fragment, error) {
	f, ok := t.s.st.fragments[id]
	if !ok {
		return nil, fragment.ErrFragmentNotFound
	}
	return copyFragment(f), nil
}

func (t *tx) SavePurchaseState(_ context.Context, f *fragment.Fragment) error {
	cur, ok := t.s.st.fragments[f.ID]
	if !ok {
		return fragment.ErrFragmentNotFound
	}
	cur.CurrentValue = f.CurrentValue
	cur.PurchaseCount = f.PurchaseCount
	cur.TotalValueEarned = f.TotalValueEarned
	cur.FreshnessScore = f.FreshnessScore
	cur.LastDecayCheck = f.LastDecayCheck
	if f.LastPurchasedAt != nil {
		at := *f.LastPurchasedAt
		cur.LastPurchasedAt = &at
	}
	return nil
}

func (t *tx) AddRating(_ context.Context, fragmentID string, rating int) error {
	cur, ok := t.s.st.fragments[fragmentID]
	if !ok {
		return fragment.ErrFragmentNotFound
	}
	cur.RatingCount++
	cur.RatingSum += rating
	return nil
}

func (t *tx) LockDecayCandidates(_ context.Context, afterID string, limit int) ([]fragment.Watermark, error) {
	var out []fragment.Watermark
	for _, f := range t.s.st.fragments {
		if f.FreshnessScore > 0 && f.ID > afterID {
			out = append(out, f.Watermark())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) SaveWatermark(_ context.Context, id string, score float64, checkedAt time.Time) error {
	cur, ok := t.s.st.fragments[id]
	if !ok {
		return fragment.ErrFragmentNotFound
	}
	cur.FreshnessScore = score
	cur.LastDecayCheck = checkedAt
	return nil
}

func (t *tx) LockBalances(_ context.Context, agentIDs ...string) (map[string]int, error) {
	out := make(map[string]int, len(agentIDs))
	for _, id := range agentIDs {
		a, err := t.agent(id)
		if err != nil {
			return nil, err
		}
		out[id] = a.Influence
	}
	return out, nil
}

func (t *tx) Debit(_ context.Context, agentID string, amount int) error {
	a, err := t.agent(agentID)
	if err != nil {
		return err
	}
	if a.Influence < amount {
		return fragment.ErrInsufficientFunds
	}
	a.Influence -= amount
	return nil
}

func (t *tx) Credit(_ context.Context, agentID string, amount int) error {
	a, err := t.agent(agentID)
	if err != nil {
		return err
	}
	a.Influence += amount
	a.InfluenceEarned += amount
	return nil
}

func (t *tx) InsertPurchase(_ context.Context, p *fragment.Purchase) error {
	t.s.st.purchases = append(t.s.st.purchases, copyPurchase(p))
	return nil
}

func (t *tx) LockUnratedPurchase(_ context.Context, fragmentID, buyerID string) (*fragment.Purchase, error) {
	for _, p := range t.s.st.purchases {
		if p.FragmentID == fragmentID && p.BuyerID == buyerID && p.Rating == nil {
			return copyPurchase(p), nil
		}
	}
	return nil, fragment.ErrNoEligiblePurchase
}

func (t *tx) SetRating(_ context.Context, purchaseID string, rating int, at time.Time) error {
	for _, p := range t.s.st.purchases {
		if p.ID != purchaseID {
			continue
		}
		if p.Rating != nil {
			return fragment.ErrNoEligiblePurchase
		}
		r := rating
		p.Rating = &r
		p.RatedAt = &at
		return nil
	}
	return fragment.ErrNoEligiblePurchase
}

func (st state) clone() state {
	out := state{
		fragments: make(map[string]*fragment.Fragment, len(st.fragments)),
		purchases: make([]*fragment.Purchase, len(st.purchases)),
		agents:    make(map[string]*Agent, len(st.agents)),
	}
	for id, f := range st.fragments {
		out.fragments[id] = copyFragment(f)
	}
	for i, p := range st.purchases {
		out.purchases[i] = copyPurchase(p)
	}
	for id, a := range st.agents {
		cp := *a
		out.agents[id] = &cp
	}
	return out
}

func copyFragment(f *fragment.Fragment) *fragment.Fragment {
	cp := *f
	cp.Topics = append([]string(nil), f.Topics...)
	if f.LastPurchasedAt != nil {
		at := *f.LastPurchasedAt
		cp.LastPurchasedAt = &at
	}
	return &cp
}

func copyPurchase(p *fragment.Purchase) *fragment.Purchase {
	cp := *p
	if p.Rating != nil {
		r := *p.Rating
		cp.Rating = &r
	}
	if p.RatedAt != nil {
		at := *p.RatedAt
		cp.RatedAt = &at
	}
	return &cp
}

func truncate(fs []*fragment.Fragment, limit int) []*fragment.Fragment {
	if limit > 0 && len(fs) > limit {
		return fs[:limit]
	}
	return fs
}
