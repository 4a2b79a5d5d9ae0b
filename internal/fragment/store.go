package fragment

import (
	"context"
	"time"
)

// Store is the persistence port for fragments, purchases and the agent
// balances they move. Every mutation runs inside InTx so that a purchase
// either commits in full or not at all.
type Store interface {
	// InTx runs fn in one transaction. A non-nil error from fn rolls back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetFragment(ctx context.Context, id string) (*Fragment, error)
	ListInRoom(ctx context.Context, roomID string, limit int) ([]*Fragment, error)
	// ListStale returns fragments at or below threshold, least fresh first.
	ListStale(ctx context.Context, threshold float64, limit int) ([]*Fragment, error)
	// Stats buckets fragments as fresh (> fresh), decayed (<= decayed) or fading.
	Stats(ctx context.Context, fresh, decayed float64) (Stats, error)
	PurchasesByBuyer(ctx context.Context, buyerID string) ([]*Purchase, error)
	// Balance reads an agent's influence without locking.
	Balance(ctx context.Context, agentID string) (*Balance, error)
	// EnsureAgent creates an agent with influence if it is not known yet.
	EnsureAgent(ctx context.Context, id, name string, influence int) error
}

// Tx is the transactional unit of work. Lock* methods hold the row until
// the surrounding transaction ends.
type Tx interface {
	InsertFragment(ctx context.Context, f *Fragment) error
	// LockFragment returns ErrFragmentNotFound for an unknown id.
	LockFragment(ctx context.Context, id string) (*Fragment, error)
	// SavePurchaseState writes value, counters, freshness and last purchase time.
	SavePurchaseState(ctx context.Context, f *Fragment) error
	// AddRating bumps rating_count by one and rating_sum by rating.
	AddRating(ctx context.Context, fragmentID string, rating int) error

	// LockDecayCandidates pages through fragments whose score is positive or
	// unset, ordered by id, starting after afterID.
	LockDecayCandidates(ctx context.Context, afterID string, limit int) ([]Watermark, error)
	SaveWatermark(ctx context.Context, id string, score float64, checkedAt time.Time) error

	// LockBalances locks the agent rows in a stable order and returns their
	// influence. Missing agents yield ErrAgentNotFound.
	LockBalances(ctx context.Context, agentIDs ...string) (map[string]int, error)
	// Debit fails with ErrInsufficientFunds rather than going negative.
	Debit(ctx context.Context, agentID string, amount int) error
	// Credit adds amount to both influence and lifetime influence earned.
	Credit(ctx context.Context, agentID string, amount int) error

	InsertPurchase(ctx context.Context, p *Purchase) error
	// LockUnratedPurchase returns the oldest unrated purchase for the pair,
	// or ErrNoEligiblePurchase.
	LockUnratedPurchase(ctx context.Context, fragmentID, buyerID string) (*Purchase, error)
	SetRating(ctx context.Context, purchaseID string, rating int, at time.Time) error
}
