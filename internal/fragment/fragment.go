// Package fragment defines knowledge fragments, the purchase ledger and the
// storage port the economy runs on.
package fragment

import (
	"time"

	"github.com/nidhogg/moltmud/internal/catalog"
)

const (
	// BaseValue is the influence price of a freshly shared fragment.
	BaseValue = 1
	// DefaultDecayRate drains a full fragment in 20 hours.
	DefaultDecayRate = 0.05
)

// Fragment is a tradeable piece of knowledge pinned to a room.
type Fragment struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"owner_id"`
	RoomID           string           `json:"room_id"`
	Content          string           `json:"content"`
	Topics           []string         `json:"topics"`
	Category         catalog.Category `json:"category"`
	Rarity           catalog.Rarity   `json:"rarity"`
	BaseValue        int              `json:"base_value"`
	CurrentValue     int              `json:"current_value"`
	PurchaseCount    int              `json:"purchase_count"`
	TotalValueEarned int              `json:"total_value_earned"`
	RatingSum        int              `json:"rating_sum"`
	RatingCount      int              `json:"rating_count"`
	FreshnessScore   float64          `json:"freshness_score"`
	DecayRatePerHour float64          `json:"decay_rate_per_hour"`
	LastDecayCheck   time.Time        `json:"last_decay_check"`
	CreatedAt        time.Time        `json:"created_at"`
	LastPurchasedAt  *time.Time       `json:"last_purchased_at,omitempty"`
}

// AverageRating is rating_sum / rating_count, or 0 for an unrated fragment.
func (f *Fragment) AverageRating() float64 {
	if f.RatingCount == 0 {
		return 0
	}
	return float64(f.RatingSum) / float64(f.RatingCount)
}

// Watermark returns the decay-relevant slice of f.
func (f *Fragment) Watermark() Watermark {
	return Watermark{
		ID:        f.ID,
		Score:     f.FreshnessScore,
		Rate:      f.DecayRatePerHour,
		CheckedAt: f.LastDecayCheck,
	}
}

// Watermark is the persisted (score, last check) pair decay is computed from.
type Watermark struct {
	ID        string
	Score     float64
	Rate      float64
	CheckedAt time.Time
}

// Purchase is an append-only ledger entry. Only the rating may change, once.
type Purchase struct {
	ID              string     `json:"id"`
	FragmentID      string     `json:"fragment_id"`
	BuyerID         string     `json:"buyer_id"`
	SellerID        string     `json:"seller_id"`
	InfluenceAmount int        `json:"influence_amount"`
	ValueAtPurchase int        `json:"fragment_value_at_purchase"`
	Rating          *int       `json:"rating,omitempty"`
	PurchasedAt     time.Time  `json:"purchased_at"`
	RatedAt         *time.Time `json:"rated_at,omitempty"`
}

// Rated reports whether a rating has been recorded.
func (p *Purchase) Rated() bool { return p.Rating != nil }

// Stats summarizes freshness across every fragment.
type Stats struct {
	Total            int     `json:"total_fragments"`
	AverageFreshness float64 `json:"average_freshness"`
	Fresh            int     `json:"fresh_count"`
	Fading           int     `json:"fading_count"`
	Decayed          int     `json:"decayed_count"`
}

// Balance is an agent's spendable and lifetime-earned influence. The agents
// table is owned elsewhere; the economy only moves deltas through it.
type Balance struct {
	AgentID         string `json:"agent_id"`
	Influence       int    `json:"influence"`
	InfluenceEarned int    `json:"influence_earned"`
}
