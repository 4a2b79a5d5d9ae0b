package economy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nidhogg/moltmud/internal/events"
	"github.com/nidhogg/moltmud/internal/fragment"
	"go.uber.org/zap"
)

// Receipt is returned from a successful purchase.
type Receipt struct {
	PurchaseID   string `json:"purchase_id"`
	FragmentID   string `json:"fragment_id"`
	SellerID     string `json:"seller_id"`
	Charged      int    `json:"cost"`
	BuyerBalance int    `json:"new_influence"`
	NewValue     int    `json:"new_value"`
}

// Purchase moves the fragment's current value from buyer to owner and
// records an unrated ledger entry. The fragment row is locked first, so two
// buyers racing for the same fragment are serialized; the balance rows are
// locked next and the debit is conditional on funds.
func (s *Service) Purchase(ctx context.Context, fragmentID, buyerID string) (*Receipt, error) {
	var rec Receipt
	err := s.store.InTx(ctx, func(ctx context.Context, tx fragment.Tx) error {
		f, err := tx.LockFragment(ctx, fragmentID)
		if err != nil {
			return err
		}
		seller := f.OwnerID
		if buyerID == seller {
			return fragment.ErrSelfPurchase
		}

		balances, err := tx.LockBalances(ctx, buyerID, seller)
		if err != nil {
			return err
		}
		price := f.CurrentValue
		if balances[buyerID] < price {
			return fragment.ErrInsufficientFunds
		}
		if err := tx.Debit(ctx, buyerID, price); err != nil {
			return err
		}
		if err := tx.Credit(ctx, seller, price); err != nil {
			return err
		}

		now := s.now()
		f.PurchaseCount++
		f.TotalValueEarned += price
		f.CurrentValue = NextValue(f.BaseValue, f.PurchaseCount, f.Rarity)
		f.LastPurchasedAt = &now
		f.FreshnessScore = 1.0
		f.LastDecayCheck = now
		if err := tx.SavePurchaseState(ctx, f); err != nil {
			return err
		}

		p := &fragment.Purchase{
			ID:              uuid.New().String(),
			FragmentID:      f.ID,
			BuyerID:         buyerID,
			SellerID:        seller,
			InfluenceAmount: price,
			ValueAtPurchase: price,
			PurchasedAt:     now,
		}
		if err := tx.InsertPurchase(ctx, p); err != nil {
			return err
		}

		rec = Receipt{
			PurchaseID:   p.ID,
			FragmentID:   f.ID,
			SellerID:     seller,
			Charged:      price,
			BuyerBalance: balances[buyerID] - price,
			NewValue:     f.CurrentValue,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("purchase %s: %w", fragmentID, err)
	}

	s.logger.Info("fragment purchased",
		zap.String("fragment", rec.FragmentID),
		zap.String("buyer", buyerID),
		zap.String("seller", rec.SellerID),
		zap.Int("cost", rec.Charged))
	s.publish(ctx, &events.Event{
		Type:       events.FragmentPurchased,
		FragmentID: rec.FragmentID,
		AgentID:    buyerID,
		Data: map[string]any{
			"seller":    rec.SellerID,
			"cost":      rec.Charged,
			"new_value": rec.NewValue,
		},
	})
	return &rec, nil
}

// Rate records a buyer's 1–5 rating against their oldest unrated purchase
// of the fragment. Each purchase can be rated once.
func (s *Service) Rate(ctx context.Context, fragmentID, buyerID string, rating int) error {
	if rating < 1 || rating > 5 {
		return fragment.ErrInvalidRating
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx fragment.Tx) error {
		p, err := tx.LockUnratedPurchase(ctx, fragmentID, buyerID)
		if err != nil {
			return err
		}
		if err := tx.SetRating(ctx, p.ID, rating, s.now()); err != nil {
			return err
		}
		return tx.AddRating(ctx, fragmentID, rating)
	})
	if err != nil {
		return fmt.Errorf("rate %s: %w", fragmentID, err)
	}

	s.logger.Info("fragment rated",
		zap.String("fragment", fragmentID),
		zap.String("buyer", buyerID),
		zap.Int("rating", rating))
	s.publish(ctx, &events.Event{
		Type:       events.FragmentRated,
		FragmentID: fragmentID,
		AgentID:    buyerID,
		Data:       map[string]any{"rating": rating},
	})
	return nil
}
