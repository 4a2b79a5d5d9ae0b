package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/moltmud/internal/fragment"
)

const purchaseColumns = `
	id, fragment_id, buyer_id, seller_id, influence_amount,
	fragment_value_at_purchase, rating, purchased_at, rated_at`

func scanPurchase(row rowScanner) (*fragment.Purchase, error) {
	var p fragment.Purchase
	err := row.Scan(
		&p.ID, &p.FragmentID, &p.BuyerID, &p.SellerID, &p.InfluenceAmount,
		&p.ValueAtPurchase, &p.Rating, &p.PurchasedAt, &p.RatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PurchasesByBuyer implements fragment.Store.
func (s *Store) PurchasesByBuyer(ctx context.Context, buyerID string) ([]*fragment.Purchase, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE buyer_id = $1
		ORDER BY purchased_at ASC, id ASC`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var out []*fragment.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertPurchase(ctx context.Context, p *fragment.Purchase) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO purchases (
			id, fragment_id, buyer_id, seller_id, influence_amount,
			fragment_value_at_purchase, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.FragmentID, p.BuyerID, p.SellerID, p.InfluenceAmount,
		p.ValueAtPurchase, p.PurchasedAt,
	)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

func (t *pgTx) LockUnratedPurchase(ctx context.Context, fragmentID, buyerID string) (*fragment.Purchase, error) {
	p, err := scanPurchase(t.tx.QueryRow(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE fragment_id = $1 AND buyer_id = $2 AND rating IS NULL
		ORDER BY purchased_at ASC, id ASC
		LIMIT 1
		FOR UPDATE`, fragmentID, buyerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fragment.ErrNoEligiblePurchase
	}
	if err != nil {
		return nil, fmt.Errorf("lock unrated purchase: %w", err)
	}
	return p, nil
}

func (t *pgTx) SetRating(ctx context.Context, purchaseID string, rating int, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE purchases SET rating = $2, rated_at = $3
		WHERE id = $1 AND rating IS NULL`, purchaseID, rating, at)
	if err != nil {
		return fmt.Errorf("set rating %s: %w", purchaseID, err)
	}
	if tag.RowsAffected() == 0 {
		return fragment.ErrNoEligiblePurchase
	}
	return nil
}
