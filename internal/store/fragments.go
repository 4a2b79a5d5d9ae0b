package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/moltmud/internal/catalog"
	"github.com/nidhogg/moltmud/internal/fragment"
)

// Nullable freshness columns predate the freshness feature on old rows.
const fragmentColumns = `
	id, agent_id, room_id, content, topics, category, rarity,
	base_value, current_value, purchase_count, total_value_earned,
	rating_sum, rating_count,
	COALESCE(freshness_score, 1.0), COALESCE(decay_rate_per_hour, 0.05),
	last_decay_check, created_at, last_purchased_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFragment(row rowScanner) (*fragment.Fragment, error) {
	var (
		f             fragment.Fragment
		category      string
		rarity        string
		lastDecay     *time.Time
		lastPurchased *time.Time
	)
	err := row.Scan(
		&f.ID, &f.OwnerID, &f.RoomID, &f.Content, &f.Topics, &category, &rarity,
		&f.BaseValue, &f.CurrentValue, &f.PurchaseCount, &f.TotalValueEarned,
		&f.RatingSum, &f.RatingCount,
		&f.FreshnessScore, &f.DecayRatePerHour,
		&lastDecay, &f.CreatedAt, &lastPurchased,
	)
	if err != nil {
		return nil, err
	}
	f.Category = catalog.Category(category)
	f.Rarity = catalog.Rarity(rarity)
	if lastDecay != nil {
		f.LastDecayCheck = *lastDecay
	}
	f.LastPurchasedAt = lastPurchased
	if f.Topics == nil {
		f.Topics = []string{}
	}
	return &f, nil
}

func collectFragments(rows pgx.Rows) ([]*fragment.Fragment, error) {
	defer rows.Close()
	var out []*fragment.Fragment
	for rows.Next() {
		f, err := scanFragment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFragment implements fragment.Store.
func (s *Store) GetFragment(ctx context.Context, id string) (*fragment.Fragment, error) {
	f, err := scanFragment(s.db.QueryRow(ctx,
		`SELECT `+fragmentColumns+` FROM fragments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fragment.ErrFragmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fragment %s: %w", id, err)
	}
	return f, nil
}

// ListInRoom implements fragment.Store.
func (s *Store) ListInRoom(ctx context.Context, roomID string, limit int) ([]*fragment.Fragment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+fragmentColumns+`
		FROM fragments
		WHERE room_id = $1
		ORDER BY current_value DESC, created_at ASC, id ASC
		LIMIT $2`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list fragments: %w", err)
	}
	return collectFragments(rows)
}

// ListStale implements fragment.Store.
func (s *Store) ListStale(ctx context.Context, threshold float64, limit int) ([]*fragment.Fragment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+fragmentColumns+`
		FROM fragments
		WHERE COALESCE(freshness_score, 1.0) <= $1
		ORDER BY COALESCE(freshness_score, 1.0) ASC, id ASC
		LIMIT $2`, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale fragments: %w", err)
	}
	return collectFragments(rows)
}

// Stats implements fragment.Store.
func (s *Store) Stats(ctx context.Context, fresh, decayed float64) (fragment.Stats, error) {
	var st fragment.Stats
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(AVG(COALESCE(freshness_score, 1.0)), 0),
			COUNT(*) FILTER (WHERE COALESCE(freshness_score, 1.0) > $1),
			COUNT(*) FILTER (WHERE COALESCE(freshness_score, 1.0) <= $1 AND COALESCE(freshness_score, 1.0) > $2),
			COUNT(*) FILTER (WHERE COALESCE(freshness_score, 1.0) <= $2)
		FROM fragments`, fresh, decayed,
	).Scan(&st.Total, &st.AverageFreshness, &st.Fresh, &st.Fading, &st.Decayed)
	if err != nil {
		return fragment.Stats{}, fmt.Errorf("fragment stats: %w", err)
	}
	return st, nil
}

// tx-scoped fragment writes

func (t *pgTx) InsertFragment(ctx context.Context, f *fragment.Fragment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO fragments (
			id, agent_id, room_id, content, topics, category, rarity,
			base_value, current_value, freshness_score, decay_rate_per_hour,
			last_decay_check, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		f.ID, f.OwnerID, f.RoomID, f.Content, f.Topics, string(f.Category), string(f.Rarity),
		f.BaseValue, f.CurrentValue, f.FreshnessScore, f.DecayRatePerHour,
		f.LastDecayCheck, f.CreatedAt,
	)
	if isForeignKeyViolation(err) {
		return fragment.ErrAgentNotFound
	}
	if err != nil {
		return fmt.Errorf("insert fragment: %w", err)
	}
	return nil
}

func (t *pgTx) LockFragment(ctx context.Context, id string) (*fragment.Fragment, error) {
	f, err := scanFragment(t.tx.QueryRow(ctx,
		`SELECT `+fragmentColumns+` FROM fragments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fragment.ErrFragmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock fragment %s: %w", id, err)
	}
	return f, nil
}

func (t *pgTx) SavePurchaseState(ctx context.Context, f *fragment.Fragment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE fragments SET
			current_value = $2,
			purchase_count = $3,
			total_value_earned = $4,
			freshness_score = $5,
			last_decay_check = $6,
			last_purchased_at = $7
		WHERE id = $1`,
		f.ID, f.CurrentValue, f.PurchaseCount, f.TotalValueEarned,
		f.FreshnessScore, f.LastDecayCheck, f.LastPurchasedAt,
	)
	if err != nil {
		return fmt.Errorf("save purchase state %s: %w", f.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fragment.ErrFragmentNotFound
	}
	return nil
}

func (t *pgTx) AddRating(ctx context.Context, fragmentID string, rating int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE fragments
		SET rating_count = rating_count + 1, rating_sum = rating_sum + $2
		WHERE id = $1`, fragmentID, rating)
	if err != nil {
		return fmt.Errorf("add rating %s: %w", fragmentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fragment.ErrFragmentNotFound
	}
	return nil
}

func (t *pgTx) LockDecayCandidates(ctx context.Context, afterID string, limit int) ([]fragment.Watermark, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, COALESCE(freshness_score, 1.0), COALESCE(decay_rate_per_hour, 0.05), last_decay_check
		FROM fragments
		WHERE (freshness_score > 0 OR freshness_score IS NULL) AND id > $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("lock decay candidates: %w", err)
	}
	defer rows.Close()

	var out []fragment.Watermark
	for rows.Next() {
		var w fragment.Watermark
		var checked *time.Time
		if err := rows.Scan(&w.ID, &w.Score, &w.Rate, &checked); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		if checked != nil {
			w.CheckedAt = *checked
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (t *pgTx) SaveWatermark(ctx context.Context, id string, score float64, checkedAt time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE fragments SET freshness_score = $2, last_decay_check = $3
		WHERE id = $1`, id, score, checkedAt)
	if err != nil {
		return fmt.Errorf("save watermark %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fragment.ErrFragmentNotFound
	}
	return nil
}
