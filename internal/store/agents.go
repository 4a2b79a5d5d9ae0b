package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/moltmud/internal/fragment"
)

// EnsureAgent implements fragment.Store. Existing balances are left alone.
func (s *Store) EnsureAgent(ctx context.Context, id, name string, influence int) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agents (id, name, influence)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`, id, name, influence)
	if err != nil {
		return fmt.Errorf("ensure agent %s: %w", id, err)
	}
	return nil
}

// Balance implements fragment.Store.
func (s *Store) Balance(ctx context.Context, agentID string) (*fragment.Balance, error) {
	b := fragment.Balance{AgentID: agentID}
	err := s.db.QueryRow(ctx,
		`SELECT influence, influence_earned FROM agents WHERE id = $1`, agentID,
	).Scan(&b.Influence, &b.InfluenceEarned)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fragment.ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get balance %s: %w", agentID, err)
	}
	return &b, nil
}

// LockBalances takes the agent row locks in id order so that two purchases
// between the same pair of agents cannot deadlock.
func (t *pgTx) LockBalances(ctx context.Context, agentIDs ...string) (map[string]int, error) {
	ids := uniqueSorted(agentIDs)
	rows, err := t.tx.Query(ctx, `
		SELECT id, influence FROM agents
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock balances: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int, len(ids))
	for rows.Next() {
		var id string
		var influence int
		if err := rows.Scan(&id, &influence); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		out[id] = influence
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock balances: %w", err)
	}
	if len(out) != len(ids) {
		return nil, fragment.ErrAgentNotFound
	}
	return out, nil
}

func (t *pgTx) Debit(ctx context.Context, agentID string, amount int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE agents SET influence = influence - $2
		WHERE id = $1 AND influence >= $2`, agentID, amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", agentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fragment.ErrInsufficientFunds
	}
	return nil
}

func (t *pgTx) Credit(ctx context.Context, agentID string, amount int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE agents
		SET influence = influence + $2, influence_earned = influence_earned + $2
		WHERE id = $1`, agentID, amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", agentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fragment.ErrAgentNotFound
	}
	return nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
