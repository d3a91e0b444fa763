package core

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLUserSource reads user snapshots for the submission path.
type SQLUserSource struct {
	db *sql.DB
}

func NewSQLUserSource(conn *sql.DB) *SQLUserSource {
	return &SQLUserSource{db: conn}
}

func (s *SQLUserSource) Snapshot(ctx context.Context, userID int64) (*User, error) {
	u := &User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, role, department, balance_cents, page_quota
		FROM users WHERE id = ?
	`, userID).Scan(&u.ID, &u.Username, &u.Role, &u.Department, &u.BalanceCents, &u.PageQuota)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user snapshot: %w", err)
	}
	return u, nil
}

// SQLPolicySource reads the full rule set ordered by scope precedence.
// The returned slice is the immutable snapshot a single submission is
// evaluated against.
type SQLPolicySource struct {
	db *sql.DB
}

func NewSQLPolicySource(conn *sql.DB) *SQLPolicySource {
	return &SQLPolicySource{db: conn}
}

func (s *SQLPolicySource) Snapshot(ctx context.Context) ([]PolicyRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, scope_value, max_pages, max_copies, force_duplex_above_pages,
			color_allowed, color_page_limit, cost_multiplier, window_start_hour, window_end_hour
		FROM policy_rules
		ORDER BY CASE scope WHEN 'global' THEN 0 WHEN 'department' THEN 1 ELSE 2 END, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy snapshot: %w", err)
	}
	defer rows.Close()

	var rules []PolicyRule
	for rows.Next() {
		var r PolicyRule
		if err := rows.Scan(&r.ID, &r.Scope, &r.ScopeValue, &r.MaxPages, &r.MaxCopies,
			&r.ForceDuplexAbovePages, &r.ColorAllowed, &r.ColorPageLimit, &r.CostMultiplier,
			&r.WindowStartHour, &r.WindowEndHour); err != nil {
			return nil, fmt.Errorf("failed to scan policy rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
