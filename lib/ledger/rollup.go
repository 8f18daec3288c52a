// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"
	"sort"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bursar-io/bursar/lib/money"
	"github.com/bursar-io/bursar/lib/schema/budget"
)

// Rollups are informative aggregations over the whole ledger,
// including archived agents, whose spend is history that happened.
// They never gate anything: no handshake, refresh, or modification
// consults them.

// RollupProjects aggregates budgets, leases, and usage by project.
func (l *Ledger) RollupProjects(ctx context.Context, req *budget.RollupRequest) (*budget.RollupResponse, error) {
	return l.rollupByGroup(ctx, "project")
}

// RollupOrganization aggregates budgets, leases, and usage by
// organization.
func (l *Ledger) RollupOrganization(ctx context.Context, req *budget.RollupRequest) (*budget.RollupResponse, error) {
	return l.rollupByGroup(ctx, "organization")
}

// rollupByGroup merges three aggregation passes over a fixed grouping
// column: budgets per agent, outstanding grant per active lease, and
// reconciled usage. The column name is one of two compile-time
// constants, never caller input.
func (l *Ledger) rollupByGroup(ctx context.Context, group string) (*budget.RollupResponse, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: rollup by %s: %w", group, err)
	}
	defer l.pool.Put(conn)

	rows := make(map[string]*budget.RollupRow)
	row := func(key string) *budget.RollupRow {
		if r, ok := rows[key]; ok {
			return r
		}
		r := &budget.RollupRow{Key: key}
		rows[key] = r
		return r
	}

	err = sqlitex.ExecuteTransient(conn, `
		SELECT a.`+group+`, COUNT(*), COALESCE(SUM(b.total), 0), COALESCE(SUM(b.spent), 0)
		FROM agents a JOIN budgets b ON b.agent_id = a.agent_id
		GROUP BY a.`+group, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			r := row(stmt.ColumnText(0))
			r.AgentCount = stmt.ColumnInt64(1)
			r.TotalBudget = money.Micros(stmt.ColumnInt64(2))
			r.TotalSpent = money.Micros(stmt.ColumnInt64(3))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: rollup by %s: %w", group, err)
	}

	err = sqlitex.ExecuteTransient(conn, `
		SELECT a.`+group+`, COALESCE(SUM(l.granted - l.spent), 0)
		FROM leases l JOIN agents a ON a.agent_id = l.agent_id
		WHERE l.status = 'active'
		GROUP BY a.`+group, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			row(stmt.ColumnText(0)).Outstanding = money.Micros(stmt.ColumnInt64(1))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: rollup by %s: %w", group, err)
	}

	err = sqlitex.ExecuteTransient(conn, `
		SELECT a.`+group+`, COALESCE(SUM(u.tokens), 0),
		       COALESCE(SUM(CASE WHEN u.tokens > 0 THEN 1 ELSE 0 END), 0)
		FROM usage_entries u JOIN agents a ON a.agent_id = u.agent_id
		GROUP BY a.`+group, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			r := row(stmt.ColumnText(0))
			r.Tokens = stmt.ColumnInt64(1)
			r.Requests = stmt.ColumnInt64(2)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: rollup by %s: %w", group, err)
	}

	response := &budget.RollupResponse{Rows: make([]budget.RollupRow, 0, len(rows))}
	keys := make([]string, 0, len(rows))
	for key := range rows {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		r := rows[key]
		r.Remaining = r.TotalBudget - r.TotalSpent - r.Outstanding
		response.Rows = append(response.Rows, *r)
	}
	return response, nil
}

// RollupProviders aggregates reconciled usage by provider, optionally
// narrowed to one project. Budget columns stay zero: budgets belong to
// agents, not providers. Settlement adjustments count toward spend but
// not toward the request count.
func (l *Ledger) RollupProviders(ctx context.Context, req *budget.RollupRequest) (*budget.RollupResponse, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: rollup providers: %w", err)
	}
	defer l.pool.Put(conn)

	query := `
		SELECT u.provider, COALESCE(SUM(u.cost), 0), COALESCE(SUM(u.tokens), 0),
		       COALESCE(SUM(CASE WHEN u.tokens > 0 THEN 1 ELSE 0 END), 0)
		FROM usage_entries u`
	var args []any
	if req.Project != "" {
		query += ` JOIN agents a ON a.agent_id = u.agent_id WHERE a.project = ?`
		args = append(args, req.Project)
	}
	query += ` GROUP BY u.provider ORDER BY u.provider`

	response := &budget.RollupResponse{Rows: []budget.RollupRow{}}
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			response.Rows = append(response.Rows, budget.RollupRow{
				Key:        stmt.ColumnText(0),
				TotalSpent: money.Micros(stmt.ColumnInt64(1)),
				Tokens:     stmt.ColumnInt64(2),
				Requests:   stmt.ColumnInt64(3),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: rollup providers: %w", err)
	}

	return response, nil
}
