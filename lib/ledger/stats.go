// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Stats is the service diagnostic snapshot for the info action.
type Stats struct {
	// Agents counts enrolled agents in any status.
	Agents int64

	// ActiveLeases counts leases currently holding budget.
	ActiveLeases int64
}

// Stats counts agents and active leases.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger: stats: %w", err)
	}
	defer l.pool.Put(conn)

	var stats Stats
	err = sqlitex.Execute(conn, `SELECT
			(SELECT COUNT(*) FROM agents),
			(SELECT COUNT(*) FROM leases WHERE status = 'active')`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.Agents = stmt.ColumnInt64(0)
				stats.ActiveLeases = stmt.ColumnInt64(1)
				return nil
			},
		})
	if err != nil {
		return Stats{}, fmt.Errorf("ledger: stats: %w", err)
	}
	return stats, nil
}
