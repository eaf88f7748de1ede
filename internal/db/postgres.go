// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

// This file contains the PostgreSQL transaction dialect. Two-phase commit
// needs max_prepared_transactions > 0 on the server; Probe checks it.
package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// PostgresDialect drives PostgreSQL transactions.
type PostgresDialect struct {
	sqlSavepoints
}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) Capabilities() Capabilities {
	return Capabilities{TwoPhase: true, Savepoints: true}
}

func (PostgresDialect) Probe(ctx context.Context, c Execer) (Capabilities, error) {
	caps := Capabilities{Savepoints: true}
	rows, err := c.QueryContext(ctx, "SHOW max_prepared_transactions")
	if err != nil {
		return caps, fmt.Errorf("probe max_prepared_transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	if rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return caps, err
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			caps.TwoPhase = true
		}
	}
	return caps, rows.Err()
}

// Begin opens a plain transaction; the xid is only attached at prepare time.
func (PostgresDialect) Begin(ctx context.Context, c Execer, _ string, _ bool) error {
	return exec(ctx, c, "BEGIN")
}

func (PostgresDialect) Commit(ctx context.Context, c Execer, _ string, _ bool) error {
	return exec(ctx, c, "COMMIT")
}

func (PostgresDialect) Rollback(ctx context.Context, c Execer, _ string, _ bool) error {
	return exec(ctx, c, "ROLLBACK")
}

func (PostgresDialect) Prepare(ctx context.Context, c Execer, xid string) error {
	q, err := quoteXID(xid)
	if err != nil {
		return err
	}
	return exec(ctx, c, "PREPARE TRANSACTION "+q)
}

func (PostgresDialect) CommitPrepared(ctx context.Context, c Execer, xid string) error {
	q, err := quoteXID(xid)
	if err != nil {
		return err
	}
	return exec(ctx, c, "COMMIT PREPARED "+q)
}

func (PostgresDialect) RollbackPrepared(ctx context.Context, c Execer, xid string) error {
	q, err := quoteXID(xid)
	if err != nil {
		return err
	}
	return exec(ctx, c, "ROLLBACK PREPARED "+q)
}

func (PostgresDialect) Recover(ctx context.Context, c Execer) ([]string, error) {
	rows, err := c.QueryContext(ctx,
		"SELECT gid FROM pg_prepared_xacts WHERE database = current_database() AND gid LIKE '"+XIDPrefix+"%' ORDER BY prepared")
	if err != nil {
		return nil, fmt.Errorf("list prepared transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var xids []string
	for rows.Next() {
		var gid string
		if err := rows.Scan(&gid); err != nil {
			return nil, err
		}
		xids = append(xids, gid)
	}
	return xids, rows.Err()
}
