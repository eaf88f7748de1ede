// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

// This file contains the SQLite transaction dialect. SQLite has no prepare
// step, so sessions on it run as one-phase participants.
package db

import (
	"context"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SqliteDialect drives SQLite transactions.
type SqliteDialect struct {
	sqlSavepoints
}

func (SqliteDialect) Name() string { return "sqlite" }

func (SqliteDialect) Capabilities() Capabilities {
	return Capabilities{TwoPhase: false, Savepoints: true}
}

func (d SqliteDialect) Probe(context.Context, Execer) (Capabilities, error) {
	return d.Capabilities(), nil
}

func (SqliteDialect) Begin(ctx context.Context, c Execer, _ string, twoPhase bool) error {
	if twoPhase {
		return ErrTwoPhaseUnsupported
	}
	return exec(ctx, c, "BEGIN")
}

func (SqliteDialect) Commit(ctx context.Context, c Execer, _ string, _ bool) error {
	return exec(ctx, c, "COMMIT")
}

func (SqliteDialect) Rollback(ctx context.Context, c Execer, _ string, _ bool) error {
	return exec(ctx, c, "ROLLBACK")
}

func (SqliteDialect) Prepare(context.Context, Execer, string) error {
	return ErrTwoPhaseUnsupported
}

func (SqliteDialect) CommitPrepared(context.Context, Execer, string) error {
	return ErrTwoPhaseUnsupported
}

func (SqliteDialect) RollbackPrepared(context.Context, Execer, string) error {
	return ErrTwoPhaseUnsupported
}

// Recover never finds anything: a SQLite transaction cannot be left prepared.
func (SqliteDialect) Recover(context.Context, Execer) ([]string, error) {
	return nil, nil
}
