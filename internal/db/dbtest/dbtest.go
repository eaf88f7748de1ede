// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

// Package dbtest provides SQLite-backed fixtures for tests that need a real
// backing store, including a dialect that emulates prepared transactions.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/toeirei/tpcbridge/internal/db"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// OpenSqlite opens a file-backed SQLite database in WAL mode so that a second
// connection can observe what a session committed.
func OpenSqlite(t testing.TB) *bun.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "tpcbridge.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	bdb := bun.NewDB(sqlDB, sqlitedialect.New())
	t.Cleanup(func() { _ = bdb.Close() })
	return bdb
}

// MustExec runs statements on bdb outside any session.
func MustExec(t testing.TB, bdb *bun.DB, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		if _, err := bdb.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
}

// Count returns the number of rows in table as seen by a fresh connection.
func Count(t testing.TB, bdb *bun.DB, table string) int {
	t.Helper()
	n, err := db.CountRows(context.Background(), bdb, table)
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// FakeTwoPhase is a SQLite dialect that claims two-phase support. Prepare
// only records the xid; the SQLite transaction stays open on the session's
// connection until CommitPrepared or RollbackPrepared finishes it there.
type FakeTwoPhase struct {
	db.SqliteDialect

	mu       sync.Mutex
	prepared map[string]bool
	calls    []string

	// FailPrepare and FailCommitPrepared, when set, are returned instead of
	// performing the step.
	FailPrepare        error
	FailCommitPrepared error
}

var _ db.Dialect = (*FakeTwoPhase)(nil)

// NewFakeTwoPhase returns an empty fake.
func NewFakeTwoPhase() *FakeTwoPhase {
	return &FakeTwoPhase{prepared: make(map[string]bool)}
}

func (f *FakeTwoPhase) record(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

// Calls returns the transaction-control steps performed so far.
func (f *FakeTwoPhase) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeTwoPhase) Capabilities() db.Capabilities {
	return db.Capabilities{TwoPhase: true, Savepoints: true}
}

func (f *FakeTwoPhase) Probe(context.Context, db.Execer) (db.Capabilities, error) {
	return f.Capabilities(), nil
}

func (f *FakeTwoPhase) Begin(ctx context.Context, c db.Execer, xid string, _ bool) error {
	f.record("begin %s", xid)
	return f.SqliteDialect.Begin(ctx, c, xid, false)
}

func (f *FakeTwoPhase) Commit(ctx context.Context, c db.Execer, xid string, _ bool) error {
	f.record("commit %s", xid)
	return f.SqliteDialect.Commit(ctx, c, xid, false)
}

func (f *FakeTwoPhase) Rollback(ctx context.Context, c db.Execer, xid string, _ bool) error {
	f.record("rollback %s", xid)
	return f.SqliteDialect.Rollback(ctx, c, xid, false)
}

func (f *FakeTwoPhase) Prepare(_ context.Context, _ db.Execer, xid string) error {
	f.record("prepare %s", xid)
	if f.FailPrepare != nil {
		return f.FailPrepare
	}
	f.mu.Lock()
	f.prepared[xid] = true
	f.mu.Unlock()
	return nil
}

func (f *FakeTwoPhase) finish(ctx context.Context, c db.Execer, xid string, commit bool) error {
	f.mu.Lock()
	ok := f.prepared[xid]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("transaction %q is not prepared", xid)
	}
	var err error
	if commit {
		err = f.SqliteDialect.Commit(ctx, c, xid, false)
	} else {
		err = f.SqliteDialect.Rollback(ctx, c, xid, false)
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.prepared, xid)
	f.mu.Unlock()
	return nil
}

func (f *FakeTwoPhase) CommitPrepared(ctx context.Context, c db.Execer, xid string) error {
	f.record("commit_prepared %s", xid)
	if f.FailCommitPrepared != nil {
		return f.FailCommitPrepared
	}
	return f.finish(ctx, c, xid, true)
}

func (f *FakeTwoPhase) RollbackPrepared(ctx context.Context, c db.Execer, xid string) error {
	f.record("rollback_prepared %s", xid)
	return f.finish(ctx, c, xid, false)
}

// Recover lists prepared xids that were never finished.
func (f *FakeTwoPhase) Recover(context.Context, db.Execer) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	xids := make([]string, 0, len(f.prepared))
	for xid := range f.prepared {
		xids = append(xids, xid)
	}
	sort.Strings(xids)
	return xids, nil
}
