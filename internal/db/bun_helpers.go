// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
)

// rawProvider accepts *bun.DB, bun.Conn or bun.Tx: all of them expose NewRaw.
type rawProvider interface {
	NewRaw(query string, args ...interface{}) *bun.RawQuery
}

// ExecRaw executes a raw SQL statement using the provided Bun handle.
func ExecRaw(ctx context.Context, exec rawProvider, query string, args ...interface{}) (sql.Result, error) {
	return exec.NewRaw(query, args...).Exec(ctx)
}

// QueryRawInto runs a raw query and scans the result into dest.
func QueryRawInto(ctx context.Context, exec rawProvider, dest interface{}, query string, args ...interface{}) error {
	return exec.NewRaw(query, args...).Scan(ctx, dest)
}

// CountRows returns the number of rows in table as seen by exec.
func CountRows(ctx context.Context, exec rawProvider, table string) (int, error) {
	if !namePattern.MatchString(table) {
		return 0, fmt.Errorf("invalid table name %q", table)
	}
	var n int
	if err := QueryRawInto(ctx, exec, &n, "SELECT COUNT(*) FROM "+table); err != nil {
		return 0, err
	}
	return n, nil
}
