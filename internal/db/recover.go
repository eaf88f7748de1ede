// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"fmt"
	"strings"
)

// Recover lists transactions prepared by tpcbridge on e that were never
// committed or rolled back.
func Recover(ctx context.Context, e *Engine) ([]string, error) {
	return e.Dialect.Recover(ctx, e.DB)
}

// Resolve finishes an in-doubt transaction by hand. It is an operator tool:
// nothing in tpcbridge calls it on its own.
func Resolve(ctx context.Context, e *Engine, xid string, commit bool) error {
	if !strings.HasPrefix(xid, XIDPrefix) {
		return fmt.Errorf("refusing to resolve %q: not a tpcbridge transaction id", xid)
	}
	var err error
	if commit {
		err = e.Dialect.CommitPrepared(ctx, e.DB, xid)
	} else {
		err = e.Dialect.RollbackPrepared(ctx, e.DB, xid)
	}
	if err != nil {
		return fmt.Errorf("resolve %s: %w", xid, MapDBError(err))
	}
	dbLogf("resolved %s (commit=%t)", xid, commit)
	return nil
}
