// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

// This file contains the MySQL transaction dialect. Two-phase transactions
// use XA; savepoints inside an XA branch are not enabled unless configured.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// erXAERRMFail is returned by XA END on a branch already in the IDLE state.
const erXAERRMFail = 1399

// MySQLDialect drives MySQL transactions.
type MySQLDialect struct {
	sqlSavepoints
}

func (MySQLDialect) Name() string { return "mysql" }

func (MySQLDialect) Capabilities() Capabilities {
	return Capabilities{TwoPhase: true, Savepoints: true}
}

// Probe reports XA as available and leaves savepoints off; XA branches are
// what tpcbridge opens by default on MySQL.
func (MySQLDialect) Probe(context.Context, Execer) (Capabilities, error) {
	return Capabilities{TwoPhase: true, Savepoints: false}, nil
}

func (MySQLDialect) Begin(ctx context.Context, c Execer, xid string, twoPhase bool) error {
	if !twoPhase {
		return exec(ctx, c, "START TRANSACTION")
	}
	q, err := quoteXID(xid)
	if err != nil {
		return err
	}
	return exec(ctx, c, "XA START "+q)
}

func (MySQLDialect) Commit(ctx context.Context, c Execer, xid string, twoPhase bool) error {
	if !twoPhase {
		return exec(ctx, c, "COMMIT")
	}
	q, err := quoteXID(xid)
	if err != nil {
		return err
	}
	return exec(ctx, c, "XA END "+q, "XA COMMIT "+q+" ONE PHASE")
}

func (MySQLDialect) Rollback(ctx context.Context, c Execer, xid string, twoPhase bool) error {
	if !twoPhase {
		return exec(ctx, c, "ROLLBACK")
	}
	q, err := quoteXID(xid)
	if err != nil {
		return err
	}
	// A Prepare that failed after XA END leaves the branch IDLE; it can
	// still be rolled back.
	if err := exec(ctx, c, "XA END "+q); err != nil && !branchIdle(err) {
		return err
	}
	return exec(ctx, c, "XA ROLLBACK "+q)
}

func branchIdle(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erXAERRMFail
}

func (MySQLDialect) Prepare(ctx context.Context, c Execer, xid string) error {
	q, err := quoteXID(xid)
	if err != nil {
		return err
	}
	return exec(ctx, c, "XA END "+q, "XA PREPARE "+q)
}

func (MySQLDialect) CommitPrepared(ctx context.Context, c Execer, xid string) error {
	q, err := quoteXID(xid)
	if err != nil {
		return err
	}
	return exec(ctx, c, "XA COMMIT "+q)
}

func (MySQLDialect) RollbackPrepared(ctx context.Context, c Execer, xid string) error {
	q, err := quoteXID(xid)
	if err != nil {
		return err
	}
	return exec(ctx, c, "XA ROLLBACK "+q)
}

// Recover parses XA RECOVER rows (formatID, gtrid_length, bqual_length, data).
func (MySQLDialect) Recover(ctx context.Context, c Execer) ([]string, error) {
	rows, err := c.QueryContext(ctx, "XA RECOVER")
	if err != nil {
		return nil, fmt.Errorf("xa recover: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var xids []string
	for rows.Next() {
		var formatID, gtridLen, bqualLen int
		var data string
		if err := rows.Scan(&formatID, &gtridLen, &bqualLen, &data); err != nil {
			return nil, err
		}
		if gtridLen > 0 && gtridLen <= len(data) {
			data = data[:gtridLen]
		}
		if strings.HasPrefix(data, XIDPrefix) {
			xids = append(xids, data)
		}
	}
	return xids, rows.Err()
}
