// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// XIDPrefix marks global transaction ids minted by tpcbridge. Recover only
// reports prepared transactions carrying it.
const XIDPrefix = "tpcbridge-"

var (
	// ErrTwoPhaseUnsupported is returned by dialects that cannot prepare.
	ErrTwoPhaseUnsupported = errors.New("backend does not support two-phase commit")
	// ErrUnsupportedType is returned for an unknown database type.
	ErrUnsupportedType = errors.New("unsupported database type")

	xidPattern  = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)
	namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
)

// Execer is satisfied by *bun.DB and bun.Conn. Transaction control runs on a
// bun.Conn so that the statements stay on the session's connection.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Capabilities advertises what a backing store can do.
type Capabilities struct {
	TwoPhase   bool
	Savepoints bool
}

// Mode is a tri-state configuration switch for a capability.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeOn   Mode = "on"
	ModeOff  Mode = "off"
)

// ParseMode accepts auto/on/off (and the usual boolean spellings).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "on", "true", "yes", "1":
		return ModeOn, nil
	case "off", "false", "no", "0":
		return ModeOff, nil
	}
	return "", fmt.Errorf("invalid mode %q (want auto, on or off)", s)
}

// Dialect issues transaction-control statements for one backend.
//
// Begin/Commit/Rollback operate on a transaction that has not been prepared.
// When twoPhase is true the transaction is opened under xid so that Prepare,
// CommitPrepared and RollbackPrepared can address it later.
type Dialect interface {
	Name() string
	// Capabilities reports the most the backend can ever do.
	Capabilities() Capabilities
	// Probe reports what the connected server is configured to do.
	Probe(ctx context.Context, c Execer) (Capabilities, error)

	Begin(ctx context.Context, c Execer, xid string, twoPhase bool) error
	Commit(ctx context.Context, c Execer, xid string, twoPhase bool) error
	Rollback(ctx context.Context, c Execer, xid string, twoPhase bool) error

	Prepare(ctx context.Context, c Execer, xid string) error
	CommitPrepared(ctx context.Context, c Execer, xid string) error
	RollbackPrepared(ctx context.Context, c Execer, xid string) error

	Savepoint(ctx context.Context, c Execer, name string) error
	RollbackToSavepoint(ctx context.Context, c Execer, name string) error
	ReleaseSavepoint(ctx context.Context, c Execer, name string) error

	// Recover lists xids prepared by tpcbridge that were never finished.
	Recover(ctx context.Context, c Execer) ([]string, error)
}

// NewXID mints a global transaction id.
func NewXID() string {
	return XIDPrefix + uuid.NewString()
}

// DialectFor returns the dialect for a database type.
func DialectFor(dbType string) (Dialect, error) {
	switch dbType {
	case "sqlite":
		return SqliteDialect{}, nil
	case "postgres":
		return PostgresDialect{}, nil
	case "mysql":
		return MySQLDialect{}, nil
	}
	return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedType, dbType)
}

func quoteXID(xid string) (string, error) {
	if !xidPattern.MatchString(xid) {
		return "", fmt.Errorf("invalid transaction id %q", xid)
	}
	return "'" + xid + "'", nil
}

func exec(ctx context.Context, c Execer, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := c.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

// sqlSavepoints implements the SQL-standard savepoint statements shared by
// every supported backend.
type sqlSavepoints struct{}

func (sqlSavepoints) Savepoint(ctx context.Context, c Execer, name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	return exec(ctx, c, "SAVEPOINT "+name)
}

func (sqlSavepoints) RollbackToSavepoint(ctx context.Context, c Execer, name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	return exec(ctx, c, "ROLLBACK TO SAVEPOINT "+name)
}

func (sqlSavepoints) ReleaseSavepoint(ctx context.Context, c Execer, name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	return exec(ctx, c, "RELEASE SAVEPOINT "+name)
}
