// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"errors"
	"strings"
)

var (
	// ErrDuplicate is returned when attempting to insert a record that already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrSerialization marks a conflict the caller may retry in a new transaction.
	ErrSerialization = errors.New("serialization conflict")
)

// MapDBError inspects low-level driver errors and maps common failures to
// package-level sentinel errors. The original error stays in the chain. This
// is a conservative, string-based mapping to avoid importing SQL driver
// packages into this file.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	le := strings.ToLower(err.Error())
	switch {
	// MySQL duplicate entry, Postgres unique violation (23505), SQLite unique constraint
	case strings.Contains(le, "duplicate"), strings.Contains(le, "unique"), strings.Contains(le, "23505"), strings.Contains(le, "1062"):
		return errors.Join(ErrDuplicate, err)
	// Postgres serialization_failure/deadlock_detected, MySQL deadlock (1213), SQLite busy
	case strings.Contains(le, "40001"), strings.Contains(le, "40p01"), strings.Contains(le, "1213"),
		strings.Contains(le, "deadlock"), strings.Contains(le, "could not serialize"), strings.Contains(le, "database is locked"):
		return errors.Join(ErrSerialization, err)
	}
	return err
}
