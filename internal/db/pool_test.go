// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"testing"
)

// TestDBPoolDefaultsSQLite verifies that NewEngine applies the default pool
// limit to a file-backed SQLite database.
func TestDBPoolDefaultsSQLite(t *testing.T) {
	// Ensure CI env overrides do not change the expectation for this unit test.
	t.Setenv("TPCBRIDGE_DB_MAX_OPEN_CONNS", "")
	t.Setenv("TPCBRIDGE_DB_MAX_IDLE_CONNS", "")

	e, err := NewEngine(context.Background(), "sqlite", fileDSN(t))
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	defer func() { _ = e.Close() }()

	if got := e.DB.DB.Stats().MaxOpenConnections; got != 25 {
		t.Fatalf("MaxOpenConnections = %d; want 25", got)
	}
}

func TestDBPool_EnvOverride(t *testing.T) {
	t.Setenv("TPCBRIDGE_DB_MAX_OPEN_CONNS", "7")

	e, err := NewEngine(context.Background(), "sqlite", fileDSN(t))
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	defer func() { _ = e.Close() }()

	if got := e.DB.DB.Stats().MaxOpenConnections; got != 7 {
		t.Fatalf("MaxOpenConnections = %d; want 7", got)
	}
}

// In-memory SQLite is per connection, so the pool is pinned to one.
func TestDBPool_InMemorySqlitePinned(t *testing.T) {
	t.Setenv("TPCBRIDGE_DB_MAX_OPEN_CONNS", "")

	e, err := NewEngine(context.Background(), "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	defer func() { _ = e.Close() }()

	if got := e.DB.DB.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("MaxOpenConnections = %d; want 1", got)
	}
}
