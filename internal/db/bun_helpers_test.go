// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"testing"
)

func TestRawHelpers_OnConn(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, "sqlite", fileDSN(t), WithMigrations(true))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer func() { _ = e.Close() }()

	conn, err := e.DB.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := ExecRaw(ctx, conn, "INSERT INTO tpcbridge_probe (note) VALUES (?)", "raw"); err != nil {
		t.Fatalf("ExecRaw failed: %v", err)
	}
	var note string
	if err := QueryRawInto(ctx, conn, &note, "SELECT note FROM tpcbridge_probe WHERE note = ?", "raw"); err != nil {
		t.Fatalf("QueryRawInto failed: %v", err)
	}
	if note != "raw" {
		t.Fatalf("expected note 'raw', got %q", note)
	}
	n, err := CountRows(ctx, e.DB, "tpcbridge_probe")
	if err != nil || n != 1 {
		t.Fatalf("CountRows = %d, %v; want 1", n, err)
	}
}

func TestCountRows_RejectsBadTableName(t *testing.T) {
	ctx := context.Background()
	e, err := NewEngine(ctx, "sqlite", fileDSN(t))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer func() { _ = e.Close() }()

	if _, err := CountRows(ctx, e.DB, "probe; DROP TABLE x"); err == nil {
		t.Fatalf("expected invalid table name error")
	}
}
