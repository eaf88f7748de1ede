// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"context"
	"database/sql"
	"strings"

	"github.com/uptrace/bun"
)

type connKey struct{}

func withConn(ctx context.Context, conn *sql.Conn) context.Context {
	return context.WithValue(ctx, connKey{}, conn)
}

func connFrom(ctx context.Context) *sql.Conn {
	conn, _ := ctx.Value(connKey{}).(*sql.Conn)
	return conn
}

var _ bun.QueryHook = (*DirtyHook)(nil)

// DirtyHook is the backing store's post-write hook: it marks the session's
// connection dirty after a successful write.
type DirtyHook struct {
	tracker *DirtyTracker
}

// NewDirtyHook returns a hook reporting into tracker.
func NewDirtyHook(tracker *DirtyTracker) *DirtyHook {
	return &DirtyHook{tracker: tracker}
}

// BeforeQuery implements bun.QueryHook. It changes nothing.
func (h *DirtyHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

// AfterQuery implements bun.QueryHook: a successful write on a tracked
// connection marks it dirty.
func (h *DirtyHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Err != nil {
		return
	}
	conn := connFrom(ctx)
	if conn == nil || !IsWrite(event.Query) {
		return
	}
	// Read-only sessions refuse writes before they run, and connections owned
	// by another tracker are not ours to mark.
	_ = h.tracker.MarkDirty(conn)
}

var writeVerbs = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "REPLACE": true, "MERGE": true,
	"UPSERT": true, "TRUNCATE": true, "CREATE": true, "DROP": true, "ALTER": true,
}

// IsWrite reports whether query modifies data or schema, judged by its
// leading keyword. Common table expressions are scanned for a write verb.
func IsWrite(query string) bool {
	fields := strings.Fields(strings.TrimLeft(query, "( \t\r\n"))
	if len(fields) == 0 {
		return false
	}
	verb := strings.ToUpper(fields[0])
	if verb != "WITH" {
		return writeVerbs[verb]
	}
	for _, f := range fields[1:] {
		switch strings.ToUpper(f) {
		case "INSERT", "UPDATE", "DELETE":
			return true
		}
	}
	return false
}
