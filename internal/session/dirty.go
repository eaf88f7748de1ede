// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"database/sql"
	"errors"
	"sync"
)

// Status is the write state of a tracked connection.
type Status int

const (
	StatusUntracked Status = iota
	StatusActive           // joined, no writes yet
	StatusDirty            // at least one write reached the backing store
	StatusReadOnly         // joined, writes are refused
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusDirty:
		return "dirty"
	case StatusReadOnly:
		return "readonly"
	default:
		return "untracked"
	}
}

var (
	// ErrReadOnly is returned when a write is attempted on a read-only session.
	ErrReadOnly = errors.New("session is read-only")
	// ErrNotTracked is returned by MarkDirty for a connection nobody registered.
	ErrNotTracked = errors.New("connection is not tracked")
)

// DirtyTracker records, per live connection, whether the current unit of
// work wrote anything. It is the only state shared across goroutines: the
// query hook may run wherever the query runs.
type DirtyTracker struct {
	mu     sync.Mutex
	status map[*sql.Conn]Status
}

// NewDirtyTracker returns an empty tracker.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{status: make(map[*sql.Conn]Status)}
}

// Register starts tracking conn with the given initial status.
func (t *DirtyTracker) Register(conn *sql.Conn, initial Status) {
	if initial != StatusReadOnly {
		initial = StatusActive
	}
	t.mu.Lock()
	t.status[conn] = initial
	t.mu.Unlock()
}

// MarkDirty flags conn as written. It never downgrades: marking an already
// dirty connection is a no-op.
func (t *DirtyTracker) MarkDirty(conn *sql.Conn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status[conn] {
	case StatusUntracked:
		return ErrNotTracked
	case StatusReadOnly:
		return ErrReadOnly
	case StatusActive:
		t.status[conn] = StatusDirty
	}
	return nil
}

// SetReadOnly switches a clean connection to read-only. A connection that
// was already written to stays dirty and ErrReadOnly is returned.
func (t *DirtyTracker) SetReadOnly(conn *sql.Conn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status[conn] {
	case StatusUntracked:
		return ErrNotTracked
	case StatusDirty:
		return ErrReadOnly
	}
	t.status[conn] = StatusReadOnly
	return nil
}

// Status returns the current status of conn.
func (t *DirtyTracker) Status(conn *sql.Conn) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status[conn]
}

// IsDirty reports whether conn has been written to.
func (t *DirtyTracker) IsDirty(conn *sql.Conn) bool {
	return t.Status(conn) == StatusDirty
}

// Forget drops conn; the next unit of work on it starts clean.
func (t *DirtyTracker) Forget(conn *sql.Conn) {
	t.mu.Lock()
	delete(t.status, conn)
	t.mu.Unlock()
}

// Len returns the number of tracked connections.
func (t *DirtyTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.status)
}
