// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/toeirei/tpcbridge/internal/db"
	"github.com/toeirei/tpcbridge/internal/logging"
	"github.com/uptrace/bun"
)

// Factory produces sessions over one bun.DB.
type Factory struct {
	db       *bun.DB
	dialect  db.Dialect
	caps     db.Capabilities
	tracker  *DirtyTracker
	readOnly bool
	logger   *log.Logger
	seq      atomic.Uint64
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithCapabilities replaces the dialect's static capabilities, usually with
// the ones an Engine probed.
func WithCapabilities(c db.Capabilities) FactoryOption {
	return func(f *Factory) { f.caps = c }
}

// WithReadOnly makes every session refuse writes.
func WithReadOnly(readOnly bool) FactoryOption {
	return func(f *Factory) { f.readOnly = readOnly }
}

// WithTracker shares a tracker between factories.
func WithTracker(t *DirtyTracker) FactoryOption {
	return func(f *Factory) { f.tracker = t }
}

// WithLogger sets the logger sessions report to.
func WithLogger(l *log.Logger) FactoryOption {
	return func(f *Factory) { f.logger = l }
}

// NewFactory builds a factory and installs the dirty hook on bdb.
func NewFactory(bdb *bun.DB, dialect db.Dialect, opts ...FactoryOption) *Factory {
	f := &Factory{db: bdb, dialect: dialect, caps: dialect.Capabilities()}
	for _, opt := range opts {
		opt(f)
	}
	if f.tracker == nil {
		f.tracker = NewDirtyTracker()
	}
	if f.logger == nil {
		f.logger = logging.With("component", "session")
	}
	bdb.AddQueryHook(NewDirtyHook(f.tracker))
	return f
}

// NewFactoryFromEngine uses the engine's probed capabilities.
func NewFactoryFromEngine(e *db.Engine, opts ...FactoryOption) *Factory {
	return NewFactory(e.DB, e.Dialect, append([]FactoryOption{WithCapabilities(e.Caps)}, opts...)...)
}

// NewSession reserves a connection and starts tracking it.
func (f *Factory) NewSession(ctx context.Context) (*Session, error) {
	conn, err := f.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	status := StatusActive
	if f.readOnly {
		status = StatusReadOnly
	}
	f.tracker.Register(conn.Conn, status)
	id := f.seq.Add(1)
	return &Session{
		id:      id,
		conn:    conn,
		dialect: f.dialect,
		caps:    f.caps,
		tracker: f.tracker,
		logger:  f.logger.With("session", id),
	}, nil
}

// Tracker returns the factory's dirty tracker.
func (f *Factory) Tracker() *DirtyTracker { return f.tracker }

// Capabilities returns what sessions from this factory support.
func (f *Factory) Capabilities() db.Capabilities { return f.caps }

// Dialect returns the transaction dialect.
func (f *Factory) Dialect() db.Dialect { return f.dialect }

// DB returns the underlying bun handle.
func (f *Factory) DB() *bun.DB { return f.db }
