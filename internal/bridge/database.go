// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/toeirei/tpcbridge/internal/db"
	"github.com/toeirei/tpcbridge/internal/session"
)

// Database is what application code holds: it hands out the session joined
// to the transaction in the caller's context, joining on first use.
type Database struct {
	mu          sync.RWMutex
	engine      *db.Engine
	factory     *session.Factory
	factoryOpts []session.FactoryOption
	awareness   *Awareness
}

// NewDatabase wires a session factory and an awareness over e.
func NewDatabase(e *db.Engine, factoryOpts []session.FactoryOption, opts ...Option) *Database {
	o := buildOptions(opts)
	factory := session.NewFactoryFromEngine(e, factoryOpts...)
	return &Database{
		engine:      e,
		factory:     factory,
		factoryOpts: factoryOpts,
		awareness:   NewAwareness(factory, o.shared()),
	}
}

// Session returns the session joined to the transaction in ctx. The first
// call per transaction creates it; later calls return the same session and
// ignore opts.
func (d *Database) Session(ctx context.Context, opts ...BeginOption) (*session.Session, error) {
	if p := d.awareness.Participant(ctx); p != nil && p.Session() != nil {
		return p.Session(), nil
	}
	p, err := d.awareness.Begin(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return p.Session(), nil
}

// Reopen replaces the engine after a connection setting changed: a new
// engine of the same type is opened on dsn, later sessions come from it and
// the old pool is closed. Sessions joined before keep their connection until
// their transaction completes. On error the current engine stays in use.
func (d *Database) Reopen(ctx context.Context, dsn string, opts ...db.Option) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, err := db.NewEngine(ctx, d.engine.Type, dsn, opts...)
	if err != nil {
		return fmt.Errorf("reopen %s: %w", d.engine.Type, err)
	}
	old := d.engine
	d.engine = e
	d.factory = session.NewFactoryFromEngine(e, d.factoryOpts...)
	d.awareness.setFactory(d.factory)
	return old.Close()
}

// Awareness returns the awareness used for joining.
func (d *Database) Awareness() *Awareness { return d.awareness }

// Factory returns the session factory.
func (d *Database) Factory() *session.Factory {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.factory
}

// Engine returns the underlying engine.
func (d *Database) Engine() *db.Engine {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.engine
}

// Close closes the engine's pool.
func (d *Database) Close() error { return d.Engine().Close() }
