// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/toeirei/tpcbridge/internal/db"
	"github.com/uptrace/bun"
)

// Tx is the session's open transaction.
type Tx struct {
	XID      string
	TwoPhase bool
	prepared bool
}

// Prepared reports whether the transaction has been voted on.
func (t *Tx) Prepared() bool { return t != nil && t.prepared }

// Nested is a savepoint inside the session's transaction.
type Nested struct {
	session *Session
	tx      *Tx
	name    string
	valid   bool
}

// Name returns the savepoint name used on the wire.
func (n *Nested) Name() string { return n.name }

// Valid reports whether the nested transaction can still be rolled back.
func (n *Nested) Valid() bool { return n.valid }

// Rollback undoes everything written since the savepoint and discards
// pending writes. The savepoint and every later one become invalid.
func (n *Nested) Rollback(ctx context.Context) error {
	return n.session.rollbackNested(ctx, n)
}

type writeKind int

const (
	writeInsert writeKind = iota
	writeUpdate
	writeDelete
)

func (k writeKind) String() string {
	switch k {
	case writeInsert:
		return "insert"
	case writeUpdate:
		return "update"
	default:
		return "delete"
	}
}

type write struct {
	kind    writeKind
	model   any
	columns []string
}

// Session is a unit of work bound to one pooled connection. It is not safe
// for concurrent use.
type Session struct {
	id      uint64
	conn    bun.Conn
	dialect db.Dialect
	caps    db.Capabilities
	tracker *DirtyTracker
	logger  *log.Logger
	tx      *Tx
	pending []write
	nested  []*Nested
	spSeq   int
	tainted bool
	closed  bool
}

// ID returns the factory-assigned session number.
func (s *Session) ID() uint64 { return s.id }

// SupportsTwoPhase reports whether Begin opens a preparable transaction.
func (s *Session) SupportsTwoPhase() bool { return s.caps.TwoPhase }

// SupportsSavepoints reports whether BeginNested is available.
func (s *Session) SupportsSavepoints() bool { return s.caps.Savepoints }

// Tx returns the open transaction or nil.
func (s *Session) Tx() *Tx { return s.tx }

// Conn exposes the session's connection for queries the helpers do not
// cover. Run them with Context(ctx) so writes are tracked.
func (s *Session) Conn() bun.Conn { return s.conn }

// Context returns ctx tagged with the session's connection for the dirty hook.
func (s *Session) Context(ctx context.Context) context.Context {
	return withConn(ctx, s.conn.Conn)
}

// Status returns the tracker status of the session's connection.
func (s *Session) Status() Status { return s.tracker.Status(s.conn.Conn) }

// IsDirty reports whether a write reached the backing store.
func (s *Session) IsDirty() bool { return s.tracker.IsDirty(s.conn.Conn) }

// MarkDirty records a write the hook could not observe.
func (s *Session) MarkDirty() error {
	if s.closed {
		return ErrClosed
	}
	return s.tracker.MarkDirty(s.conn.Conn)
}

// SetReadOnly makes the session refuse writes from now on. It fails if
// writes are queued or already reached the backing store.
func (s *Session) SetReadOnly() error {
	if s.closed {
		return ErrClosed
	}
	if len(s.pending) > 0 {
		return ErrReadOnly
	}
	return s.tracker.SetReadOnly(s.conn.Conn)
}

// Begin opens a transaction, under a fresh xid when two-phase is available.
func (s *Session) Begin(ctx context.Context) (*Tx, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.tx != nil {
		return nil, ErrTxActive
	}
	tx := &Tx{XID: db.NewXID(), TwoPhase: s.caps.TwoPhase}
	if err := s.dialect.Begin(ctx, s.conn, tx.XID, tx.TwoPhase); err != nil {
		return nil, fmt.Errorf("begin: %w", db.MapDBError(err))
	}
	s.tx = tx
	s.logger.Debug("transaction opened", "xid", tx.XID, "two_phase", tx.TwoPhase)
	return tx, nil
}

func (s *Session) checkWritable() error {
	if s.closed {
		return ErrClosed
	}
	if s.Status() == StatusReadOnly {
		return ErrReadOnly
	}
	return nil
}

// Add queues inserts for the given models.
func (s *Session) Add(models ...any) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	for _, m := range models {
		s.pending = append(s.pending, write{kind: writeInsert, model: m})
	}
	return nil
}

// Update queues an update of model by primary key, limited to columns when given.
func (s *Session) Update(model any, columns ...string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.pending = append(s.pending, write{kind: writeUpdate, model: model, columns: columns})
	return nil
}

// Delete queues a delete of model by primary key.
func (s *Session) Delete(model any) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	s.pending = append(s.pending, write{kind: writeDelete, model: model})
	return nil
}

// Pending returns the number of queued writes.
func (s *Session) Pending() int { return len(s.pending) }

// Clear discards queued writes without sending them.
func (s *Session) Clear() { s.pending = nil }

// Flush sends queued writes in order. On failure the failed write and the
// ones after it stay queued.
func (s *Session) Flush(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if len(s.pending) == 0 {
		return nil
	}
	if s.tx == nil {
		return ErrNoTx
	}
	if s.tx.prepared {
		return ErrTxPrepared
	}
	qctx := s.Context(ctx)
	for i, w := range s.pending {
		var err error
		switch w.kind {
		case writeInsert:
			_, err = s.conn.NewInsert().Model(w.model).Exec(qctx)
		case writeUpdate:
			q := s.conn.NewUpdate().Model(w.model).WherePK()
			if len(w.columns) > 0 {
				q = q.Column(w.columns...)
			}
			_, err = q.Exec(qctx)
		case writeDelete:
			_, err = s.conn.NewDelete().Model(w.model).WherePK().Exec(qctx)
		}
		if err != nil {
			s.pending = s.pending[i:]
			return fmt.Errorf("flush %s: %w", w.kind, db.MapDBError(err))
		}
	}
	s.pending = nil
	return nil
}

// Exec flushes and runs a raw statement on the session's connection.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if IsWrite(query) && s.Status() == StatusReadOnly {
		return nil, ErrReadOnly
	}
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	res, err := s.conn.ExecContext(s.Context(ctx), query, args...)
	if err != nil {
		return nil, db.MapDBError(err)
	}
	return res, nil
}

// NewSelect flushes and returns a select query bound to the connection.
// Scan it with Context(ctx).
func (s *Session) NewSelect(ctx context.Context) (*bun.SelectQuery, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	return s.conn.NewSelect(), nil
}

// Get loads model by its primary key.
func (s *Session) Get(ctx context.Context, model any) error {
	q, err := s.NewSelect(ctx)
	if err != nil {
		return err
	}
	return q.Model(model).WherePK().Scan(s.Context(ctx))
}

// BeginNested flushes and opens a savepoint.
func (s *Session) BeginNested(ctx context.Context) (*Nested, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.tx == nil {
		return nil, ErrNoTx
	}
	if !s.caps.Savepoints {
		return nil, ErrNestedUnsupported
	}
	if s.tx.prepared {
		return nil, ErrTxPrepared
	}
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	s.spSeq++
	n := &Nested{session: s, tx: s.tx, name: fmt.Sprintf("tpcbridge_sp_%d", s.spSeq), valid: true}
	if err := s.dialect.Savepoint(ctx, s.conn, n.name); err != nil {
		return nil, db.MapDBError(err)
	}
	s.nested = append(s.nested, n)
	return n, nil
}

func (s *Session) rollbackNested(ctx context.Context, n *Nested) error {
	if !n.valid || s.closed || s.tx == nil || n.tx != s.tx {
		return ErrNestedInvalid
	}
	idx := -1
	for i, cand := range s.nested {
		if cand == n {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNestedInvalid
	}
	if s.tx.prepared {
		return ErrTxPrepared
	}
	if err := s.dialect.RollbackToSavepoint(ctx, s.conn, n.name); err != nil {
		return db.MapDBError(err)
	}
	for _, later := range s.nested[idx:] {
		later.valid = false
	}
	s.nested = s.nested[:idx]
	s.Clear()
	return nil
}

// Prepare flushes and records the vote for a two-phase transaction.
func (s *Session) Prepare(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if s.tx == nil {
		return ErrNoTx
	}
	if !s.tx.TwoPhase {
		return db.ErrTwoPhaseUnsupported
	}
	if s.tx.prepared {
		return ErrTxPrepared
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if err := s.dialect.Prepare(ctx, s.conn, s.tx.XID); err != nil {
		return fmt.Errorf("prepare %s: %w", s.tx.XID, db.MapDBError(err))
	}
	s.tx.prepared = true
	s.invalidateNested()
	s.logger.Debug("transaction prepared", "xid", s.tx.XID)
	return nil
}

// Commit makes the transaction durable: COMMIT PREPARED when it was
// prepared, a plain commit (after flushing) otherwise.
func (s *Session) Commit(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if s.tx == nil {
		return ErrNoTx
	}
	if s.tx.prepared {
		if err := s.dialect.CommitPrepared(ctx, s.conn, s.tx.XID); err != nil {
			return fmt.Errorf("commit prepared %s: %w", s.tx.XID, db.MapDBError(err))
		}
	} else {
		if err := s.Flush(ctx); err != nil {
			return err
		}
		if err := s.dialect.Commit(ctx, s.conn, s.tx.XID, s.tx.TwoPhase); err != nil {
			return fmt.Errorf("commit: %w", db.MapDBError(err))
		}
	}
	s.logger.Debug("transaction committed", "xid", s.tx.XID)
	s.endTx()
	return nil
}

// Rollback undoes the transaction. Without one it does nothing. A failed
// rollback still ends the transaction; the connection is then discarded on
// Close instead of going back to the pool.
func (s *Session) Rollback(ctx context.Context) error {
	if s.closed || s.tx == nil {
		s.pending = nil
		return nil
	}
	var err error
	if s.tx.prepared {
		err = s.dialect.RollbackPrepared(ctx, s.conn, s.tx.XID)
	} else {
		err = s.dialect.Rollback(ctx, s.conn, s.tx.XID, s.tx.TwoPhase)
	}
	s.pending = nil
	xid := s.tx.XID
	s.endTx()
	if err != nil {
		s.tainted = true
		return fmt.Errorf("rollback %s: %w", xid, db.MapDBError(err))
	}
	s.logger.Debug("transaction rolled back", "xid", xid)
	return nil
}

func (s *Session) invalidateNested() {
	for _, n := range s.nested {
		n.valid = false
	}
	s.nested = nil
}

func (s *Session) endTx() {
	s.invalidateNested()
	s.tx = nil
}

// Close releases the connection. An unprepared transaction is rolled back.
// A prepared one is left for recovery and its connection is discarded.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	var errs []error
	if s.tx != nil {
		if s.tx.prepared {
			s.logger.Warn("releasing session with a prepared transaction", "xid", s.tx.XID)
			s.tainted = true
			s.endTx()
		} else if err := s.Rollback(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closed = true
	s.pending = nil
	s.tracker.Forget(s.conn.Conn)
	if s.tainted {
		_ = s.conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.closed }
