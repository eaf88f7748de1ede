// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/toeirei/tpcbridge/internal/session"
	"github.com/toeirei/tpcbridge/internal/tpc"
)

// SessionFactory produces sessions for new participants.
type SessionFactory interface {
	NewSession(ctx context.Context) (*session.Session, error)
}

// Awareness tracks, per transaction, whether a participant is active. The
// marker lives in the transaction's data under the Awareness itself, so two
// Awareness values never see each other's participants.
type Awareness struct {
	mu      sync.RWMutex
	factory SessionFactory
	opts    options
}

// NewAwareness returns an Awareness creating sessions with factory.
func NewAwareness(factory SessionFactory, opts ...Option) *Awareness {
	return &Awareness{factory: factory, opts: buildOptions(opts)}
}

func (a *Awareness) sessionFactory() SessionFactory {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.factory
}

// setFactory swaps the factory used by later Begin calls. Participants
// already joined keep their sessions.
func (a *Awareness) setFactory(f SessionFactory) {
	a.mu.Lock()
	a.factory = f
	a.mu.Unlock()
}

// BeginOption tunes a single Begin.
type BeginOption func(*beginOptions)

type beginOptions struct {
	status session.Status
}

// WithInitialStatus starts the unit of work dirty (always committed) or
// read-only (writes refused). StatusActive is the default.
func WithInitialStatus(s session.Status) BeginOption {
	return func(o *beginOptions) { o.status = s }
}

// Active reports whether the transaction in ctx has an active participant.
func (a *Awareness) Active(ctx context.Context) bool {
	return a.Participant(ctx) != nil
}

// Participant returns the active participant for the transaction in ctx.
func (a *Awareness) Participant(ctx context.Context) *Participant {
	txn := tpc.Current(ctx)
	if txn == nil {
		return nil
	}
	v, ok := txn.Data(a)
	if !ok {
		return nil
	}
	p, _ := v.(*Participant)
	return p
}

// Begin creates a session and a participant and joins it to the transaction
// in ctx. It is a programming error to call it while a participant is
// active for that transaction.
func (a *Awareness) Begin(ctx context.Context, opts ...BeginOption) (*Participant, error) {
	txn := tpc.Current(ctx)
	if txn == nil {
		return nil, ErrNoTransaction
	}
	if a.Active(ctx) {
		return nil, ErrAlreadyActive
	}
	bo := beginOptions{status: session.StatusActive}
	for _, opt := range opts {
		opt(&bo)
	}

	sess, err := a.sessionFactory().NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	p, err := NewParticipant(ctx, sess, a.opts.shared())
	if err != nil {
		return nil, errors.Join(err, sess.Close(ctx))
	}
	p.awareness = a
	p.txn = txn

	switch bo.status {
	case session.StatusDirty:
		err = sess.MarkDirty()
	case session.StatusReadOnly:
		err = sess.SetReadOnly()
	}
	if err == nil {
		err = txn.Join(p)
	}
	if err != nil {
		return nil, errors.Join(fmt.Errorf("join transaction: %w", err), p.Abort(ctx, txn))
	}
	txn.SetData(a, p)
	a.opts.logger.Debug("participant joined", "txn", txn.ID(), "participant", p.ID())
	return p, nil
}

// deactivate clears the marker, but only if p is still the one recorded.
func (a *Awareness) deactivate(txn *tpc.Transaction, p *Participant) {
	if txn == nil {
		return
	}
	if v, ok := txn.Data(a); ok && v == p {
		txn.DeleteData(a)
	}
}
