// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/toeirei/tpcbridge/internal/session"
)

// SavepointBridge creates savepoints inside a participant's session.
type SavepointBridge struct {
	p *Participant
}

// Savepoint is a nested transaction boundary.
type Savepoint struct {
	p      *Participant
	nested *session.Nested
}

// Create flushes pending writes and opens a savepoint after them.
func (b *SavepointBridge) Create(ctx context.Context) (*Savepoint, error) {
	p := b.p
	if p.sess == nil || (p.state != StateInit && p.state != StateVoted) {
		return nil, fmt.Errorf("%w: participant is %s", ErrInvalidSavepoint, p.state)
	}
	n, err := p.sess.BeginNested(ctx)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrTxPrepared):
		return nil, fmt.Errorf("%w: %w", ErrInvalidSavepoint, err)
	case errors.Is(err, session.ErrNestedUnsupported):
		return nil, ErrSavepointsUnsupported
	default:
		return nil, &BackingStoreError{Op: "savepoint", Err: err}
	}
	return &Savepoint{p: p, nested: n}, nil
}

// Valid reports whether Rollback can still succeed.
func (s *Savepoint) Valid() bool { return s.p.sess != nil && s.nested.Valid() }

// Rollback returns the session to the savepoint and discards pending writes.
func (s *Savepoint) Rollback(ctx context.Context) error {
	if !s.Valid() {
		return ErrInvalidSavepoint
	}
	if err := s.nested.Rollback(ctx); err != nil {
		if errors.Is(err, session.ErrNestedInvalid) || errors.Is(err, session.ErrTxPrepared) {
			return fmt.Errorf("%w: %w", ErrInvalidSavepoint, err)
		}
		return &BackingStoreError{Op: "rollback to savepoint", Err: err}
	}
	return nil
}
