// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package tpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Savepoint is a transaction-wide savepoint: one resource savepoint for each
// resource joined when it was taken.
type Savepoint struct {
	txn    *Transaction
	mu     sync.Mutex
	points []ResourceSavepoint
	valid  bool
}

// Savepoint takes a savepoint on every joined resource. It fails with
// ErrSavepointsUnsupported, before touching any resource, if one of them
// cannot take savepoints.
func (t *Transaction) Savepoint(ctx context.Context) (*Savepoint, error) {
	t.mu.Lock()
	if t.status != Active {
		t.mu.Unlock()
		return nil, ErrNotActive
	}
	resources := append([]Resource(nil), t.resources...)
	t.mu.Unlock()

	capable := make([]SavepointResource, 0, len(resources))
	for _, r := range resources {
		sr, ok := r.(SavepointResource)
		if !ok || !sr.SupportsSavepoints() {
			return nil, fmt.Errorf("%s: %w", r.SortKey(), ErrSavepointsUnsupported)
		}
		capable = append(capable, sr)
	}

	sp := &Savepoint{txn: t, valid: true}
	for _, r := range capable {
		p, err := r.Savepoint(ctx)
		if err != nil {
			return nil, fmt.Errorf("savepoint %s: %w", r.SortKey(), err)
		}
		sp.points = append(sp.points, p)
	}
	return sp, nil
}

// Rollback rolls every resource back to the savepoint. A savepoint can be
// rolled back once.
func (s *Savepoint) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid || s.txn.Status() != Active {
		return ErrSavepointInvalid
	}
	s.valid = false
	var errs []error
	for _, p := range s.points {
		if err := p.Rollback(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
