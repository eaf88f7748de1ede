// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package tpc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Status describes where a transaction is in its life.
type Status int

const (
	Active       Status = iota // in progress, resources may join
	Committing                 // commit started
	Committed                  // commit finished successfully
	CommitFailed               // commit returned an error
	Aborted                    // aborted by the owner
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case CommitFailed:
		return "commit_failed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Transaction is a unit of work spanning any number of resources.
type Transaction struct {
	id  string
	mgr *Manager

	mu        sync.Mutex
	status    Status
	resources []Resource
	syncs     []Synchronizer
	data      map[any]any
}

// ID returns the transaction's unique id.
func (t *Transaction) ID() string { return t.id }

// Status returns the current status.
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transaction) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// Join adds r to the resources driven at completion. It fails once
// completion has started or if r already joined.
func (t *Transaction) Join(r Resource) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != Active {
		return ErrNotActive
	}
	for _, have := range t.resources {
		if have == r {
			return ErrAlreadyJoined
		}
	}
	t.resources = append(t.resources, r)
	t.mgr.logger.Debug("resource joined", "txn", t.id, "resource", r.SortKey())
	return nil
}

// Resources returns the joined resources in join order.
func (t *Transaction) Resources() []Resource {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Resource(nil), t.resources...)
}

// RegisterSync adds a synchronizer.
func (t *Transaction) RegisterSync(s Synchronizer) {
	t.mu.Lock()
	t.syncs = append(t.syncs, s)
	t.mu.Unlock()
}

// SetData stores per-transaction state for key. Keys should be values
// owned by the caller (typically a pointer) so they cannot collide.
func (t *Transaction) SetData(key, value any) {
	t.mu.Lock()
	t.data[key] = value
	t.mu.Unlock()
}

// Data returns the value stored for key.
func (t *Transaction) Data(key any) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.data[key]
	return v, ok
}

// DeleteData removes the value stored for key.
func (t *Transaction) DeleteData(key any) {
	t.mu.Lock()
	delete(t.data, key)
	t.mu.Unlock()
}

// begin moves an active transaction to next and snapshots its participants.
func (t *Transaction) begin(next Status) ([]Resource, []Synchronizer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != Active {
		return nil, nil, ErrNotActive
	}
	t.status = next
	return append([]Resource(nil), t.resources...), append([]Synchronizer(nil), t.syncs...), nil
}

// Commit runs the two-phase commit over every joined resource.
//
// If any resource fails TPCBegin, Commit or TPCVote, every resource gets
// TPCAbort and the first error is returned. Once all votes are in, TPCFinish
// is called on every resource even if one fails; the first failure is
// returned.
func (t *Transaction) Commit(ctx context.Context) (err error) {
	resources, syncs, err := t.begin(Committing)
	if err != nil {
		return err
	}
	ctx, span := t.mgr.tracer.Start(ctx, "tpc.commit", trace.WithAttributes(
		attribute.String("tpc.txn", t.id),
		attribute.Int("tpc.resources", len(resources)),
	))
	started := time.Now()
	defer func() {
		status := Committed
		if err != nil {
			status = CommitFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			t.mgr.logger.Warn("commit failed", "txn", t.id, "err", err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		t.setStatus(status)
		t.afterCompletion(ctx, syncs)
		t.mgr.metrics.record(ctx, status, started, true)
		span.End()
	}()

	for _, s := range syncs {
		if err := s.BeforeCompletion(ctx, t); err != nil {
			t.abortAll(ctx, resources)
			return fmt.Errorf("before completion: %w", err)
		}
	}

	sort.SliceStable(resources, func(i, j int) bool {
		return resources[i].SortKey() < resources[j].SortKey()
	})

	if err := t.vote(ctx, span, resources); err != nil {
		t.tpcAbortAll(ctx, resources)
		return err
	}

	span.AddEvent("tpc_finish")
	var first error
	for _, r := range resources {
		if ferr := r.TPCFinish(ctx, t); ferr != nil {
			t.mgr.logger.Error("tpc_finish failed", "txn", t.id, "resource", r.SortKey(), "err", ferr)
			if first == nil {
				first = ferr
			}
		}
	}
	return first
}

func (t *Transaction) vote(ctx context.Context, span trace.Span, resources []Resource) error {
	phases := []struct {
		name string
		call func(Resource) error
	}{
		{"tpc_begin", func(r Resource) error { return r.TPCBegin(ctx, t) }},
		{"commit", func(r Resource) error { return r.Commit(ctx, t) }},
		{"tpc_vote", func(r Resource) error { return r.TPCVote(ctx, t) }},
	}
	for _, phase := range phases {
		span.AddEvent(phase.name)
		for _, r := range resources {
			if err := phase.call(r); err != nil {
				return fmt.Errorf("%s %s: %w", phase.name, r.SortKey(), err)
			}
		}
	}
	return nil
}

func (t *Transaction) tpcAbortAll(ctx context.Context, resources []Resource) {
	for _, r := range resources {
		if err := r.TPCAbort(ctx, t); err != nil {
			t.mgr.logger.Warn("tpc_abort failed", "txn", t.id, "resource", r.SortKey(), "err", err)
		}
	}
}

func (t *Transaction) abortAll(ctx context.Context, resources []Resource) error {
	var errs []error
	for _, r := range resources {
		if err := r.Abort(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("abort %s: %w", r.SortKey(), err))
		}
	}
	return errors.Join(errs...)
}

// Abort drops the changes of every joined resource. Aborting an aborted
// transaction does nothing; a transaction whose commit failed may still be
// aborted to release what the failure left behind.
func (t *Transaction) Abort(ctx context.Context) error {
	t.mu.Lock()
	switch t.status {
	case Aborted:
		t.mu.Unlock()
		return nil
	case Active, CommitFailed:
	default:
		t.mu.Unlock()
		return ErrNotActive
	}
	t.status = Aborted
	resources := append([]Resource(nil), t.resources...)
	syncs := append([]Synchronizer(nil), t.syncs...)
	t.mu.Unlock()

	ctx, span := t.mgr.tracer.Start(ctx, "tpc.abort", trace.WithAttributes(attribute.String("tpc.txn", t.id)))
	defer span.End()

	var errs []error
	for _, s := range syncs {
		if err := s.BeforeCompletion(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("before completion: %w", err))
		}
	}
	if err := t.abortAll(ctx, resources); err != nil {
		errs = append(errs, err)
	}
	t.afterCompletion(ctx, syncs)
	t.mgr.metrics.record(ctx, Aborted, time.Time{}, false)

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.mgr.logger.Warn("abort reported errors", "txn", t.id, "err", err)
	}
	return err
}

func (t *Transaction) afterCompletion(ctx context.Context, syncs []Synchronizer) {
	for _, s := range syncs {
		s.AfterCompletion(ctx, t)
	}
}
