// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package tpc

import "context"

// Resource is a data manager that takes part in transaction completion.
type Resource interface {
	// SortKey orders resources during commit. Keys must be unique per
	// transaction.
	SortKey() string

	// Abort drops all changes. It is called outside the two-phase protocol
	// when the owner aborts.
	Abort(ctx context.Context, txn *Transaction) error

	// TPCBegin starts the two-phase commit.
	TPCBegin(ctx context.Context, txn *Transaction) error
	// Commit saves changes so that TPCFinish can make them durable.
	Commit(ctx context.Context, txn *Transaction) error
	// TPCVote is the last chance to refuse; an error is a 'no' vote.
	TPCVote(ctx context.Context, txn *Transaction) error
	// TPCFinish makes the changes durable. It should not fail; an error
	// here leaves the resource in doubt.
	TPCFinish(ctx context.Context, txn *Transaction) error
	// TPCAbort abandons a two-phase commit in progress. It may be called at
	// any point of the protocol.
	TPCAbort(ctx context.Context, txn *Transaction) error
}

// ResourceSavepoint can undo a resource's changes back to a point.
type ResourceSavepoint interface {
	Rollback(ctx context.Context) error
}

// SavepointResource is a Resource that may support savepoints.
type SavepointResource interface {
	Resource
	// SupportsSavepoints reports whether Savepoint can succeed right now.
	SupportsSavepoints() bool
	Savepoint(ctx context.Context) (ResourceSavepoint, error)
}

// Synchronizer is notified around transaction completion.
type Synchronizer interface {
	// BeforeCompletion runs before commit or abort. An error during
	// commit fails the commit.
	BeforeCompletion(ctx context.Context, txn *Transaction) error
	// AfterCompletion runs after the transaction completed either way.
	AfterCompletion(ctx context.Context, txn *Transaction)
}
