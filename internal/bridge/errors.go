// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import (
	"errors"
	"fmt"

	"github.com/toeirei/tpcbridge/internal/tpc"
)

var (
	// ErrProgramming marks misuse of the protocol. It is never retried.
	ErrProgramming = errors.New("programming error")

	ErrAlreadyActive     = fmt.Errorf("%w: a participant is already active for this transaction", ErrProgramming)
	ErrNoTransaction     = fmt.Errorf("%w: no transaction in context", ErrProgramming)
	ErrParticipantClosed = fmt.Errorf("%w: participant already completed", ErrProgramming)
	ErrProtocolOrder     = fmt.Errorf("%w: two-phase call out of order", ErrProgramming)
	ErrSessionInUse      = fmt.Errorf("%w: session already has an open transaction", ErrProgramming)

	ErrInvalidSavepoint      = errors.New("invalid savepoint")
	ErrSavepointsUnsupported = tpc.ErrSavepointsUnsupported

	// ErrInDoubt is wrapped by InDoubtError.
	ErrInDoubt = errors.New("transaction in doubt")
)

// BackingStoreError is a failure reported by the database during flush,
// prepare or commit. During the vote it makes the coordinator abort.
type BackingStoreError struct {
	Op  string
	Err error
}

func (e *BackingStoreError) Error() string {
	return fmt.Sprintf("backing store %s: %v", e.Op, e.Err)
}

func (e *BackingStoreError) Unwrap() error { return e.Err }

// InDoubtError reports a prepared transaction whose final commit failed.
// It is left prepared on the server under XID until an operator resolves it.
type InDoubtError struct {
	XID string
	Err error
}

func (e *InDoubtError) Error() string {
	return fmt.Sprintf("transaction %s in doubt: %v", e.XID, e.Err)
}

func (e *InDoubtError) Unwrap() []error { return []error{ErrInDoubt, e.Err} }
