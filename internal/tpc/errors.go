// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package tpc

import "errors"

var (
	ErrNotActive             = errors.New("transaction is not active")
	ErrAlreadyJoined         = errors.New("resource already joined")
	ErrSavepointsUnsupported = errors.New("savepoints are not supported")
	ErrSavepointInvalid      = errors.New("savepoint is no longer valid")
)
