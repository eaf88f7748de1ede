// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import "errors"

var (
	ErrClosed            = errors.New("session is closed")
	ErrTxActive          = errors.New("session already has an open transaction")
	ErrNoTx              = errors.New("session has no open transaction")
	ErrTxPrepared        = errors.New("transaction is already prepared")
	ErrNestedInvalid     = errors.New("nested transaction is no longer valid")
	ErrNestedUnsupported = errors.New("backing store does not support nested transactions")
)
