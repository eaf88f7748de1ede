// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

// Package tpc is an in-process two-phase commit coordinator.
//
// A Transaction is started with Manager.Begin, which also returns a context
// carrying it; code further down the call chain finds it with Current.
// Resources that hold changes Join the transaction and are driven through
// the protocol when the owner calls Commit or Abort:
//
//	TPCBegin -> Commit -> TPCVote -> TPCFinish     (success)
//	TPCBegin -> Commit -> TPCVote -x-> TPCAbort    (any vote fails)
//	Abort                                          (owner gives up)
//
// Resources are driven in SortKey order. Synchronizers registered with
// RegisterSync are told before and after completion.
//
// A Transaction is owned by the goroutine that began it. Its methods are
// guarded by a mutex, but the protocol itself is not meant to be driven from
// several goroutines at once.
package tpc
