// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

// Package bridge joins a session.Session to a tpc.Transaction.
//
// The Participant is the resource manager: it owns the session's backing
// transaction and answers the coordinator's two-phase calls. On a backing
// store that can prepare, TPCVote prepares and TPCFinish commits the prepared
// transaction. On one that cannot, TPCVote commits for real; the participant's
// SortKey places it after every other resource so it votes last. Read-only
// units of work on a one-phase store are rolled back in Commit and never
// reach the vote.
//
// Awareness decides when a participant is needed: at most one per
// Transaction, found through the transaction in the caller's context.
// Database wires an Engine, a session.Factory and an Awareness together.
package bridge
