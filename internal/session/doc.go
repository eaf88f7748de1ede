// Package session implements the unit of work that tpcbridge joins to a
// coordinator transaction.
//
// A Session owns one pooled connection for its whole life. Writes queued with
// Add, Update and Delete are held in memory until Flush (or any query that
// autoflushes) sends them to the backing store. Transaction control (begin,
// prepare, commit, savepoints) is issued on the same connection through the
// backend's db.Dialect.
//
// Write tracking
//
// The DirtyTracker keeps one Status per live connection. The Factory installs
// a DirtyHook on the bun.DB; after every successful INSERT/UPDATE/DELETE (or
// DDL) run with a context obtained from Session.Context, the hook marks the
// connection dirty. Session.MarkDirty covers writes the hook cannot see.
package session
