// Package db opens the backing store used by tpcbridge sessions and knows how
// each supported backend spells transaction control.
//
// Engine
//   - `NewEngine` opens a pooled `*bun.DB` for "sqlite", "postgres" or
//     "mysql", applies pool limits (overridable through TPCBRIDGE_DB_*
//     environment variables), optionally runs the embedded migrations and
//     resolves the backend's Capabilities.
//
// Dialects
//   - A `Dialect` issues the raw statements for BEGIN/COMMIT/ROLLBACK,
//     savepoints and, where the backend supports it, two-phase commit:
//     PostgreSQL `PREPARE TRANSACTION` and MySQL `XA`. SQLite is one-phase
//     only.
//   - Statements are executed on a dedicated connection owned by a session;
//     see package session.
//
// Recovery
//   - `Recover` lists transactions that were prepared by tpcbridge but never
//     finished. `Resolve` commits or rolls one back. Neither is ever invoked
//     automatically; they back the `prepared` and `resolve` CLI commands.
//
// Testing notes
//   - Prefer a file database under `t.TempDir()` when a test needs more than
//     one connection; in-memory SQLite is forced to a single connection.
package db
