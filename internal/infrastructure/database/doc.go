// Package database provides SQLite connectivity for Lockstead Core.
//
// The local database is the durable record of every lock this instance is
// enforcing: a crash loses at most the in-flight operation, never a committed
// lock. Writes are synchronous (write-through from the lock engine) and the
// single-connection pool matches SQLite's one-writer model.
//
// Schema changes ship as embedded SQL migrations applied on startup; see the
// migrations package at the repository root.
package database
