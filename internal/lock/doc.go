// Package lock implements the reconciliation engine that pins smart-home
// devices to a chosen power state.
//
// A LockConfiguration records one pinned device. The engine is the only
// writer of the lock set and of its SQLite persistence: every mutation is
// written through before it takes effect, so committed locks survive a
// crash. Enforcement runs as a polling loop that starts with the first lock
// and stops with the last, reading each locked device every tick and
// writing the locked state back on drift. The platform-side reversion rule
// narrows the window during which an unwanted state is visible but is never
// relied on.
//
// Timed locks expire through one-shot timers armed at the absolute
// expiration time. Restarts rebuild the timers from the persisted
// timestamps, and reads check expiry lazily so a lock is never observed
// alive past its deadline.
package lock
