// Package remote implements the synchronization store client: JSON record
// CRUD over HTTP, predicate queries with sort, and a websocket push
// subscription that signals "changed, re-sync" without delivering payloads.
//
// The store is a last-write-wins record cache, never the enforcement
// authority. Callers treat every failure as a skipped sync cycle.
package remote
