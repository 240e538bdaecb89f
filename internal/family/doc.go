// Package family implements multi-party lock sharing for a household.
//
// The Coordinator owns every household-facing cache: the member list,
// shared lock replicas, and the activity feed. It resolves the local
// identity against the remote store (the first member of a household
// becomes admin), enforces role capabilities on writes, and re-pulls
// everything on a fixed interval plus push invalidation.
//
// Local enforcement never depends on this package: the remote store is a
// cache with authoritative-on-read semantics, sharing failures degrade to
// local-only silently, and permission checks are advisory at write time.
package family
