package family

import "errors"

var (
	// ErrPermissionDenied indicates the caller's role does not allow the
	// operation.
	ErrPermissionDenied = errors.New("family: permission denied")

	// ErrNotReady indicates the coordinator has no resolved identity yet.
	ErrNotReady = errors.New("family: coordinator not ready")

	// ErrRemoteUnavailable indicates the remote store cannot be reached.
	ErrRemoteUnavailable = errors.New("family: remote store unavailable")

	// ErrMemberNotFound indicates no member exists with the given ID.
	ErrMemberNotFound = errors.New("family: member not found")

	// ErrSelfRemoval indicates an admin tried to remove their own
	// membership.
	ErrSelfRemoval = errors.New("family: cannot remove own membership")

	// ErrSharedLockNotFound indicates no shared lock exists with the
	// given ID.
	ErrSharedLockNotFound = errors.New("family: shared lock not found")

	// ErrInvalidRole indicates an unknown role value.
	ErrInvalidRole = errors.New("family: invalid role")
)
