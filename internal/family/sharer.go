package family

import (
	"context"

	"github.com/lockstead/lockstead-core/internal/lock"
)

// LockSharer adapts the coordinator to the reconciliation engine's sharing
// collaborator: the engine publishes and retracts replicas through it
// without knowing about households or roles.
type LockSharer struct {
	coord *Coordinator
}

// NewLockSharer creates the engine-facing sharing adapter.
func NewLockSharer(coord *Coordinator) *LockSharer {
	return &LockSharer{coord: coord}
}

// CanShareLocks reports whether sharing is currently possible: identity
// resolved and role permitted.
func (s *LockSharer) CanShareLocks() bool {
	self := s.coord.Self()
	return s.coord.State() == StateReady && self != nil && self.Role.CanCreateLocks()
}

// PublishSharedLock replicates a local lock to the household.
func (s *LockSharer) PublishSharedLock(ctx context.Context, l *lock.LockConfiguration) error {
	shared := &SharedLock{
		ID:          l.ID,
		DeviceID:    l.DeviceID,
		DeviceName:  l.DeviceName,
		RoomName:    l.RoomName,
		LockedState: l.LockedState,
		CreatedAt:   l.CreatedAt,
		ExpiresAt:   l.ExpiresAt,
	}
	return s.coord.CreateSharedLock(ctx, shared)
}

// RetractSharedLock removes the household replica of a local lock.
func (s *LockSharer) RetractSharedLock(ctx context.Context, lockID string) error {
	return s.coord.RemoveSharedLock(ctx, lockID)
}

// LogActivity documents a lock lifecycle event in the family feed.
func (s *LockSharer) LogActivity(ctx context.Context, l *lock.LockConfiguration, action string) {
	s.coord.LogActivity(ctx, &LockActivity{
		LockID:     l.ID,
		DeviceName: l.DeviceName,
		Action:     action,
	})
}
