package family

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the coordinator's position in the setup state machine.
type State string

// Coordinator states.
const (
	// StateUnavailable means the remote store is not reachable.
	StateUnavailable State = "unavailable"

	// StateNoIdentity means the store answered but the local member
	// identity has not been resolved yet.
	StateNoIdentity State = "no_identity"

	// StateReady means identity is resolved and the caches are live.
	StateReady State = "ready"
)

// Logger defines the logging interface used by the Coordinator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RemoteStore is the remote synchronization surface the coordinator
// consumes. The remote package implements it over HTTP; tests implement
// it in memory.
type RemoteStore interface {
	Ping(ctx context.Context) error

	UpsertHome(ctx context.Context, home *FamilyHome) error
	GetHome(ctx context.Context, householdID string) (*FamilyHome, error)

	UpsertMember(ctx context.Context, member *FamilyMember) error
	DeleteMember(ctx context.Context, memberID string) error
	ListMembers(ctx context.Context, householdID string) ([]FamilyMember, error)

	UpsertSharedLock(ctx context.Context, lock *SharedLock) error
	DeleteSharedLock(ctx context.Context, lockID string) error
	ListSharedLocks(ctx context.Context, householdID string) ([]SharedLock, error)

	AppendActivity(ctx context.Context, activity *LockActivity) error
	ListActivities(ctx context.Context, householdID string, limit int) ([]LockActivity, error)
}

// Recorder receives sync diagnostics for time-series storage.
type Recorder interface {
	WriteSyncCycle(status string, locks, members int, duration time.Duration)
}

// noopRecorder discards diagnostics.
type noopRecorder struct{}

func (noopRecorder) WriteSyncCycle(string, int, int, time.Duration) {}

// Config carries the coordinator's household identity and sync cadence.
type Config struct {
	HouseholdID   string
	HouseholdName string
	MemberName    string
	AccountID     string
	SyncInterval  time.Duration
}

// Coordinator owns the household caches: members, shared locks, and the
// activity feed. It is the only writer to the remote store client.
//
// The remote store is a cache with authoritative-on-read semantics.
// Permission checks run against the locally cached role, so they are
// advisory at write time; a concurrently demoted member discovers the
// downgrade on the next SyncAll. Writes are last-write-wins per record.
//
// Thread Safety: all methods are safe for concurrent use.
type Coordinator struct {
	store    RemoteStore
	activity ActivityRepository
	cfg      Config
	logger   Logger
	recorder Recorder

	mu          sync.RWMutex
	state       State
	self        *FamilyMember
	members     []FamilyMember
	sharedLocks []SharedLock
	activities  []LockActivity

	resync chan struct{}
}

// NewCoordinator creates a sync coordinator. A nil store leaves the
// coordinator permanently Unavailable, which is the disabled-sharing mode.
func NewCoordinator(store RemoteStore, activity ActivityRepository, cfg Config) *Coordinator {
	return &Coordinator{
		store:    store,
		activity: activity,
		cfg:      cfg,
		logger:   noopLogger{},
		recorder: noopRecorder{},
		state:    StateUnavailable,
		resync:   make(chan struct{}, 1),
	}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.logger = logger
}

// SetRecorder sets the diagnostics recorder for the coordinator.
func (c *Coordinator) SetRecorder(recorder Recorder) {
	c.recorder = recorder
}

// State returns the coordinator's current setup state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Self returns a copy of the resolved local member, or nil before Ready.
func (c *Coordinator) Self() *FamilyMember {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.self == nil {
		return nil
	}
	self := *c.self
	return &self
}

// Setup drives Unavailable through NoIdentity to Ready: probe the store,
// ensure the household record, then resolve or create the local member.
// The first member of a household becomes admin; later members join as
// member.
func (c *Coordinator) Setup(ctx context.Context) error {
	if c.store == nil {
		return ErrRemoteUnavailable
	}

	if err := c.store.Ping(ctx); err != nil {
		c.setState(StateUnavailable)
		return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	c.setState(StateNoIdentity)

	if _, err := c.store.GetHome(ctx, c.cfg.HouseholdID); err != nil {
		home := &FamilyHome{
			ID:        c.cfg.HouseholdID,
			Name:      c.cfg.HouseholdName,
			CreatedAt: time.Now().UTC(),
		}
		if err := c.store.UpsertHome(ctx, home); err != nil {
			return fmt.Errorf("creating household record: %w", err)
		}
	}

	members, err := c.store.ListMembers(ctx, c.cfg.HouseholdID)
	if err != nil {
		return fmt.Errorf("listing members: %w", err)
	}

	now := time.Now().UTC()
	var self *FamilyMember
	for i := range members {
		if members[i].AccountID == c.cfg.AccountID {
			self = &members[i]
			break
		}
	}
	if self == nil {
		role := RoleMember
		if len(members) == 0 {
			role = RoleAdmin
		}
		self = &FamilyMember{
			ID:          GenerateID("member"),
			Name:        c.cfg.MemberName,
			Role:        role,
			HouseholdID: c.cfg.HouseholdID,
			AccountID:   c.cfg.AccountID,
			JoinedAt:    now,
		}
		c.logger.Info("joined household",
			"member_id", self.ID, "role", role, "first_member", role == RoleAdmin)
	}
	self.LastSeenAt = &now
	if err := c.store.UpsertMember(ctx, self); err != nil {
		return fmt.Errorf("registering member: %w", err)
	}

	c.mu.Lock()
	c.self = self
	c.state = StateReady
	c.mu.Unlock()

	return c.SyncAll(ctx)
}

// Run executes SyncAll on the configured interval and on push
// invalidation, retrying Setup while the store is unreachable. It blocks
// until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.resync:
		}

		var err error
		if c.State() != StateReady {
			err = c.Setup(ctx)
		} else {
			err = c.SyncAll(ctx)
		}
		if err != nil {
			c.logger.Debug("sync cycle skipped", "error", err)
		}
	}
}

// NotifyChange signals that a remote record changed and a re-sync is due.
// It never blocks; coalescing multiple signals into one sync is fine
// because SyncAll always re-reads everything.
func (c *Coordinator) NotifyChange() {
	select {
	case c.resync <- struct{}{}:
	default:
	}
}

// SyncAll pulls the full member list, the non-expired shared locks, and
// the newest activity entries. Expired shared locks found during the pull
// are deleted from the remote store opportunistically.
func (c *Coordinator) SyncAll(ctx context.Context) error {
	if c.State() != StateReady {
		return ErrNotReady
	}
	start := time.Now()

	members, err := c.store.ListMembers(ctx, c.cfg.HouseholdID)
	if err != nil {
		c.recorder.WriteSyncCycle("failed", 0, 0, time.Since(start))
		return fmt.Errorf("syncing members: %w", err)
	}

	locks, err := c.store.ListSharedLocks(ctx, c.cfg.HouseholdID)
	if err != nil {
		c.recorder.WriteSyncCycle("failed", 0, len(members), time.Since(start))
		return fmt.Errorf("syncing shared locks: %w", err)
	}
	live := locks[:0]
	for i := range locks {
		if locks[i].IsExpired() {
			if delErr := c.store.DeleteSharedLock(ctx, locks[i].ID); delErr != nil {
				c.logger.Debug("expired shared lock cleanup failed",
					"lock_id", locks[i].ID, "error", delErr)
			}
			continue
		}
		live = append(live, locks[i])
	}

	activities, err := c.store.ListActivities(ctx, c.cfg.HouseholdID, activityCacheLimit)
	if err != nil {
		c.logger.Debug("activity sync failed", "error", err)
		activities = nil
	}
	if c.activity != nil {
		for i := range activities {
			if appendErr := c.activity.Append(ctx, &activities[i]); appendErr != nil {
				c.logger.Warn("caching activity failed", "error", appendErr)
				break
			}
		}
	}

	c.mu.Lock()
	c.members = members
	c.sharedLocks = append([]SharedLock(nil), live...)
	if activities != nil {
		c.activities = activities
	}
	// The member list is authoritative: pick up role changes, including
	// our own demotion or removal.
	if c.self != nil {
		found := false
		for i := range members {
			if members[i].ID == c.self.ID {
				self := members[i]
				c.self = &self
				found = true
				break
			}
		}
		if !found {
			c.self = nil
			c.state = StateNoIdentity
		}
	}
	memberCount := len(members)
	lockCount := len(c.sharedLocks)
	c.mu.Unlock()

	c.recorder.WriteSyncCycle("ok", lockCount, memberCount, time.Since(start))
	c.logger.Debug("sync complete",
		"members", memberCount, "shared_locks", lockCount, "activities", len(activities))
	return nil
}

// Members returns a copy of the cached member list.
func (c *Coordinator) Members() []FamilyMember {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]FamilyMember(nil), c.members...)
}

// SharedLocks returns a copy of the cached non-expired shared locks.
func (c *Coordinator) SharedLocks() []SharedLock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	locks := make([]SharedLock, 0, len(c.sharedLocks))
	for i := range c.sharedLocks {
		if !c.sharedLocks[i].IsExpired() {
			locks = append(locks, c.sharedLocks[i])
		}
	}
	return locks
}

// Activities returns a copy of the cached activity feed, newest first.
func (c *Coordinator) Activities() []LockActivity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]LockActivity(nil), c.activities...)
}

// CreateSharedLock publishes a lock replica to the household.
//
// Returns ErrNotReady before identity resolution and ErrPermissionDenied
// for roles without the create capability.
func (c *Coordinator) CreateSharedLock(ctx context.Context, lock *SharedLock) error {
	self, err := c.requireReady()
	if err != nil {
		return err
	}
	if !self.Role.CanCreateLocks() {
		return fmt.Errorf("%w: role %s cannot create locks", ErrPermissionDenied, self.Role)
	}

	if lock.ID == "" {
		lock.ID = GenerateID("shared")
	}
	lock.CreatedByID = self.ID
	lock.CreatedByName = self.Name
	lock.HouseholdID = c.cfg.HouseholdID
	if lock.CreatedAt.IsZero() {
		lock.CreatedAt = time.Now().UTC()
	}

	if err := c.store.UpsertSharedLock(ctx, lock); err != nil {
		return fmt.Errorf("publishing shared lock: %w", err)
	}

	c.mu.Lock()
	replaced := false
	for i := range c.sharedLocks {
		if c.sharedLocks[i].ID == lock.ID {
			c.sharedLocks[i] = *lock
			replaced = true
			break
		}
	}
	if !replaced {
		c.sharedLocks = append(c.sharedLocks, *lock)
	}
	c.mu.Unlock()
	return nil
}

// RemoveSharedLock retracts a shared lock. Creators may always remove
// their own locks; removing another member's lock needs the delete
// capability. The creator is resolved from the cache when possible and
// from the store otherwise, so a lock published after the caller's last
// sync is still permission-checked.
func (c *Coordinator) RemoveSharedLock(ctx context.Context, lockID string) error {
	self, err := c.requireReady()
	if err != nil {
		return err
	}

	target, err := c.findSharedLock(ctx, lockID)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("%w: %s", ErrSharedLockNotFound, lockID)
	}

	if target.CreatedByID != self.ID && !self.Role.CanDeleteOthersLocks() {
		return fmt.Errorf("%w: role %s cannot delete locks created by %s",
			ErrPermissionDenied, self.Role, target.CreatedByName)
	}

	if err := c.store.DeleteSharedLock(ctx, lockID); err != nil {
		return fmt.Errorf("retracting shared lock: %w", err)
	}

	c.mu.Lock()
	kept := c.sharedLocks[:0]
	for i := range c.sharedLocks {
		if c.sharedLocks[i].ID != lockID {
			kept = append(kept, c.sharedLocks[i])
		}
	}
	c.sharedLocks = kept
	c.mu.Unlock()
	return nil
}

// findSharedLock resolves a shared lock from the cache, falling back to a
// store read on a miss. Returns nil without error when the lock exists
// nowhere.
func (c *Coordinator) findSharedLock(ctx context.Context, lockID string) (*SharedLock, error) {
	c.mu.RLock()
	for i := range c.sharedLocks {
		if c.sharedLocks[i].ID == lockID {
			l := c.sharedLocks[i]
			c.mu.RUnlock()
			return &l, nil
		}
	}
	c.mu.RUnlock()

	locks, err := c.store.ListSharedLocks(ctx, c.cfg.HouseholdID)
	if err != nil {
		return nil, fmt.Errorf("resolving shared lock: %w", err)
	}
	for i := range locks {
		if locks[i].ID == lockID {
			return &locks[i], nil
		}
	}
	return nil, nil
}

// UpdateMemberRole changes a member's role. Admin only.
func (c *Coordinator) UpdateMemberRole(ctx context.Context, memberID string, role Role) error {
	self, err := c.requireReady()
	if err != nil {
		return err
	}
	if !self.Role.CanManageMembers() {
		return fmt.Errorf("%w: role %s cannot manage members", ErrPermissionDenied, self.Role)
	}
	if !role.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	c.mu.RLock()
	var target *FamilyMember
	for i := range c.members {
		if c.members[i].ID == memberID {
			m := c.members[i]
			target = &m
			break
		}
	}
	c.mu.RUnlock()
	if target == nil {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, memberID)
	}

	target.Role = role
	if err := c.store.UpsertMember(ctx, target); err != nil {
		return fmt.Errorf("updating member role: %w", err)
	}

	c.mu.Lock()
	for i := range c.members {
		if c.members[i].ID == memberID {
			c.members[i].Role = role
		}
	}
	if c.self != nil && c.self.ID == memberID {
		c.self.Role = role
	}
	c.mu.Unlock()

	c.logger.Info("member role updated", "member_id", memberID, "role", role)
	return nil
}

// RemoveMember removes a member from the household. Admin only; removing
// oneself is rejected.
func (c *Coordinator) RemoveMember(ctx context.Context, memberID string) error {
	self, err := c.requireReady()
	if err != nil {
		return err
	}
	if !self.Role.CanManageMembers() {
		return fmt.Errorf("%w: role %s cannot manage members", ErrPermissionDenied, self.Role)
	}
	if memberID == self.ID {
		return ErrSelfRemoval
	}

	if err := c.store.DeleteMember(ctx, memberID); err != nil {
		return fmt.Errorf("removing member: %w", err)
	}

	c.mu.Lock()
	kept := c.members[:0]
	for i := range c.members {
		if c.members[i].ID != memberID {
			kept = append(kept, c.members[i])
		}
	}
	c.members = kept
	c.mu.Unlock()

	c.logger.Info("member removed", "member_id", memberID)
	return nil
}

// LogActivity documents a lock lifecycle event. It is append-only and
// best-effort: failures are logged and never surfaced, so the operation
// being documented is never blocked.
func (c *Coordinator) LogActivity(ctx context.Context, activity *LockActivity) {
	if activity.ID == "" {
		activity.ID = GenerateID("activity")
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	activity.HouseholdID = c.cfg.HouseholdID
	if self := c.Self(); self != nil && activity.ActorID == "" {
		activity.ActorID = self.ID
		activity.ActorName = self.Name
	}

	if c.activity != nil {
		if err := c.activity.Append(ctx, activity); err != nil {
			c.logger.Warn("local activity append failed", "error", err)
		}
	}

	c.mu.Lock()
	c.activities = append([]LockActivity{*activity}, c.activities...)
	if len(c.activities) > activityCacheLimit {
		c.activities = c.activities[:activityCacheLimit]
	}
	c.mu.Unlock()

	if c.State() != StateReady {
		return
	}
	if err := c.store.AppendActivity(ctx, activity); err != nil {
		c.logger.Debug("remote activity append failed", "error", err)
	}
}

// requireReady returns the resolved identity or the setup error.
func (c *Coordinator) requireReady() (*FamilyMember, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.state {
	case StateReady:
		if c.self != nil {
			self := *c.self
			return &self, nil
		}
		return nil, ErrNotReady
	case StateUnavailable:
		return nil, ErrRemoteUnavailable
	default:
		return nil, ErrNotReady
	}
}

func (c *Coordinator) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}
