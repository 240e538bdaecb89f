package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Engine.
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

// DevicePort is the slice of the control port the engine consumes.
type DevicePort interface {
	ReadPowerState(ctx context.Context, deviceID string) (*bool, error)
	WritePowerState(ctx context.Context, deviceID string, on bool) error
	HasDevice(deviceID string) bool
}

// RuleManager installs and removes the reversion rules that back locks.
type RuleManager interface {
	CreateReversionRule(ctx context.Context, deviceID, deviceName string, lockedState bool) (string, error)
	RemoveReversionRule(ctx context.Context, ruleID, deviceID string) error
}

// Sharer replicates locks to the household and documents lifecycle events.
// All methods are best-effort from the engine's point of view: a failure
// never blocks or reverts local enforcement.
type Sharer interface {
	CanShareLocks() bool
	PublishSharedLock(ctx context.Context, lock *LockConfiguration) error
	RetractSharedLock(ctx context.Context, lockID string) error
	LogActivity(ctx context.Context, lock *LockConfiguration, action string)
}

// noopSharer is used when family sharing is disabled.
type noopSharer struct{}

func (noopSharer) CanShareLocks() bool { return false }

func (noopSharer) PublishSharedLock(context.Context, *LockConfiguration) error { return nil }

func (noopSharer) RetractSharedLock(context.Context, string) error { return nil }

func (noopSharer) LogActivity(context.Context, *LockConfiguration, string) {}

// Recorder receives enforcement diagnostics for time-series storage.
type Recorder interface {
	WriteCorrection(deviceID string, lockedState bool)
	WriteActiveLocks(count int)
}

// noopRecorder discards diagnostics.
type noopRecorder struct{}

func (noopRecorder) WriteCorrection(string, bool) {}
func (noopRecorder) WriteActiveLocks(int)         {}

// AddLockRequest carries the parameters for pinning a device.
type AddLockRequest struct {
	DeviceID    string
	DeviceName  string
	RoomName    *string
	LockedState bool

	// Duration is how long the lock holds. Nil means indefinite.
	Duration *time.Duration

	// Share requests replication to the household.
	Share bool

	// Replace allows overwriting an existing lock on the device.
	// When false and a lock exists, AddLock fails with ErrAlreadyLocked.
	Replace bool
}

// Engine owns the lock set and keeps pinned devices in their locked state.
//
// Enforcement has two layers. The reversion rule installed on the platform
// reacts instantly but is not guaranteed to fire; the polling loop is the
// authoritative backstop, reading every locked device on a fixed interval
// and writing the locked state back on drift. A lock is active even when
// its rule failed to install.
//
// The loop runs only while locks exist: it starts on the first AddLock and
// stops when the set empties. Every mutation is persisted write-through
// before it takes effect in memory, so a crash loses at most the in-flight
// operation.
//
// Thread Safety: all methods are safe for concurrent use. Mutations are
// serialized by a single mutex; the polling loop reconciles a snapshot so
// slow device reads never hold the lock set.
type Engine struct {
	port     DevicePort
	rules    RuleManager
	repo     Repository
	logger   Logger
	recorder Recorder
	sharer   Sharer

	pollInterval time.Duration
	householdID  *string

	mu       sync.Mutex
	locks    map[string]*LockConfiguration
	timers   map[string]*time.Timer
	loopStop context.CancelFunc
	loopDone chan struct{}

	// baseCtx parents the polling loop and timer-fired removals.
	baseCtx context.Context
}

// NewEngine creates a reconciliation engine.
//
// Parameters:
//   - port: Device state access
//   - rules: Reversion rule management
//   - repo: Write-through lock persistence
//   - pollInterval: Enforcement tick interval
func NewEngine(port DevicePort, rules RuleManager, repo Repository, pollInterval time.Duration) *Engine {
	return &Engine{
		port:         port,
		rules:        rules,
		repo:         repo,
		logger:       noopLogger{},
		recorder:     noopRecorder{},
		sharer:       noopSharer{},
		pollInterval: pollInterval,
		locks:        make(map[string]*LockConfiguration),
		timers:       make(map[string]*time.Timer),
		baseCtx:      context.Background(),
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// SetRecorder sets the diagnostics recorder for the engine.
func (e *Engine) SetRecorder(recorder Recorder) {
	e.recorder = recorder
}

// SetSharer sets the family sharing collaborator.
func (e *Engine) SetSharer(sharer Sharer) {
	e.sharer = sharer
}

// SetHouseholdID sets the household stamped onto shared locks.
func (e *Engine) SetHouseholdID(householdID string) {
	if householdID != "" {
		e.householdID = &householdID
	}
}

// Restore reloads persisted locks after a restart.
//
// Rows already past their expiration are deleted immediately. Surviving
// locks get fresh timers recomputed from the persisted absolute expiration
// time, never from a relative duration, so restarts introduce no drift.
// The given context parents the polling loop and timer callbacks for the
// life of the engine.
func (e *Engine) Restore(ctx context.Context) error {
	persisted, err := e.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("reloading locks: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseCtx = ctx

	restored := 0
	for i := range persisted {
		lock := persisted[i].DeepCopy()
		if lock.IsExpired() {
			if delErr := e.repo.Delete(ctx, lock.DeviceID); delErr != nil {
				e.logger.Warn("dropping expired lock failed",
					"device_id", lock.DeviceID, "error", delErr)
			}
			e.sharer.LogActivity(ctx, lock, ActionExpired)
			continue
		}
		e.locks[lock.DeviceID] = lock
		e.scheduleExpiryLocked(lock)
		restored++
	}

	if restored > 0 {
		e.startLoopLocked()
	}
	e.recorder.WriteActiveLocks(len(e.locks))
	e.logger.Info("locks restored", "active", restored, "expired_dropped", len(persisted)-restored)
	return nil
}

// AddLock pins a device to a power state.
//
// The lock takes effect locally regardless of collaborator failures: the
// reversion rule install, the immediate corrective write, and the shared
// replica publication are all best-effort. Only an unknown device, a
// refused replace, or a persistence failure abort the operation.
//
// Returns:
//   - *LockConfiguration: Copy of the stored lock
//   - error: ErrDeviceNotFound, ErrAlreadyLocked, or a persistence error
func (e *Engine) AddLock(ctx context.Context, req AddLockRequest) (*LockConfiguration, error) {
	if !e.port.HasDevice(req.DeviceID) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, req.DeviceID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing := e.locks[req.DeviceID]
	if existing != nil && existing.IsExpired() {
		// The timer or sweep has not caught up yet; an expired hold never
		// blocks a new one.
		if err := e.removeLockLocked(ctx, req.DeviceID, ActionExpired); err != nil {
			e.logger.Warn("dropping expired lock failed",
				"device_id", req.DeviceID, "error", err)
		}
		existing = nil
	}
	if existing != nil && !req.Replace {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLocked, req.DeviceID)
	}
	if existing != nil {
		e.cancelTimerLocked(req.DeviceID)
		e.removeRuleBestEffort(ctx, existing)
		// The replacement publishes under a fresh ID, so the old replica
		// must come down or other members keep seeing it.
		e.retractSharedBestEffort(ctx, existing)
	}

	now := time.Now().UTC()
	lock := &LockConfiguration{
		ID:          GenerateLockID(),
		DeviceID:    req.DeviceID,
		DeviceName:  req.DeviceName,
		RoomName:    req.RoomName,
		LockedState: req.LockedState,
		CreatedAt:   now,
		HouseholdID: e.householdID,
	}
	if req.Duration != nil {
		expires := now.Add(*req.Duration)
		lock.ExpiresAt = &expires
	}

	// Rule install is an optimization, not the enforcement path.
	ruleID, err := e.rules.CreateReversionRule(ctx, req.DeviceID, req.DeviceName, req.LockedState)
	if err != nil {
		e.logger.Warn("reversion rule install failed, polling only",
			"device_id", req.DeviceID, "error", err)
	} else {
		lock.RuleID = &ruleID
	}

	if req.Share && e.sharer.CanShareLocks() {
		if pubErr := e.sharer.PublishSharedLock(ctx, lock); pubErr != nil {
			e.logger.Warn("shared lock publication failed, local only",
				"device_id", req.DeviceID, "error", pubErr)
		} else {
			lock.Shared = true
		}
	}

	if err := e.repo.Save(ctx, lock); err != nil {
		e.removeRuleBestEffort(ctx, lock)
		// No local lock will back the replica, so pull it back too.
		e.retractSharedBestEffort(ctx, lock)
		return nil, fmt.Errorf("persisting lock: %w", err)
	}

	e.locks[req.DeviceID] = lock
	e.scheduleExpiryLocked(lock)
	e.startLoopLocked()
	e.recorder.WriteActiveLocks(len(e.locks))

	// Put the device into the locked state now rather than waiting a tick.
	if writeErr := e.port.WritePowerState(ctx, req.DeviceID, req.LockedState); writeErr != nil {
		e.logger.Debug("initial corrective write failed, next tick retries",
			"device_id", req.DeviceID, "error", writeErr)
	}

	action := ActionCreated
	if existing != nil {
		action = ActionModified
	}
	e.sharer.LogActivity(ctx, lock, action)

	e.logger.Info("lock added",
		"device_id", req.DeviceID,
		"locked_state", req.LockedState,
		"expires_at", lock.ExpiresAt,
		"shared", lock.Shared,
		"replaced", existing != nil)
	return lock.DeepCopy(), nil
}

// RemoveLock releases a device. Removing a device with no lock is a no-op.
func (e *Engine) RemoveLock(ctx context.Context, deviceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLockLocked(ctx, deviceID, ActionRemoved)
}

// UnlockAll releases every locked device and returns how many were held.
func (e *Engine) UnlockAll(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	deviceIDs := make([]string, 0, len(e.locks))
	for id := range e.locks {
		deviceIDs = append(deviceIDs, id)
	}

	removed := 0
	var firstErr error
	for _, id := range deviceIDs {
		if err := e.removeLockLocked(ctx, id, ActionRemoved); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

// IsLocked reports whether the device holds a non-expired lock.
func (e *Engine) IsLocked(deviceID string) bool {
	return e.GetLock(deviceID) != nil
}

// GetLock returns a copy of the device's lock, or nil when absent or
// expired. Expiry is checked lazily here, independent of the sweep.
func (e *Engine) GetLock(deviceID string) *LockConfiguration {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock := e.locks[deviceID]
	if lock == nil || lock.IsExpired() {
		return nil
	}
	return lock.DeepCopy()
}

// ListLocks returns copies of every non-expired lock.
func (e *Engine) ListLocks() []LockConfiguration {
	e.mu.Lock()
	defer e.mu.Unlock()

	locks := make([]LockConfiguration, 0, len(e.locks))
	for _, l := range e.locks {
		if l.IsExpired() {
			continue
		}
		locks = append(locks, *l.DeepCopy())
	}
	return locks
}

// Status reports whether the device is locked and, for timed locks, how
// long the hold has left.
func (e *Engine) Status(deviceID string) (bool, *time.Duration) {
	lock := e.GetLock(deviceID)
	if lock == nil {
		return false, nil
	}
	return true, lock.Remaining()
}

// Stop halts the polling loop and every pending expiration timer.
// Persisted locks are untouched and come back on the next Restore.
func (e *Engine) Stop() {
	e.mu.Lock()
	for deviceID := range e.timers {
		e.cancelTimerLocked(deviceID)
	}
	stop := e.loopStop
	done := e.loopDone
	e.loopStop = nil
	e.loopDone = nil
	e.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
}

// removeLockLocked is the single removal path. Caller holds e.mu.
func (e *Engine) removeLockLocked(ctx context.Context, deviceID, action string) error {
	lock := e.locks[deviceID]
	if lock == nil {
		return nil
	}

	e.cancelTimerLocked(deviceID)
	e.removeRuleBestEffort(ctx, lock)

	if err := e.repo.Delete(ctx, deviceID); err != nil {
		return fmt.Errorf("deleting lock for %s: %w", deviceID, err)
	}
	delete(e.locks, deviceID)

	e.retractSharedBestEffort(ctx, lock)
	e.sharer.LogActivity(ctx, lock, action)

	if len(e.locks) == 0 {
		e.stopLoopLocked()
	}
	e.recorder.WriteActiveLocks(len(e.locks))
	e.logger.Info("lock removed", "device_id", deviceID, "action", action)
	return nil
}

// retractSharedBestEffort pulls the lock's household replica when one was
// published. Failures are logged, never surfaced.
func (e *Engine) retractSharedBestEffort(ctx context.Context, lock *LockConfiguration) {
	if !lock.Shared {
		return
	}
	if err := e.sharer.RetractSharedLock(ctx, lock.ID); err != nil {
		e.logger.Warn("shared lock retraction failed",
			"lock_id", lock.ID, "error", err)
	}
}

func (e *Engine) removeRuleBestEffort(ctx context.Context, lock *LockConfiguration) {
	if lock.RuleID == nil {
		return
	}
	if err := e.rules.RemoveReversionRule(ctx, *lock.RuleID, lock.DeviceID); err != nil {
		e.logger.Warn("reversion rule removal failed",
			"rule_id", *lock.RuleID, "device_id", lock.DeviceID, "error", err)
	}
}

// scheduleExpiryLocked arms the one-shot expiration timer. Caller holds e.mu.
func (e *Engine) scheduleExpiryLocked(lock *LockConfiguration) {
	if lock.ExpiresAt == nil {
		return
	}
	deviceID := lock.DeviceID
	lockID := lock.ID
	e.timers[deviceID] = time.AfterFunc(time.Until(*lock.ExpiresAt), func() {
		e.expireLock(deviceID, lockID)
	})
}

// cancelTimerLocked stops and forgets the device's expiration timer
// synchronously, so a stale fire cannot resurrect a removed entry.
// Caller holds e.mu.
func (e *Engine) cancelTimerLocked(deviceID string) {
	if timer, ok := e.timers[deviceID]; ok {
		timer.Stop()
		delete(e.timers, deviceID)
	}
}

// expireLock runs on timer fire. The lock ID guard skips fires that raced
// with a replacement.
func (e *Engine) expireLock(deviceID, lockID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock := e.locks[deviceID]
	if lock == nil || lock.ID != lockID {
		return
	}
	if err := e.removeLockLocked(e.baseCtx, deviceID, ActionExpired); err != nil {
		e.logger.Error("expiring lock failed", "device_id", deviceID, "error", err)
	}
}

// startLoopLocked enters Polling if the loop is not already running.
// Caller holds e.mu.
func (e *Engine) startLoopLocked() {
	if e.loopStop != nil {
		return
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	done := make(chan struct{})
	e.loopStop = cancel
	e.loopDone = done

	e.logger.Debug("enforcement loop started", "interval", e.pollInterval)
	go e.run(ctx, done)
}

// stopLoopLocked returns to Idle. Caller holds e.mu.
func (e *Engine) stopLoopLocked() {
	if e.loopStop == nil {
		return
	}
	e.loopStop()
	e.loopStop = nil
	e.loopDone = nil
	e.logger.Debug("enforcement loop stopped")
}

// run is the Polling state: an immediate sweep, then one per tick.
func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	e.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

// sweep reconciles every lock once. Devices are handled concurrently so a
// slow read on one accessory cannot stall the rest; expired entries are
// removed first under the mutex.
func (e *Engine) sweep(ctx context.Context) {
	e.mu.Lock()
	snapshot := make([]*LockConfiguration, 0, len(e.locks))
	for deviceID, lock := range e.locks {
		if lock.IsExpired() {
			if err := e.removeLockLocked(ctx, deviceID, ActionExpired); err != nil {
				e.logger.Error("expiring lock failed", "device_id", deviceID, "error", err)
			}
			continue
		}
		snapshot = append(snapshot, lock.DeepCopy())
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, lock := range snapshot {
		wg.Add(1)
		go func(l *LockConfiguration) {
			defer wg.Done()
			e.reconcileDevice(ctx, l)
		}(lock)
	}
	wg.Wait()
}

// reconcileDevice reads one device and corrects drift.
func (e *Engine) reconcileDevice(ctx context.Context, lock *LockConfiguration) {
	state, err := e.port.ReadPowerState(ctx, lock.DeviceID)
	if err != nil || state == nil {
		// Unreadable this cycle. The next tick tries again.
		return
	}
	if *state == lock.LockedState {
		return
	}

	if err := e.port.WritePowerState(ctx, lock.DeviceID, lock.LockedState); err != nil {
		e.logger.Warn("corrective write failed, next tick retries",
			"device_id", lock.DeviceID, "error", err)
		return
	}
	e.recorder.WriteCorrection(lock.DeviceID, lock.LockedState)
	e.logger.Info("drift corrected",
		"device_id", lock.DeviceID, "locked_state", lock.LockedState)
}
