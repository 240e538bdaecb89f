package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lockstead/lockstead-core/internal/control"
)

// Logger defines the logging interface used by the Bridge.
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

// Recorder receives bridge diagnostics for time-series storage.
type Recorder interface {
	WriteRulePurge(removed int, trigger string)
}

// noopRecorder discards diagnostics.
type noopRecorder struct{}

func (noopRecorder) WriteRulePurge(int, string) {}

// DetectedLock is the projection of an installed reversion rule back into
// lock terms. It covers rules created by this process and by any other
// process holding devices on the same platform.
type DetectedLock struct {
	RuleID      string    `json:"rule_id"`
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"device_name"`
	LockedState bool      `json:"locked_state"`
	CreatedAt   time.Time `json:"created_at"`
}

// Config carries the leak-mitigation thresholds.
type Config struct {
	// TotalRuleCeiling is the installed-rule count above which every rule
	// is purged before a new one is created.
	TotalRuleCeiling int

	// FeatureRuleCeiling bounds rules carrying the hold purpose key.
	FeatureRuleCeiling int

	// PurgePause is how long to wait after a purge before creating the
	// new rule, giving the platform time to settle.
	PurgePause time.Duration
}

// Bridge manages reversion rules on the control port, including the
// hygiene work that keeps rule objects from accumulating.
//
// Rule identity is keyed by device: creating a rule for a device first
// removes any rule this feature already installed for it, so a device never
// carries two holds. When the platform's rule population grows past the
// configured ceilings, the bridge purges every feature-owned rule and pauses
// before continuing.
type Bridge struct {
	port     control.Port
	cfg      Config
	logger   Logger
	recorder Recorder

	// sleep is swappable in tests to avoid real purge pauses.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an automation bridge over the given control port.
func New(port control.Port, cfg Config) *Bridge {
	return &Bridge{
		port:     port,
		cfg:      cfg,
		logger:   noopLogger{},
		recorder: noopRecorder{},
		sleep:    sleepCtx,
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// SetRecorder sets the diagnostics recorder for the bridge.
func (b *Bridge) SetRecorder(recorder Recorder) {
	b.recorder = recorder
}

// CreateReversionRule installs a rule that pins a device to lockedState.
//
// The rule triggers whenever the device reports the unwanted value (the
// negation of lockedState) and writes lockedState back. Any existing rule
// held for the device is removed first.
//
// Parameters:
//   - deviceID: Platform device identifier
//   - deviceName: Human-readable name carried in the rule object
//   - lockedState: Power state to pin the device to
//
// Returns:
//   - string: ID of the installed rule
//   - error: ErrDeviceUnavailable when the device is unknown,
//     ErrRuleCreation when the platform rejects the rule
func (b *Bridge) CreateReversionRule(ctx context.Context, deviceID, deviceName string, lockedState bool) (string, error) {
	if !b.port.HasDevice(deviceID) {
		return "", fmt.Errorf("%w: %s", ErrDeviceUnavailable, deviceID)
	}

	if err := b.mitigateLeak(ctx); err != nil {
		return "", err
	}

	if err := b.removeRulesForDevice(ctx, deviceID); err != nil {
		b.logger.Warn("stale rule cleanup failed, continuing",
			"device_id", deviceID, "error", err)
	}

	rule := control.ReversionRule{
		ID:            "lockstead-" + uuid.NewString()[:8],
		DeviceID:      deviceID,
		DeviceName:    deviceName,
		Purpose:       control.RulePurpose,
		UnwantedState: !lockedState,
		CreatedAt:     time.Now().UTC(),
	}

	if err := b.port.CreateRule(ctx, rule); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRuleCreation, err)
	}

	b.logger.Info("reversion rule installed",
		"rule_id", rule.ID, "device_id", deviceID, "locked_state", lockedState)
	return rule.ID, nil
}

// RemoveReversionRule removes a rule and its auxiliary action object.
// A rule that no longer exists is success.
func (b *Bridge) RemoveReversionRule(ctx context.Context, ruleID, deviceID string) error {
	if err := b.port.RemoveRule(ctx, ruleID); err != nil {
		return fmt.Errorf("removing rule %s for device %s: %w", ruleID, deviceID, err)
	}
	b.logger.Debug("reversion rule removed", "rule_id", ruleID, "device_id", deviceID)
	return nil
}

// CountInstalledRules returns the number of automation rules on the platform,
// feature-owned or not.
func (b *Bridge) CountInstalledRules(ctx context.Context) (int, error) {
	rules, err := b.port.ListRules(ctx)
	if err != nil {
		return 0, err
	}
	return len(rules), nil
}

// ListInstalledRules projects the feature-owned rules into DetectedLocks.
// Rules installed by other lockstead processes show up here too.
func (b *Bridge) ListInstalledRules(ctx context.Context) ([]DetectedLock, error) {
	rules, err := b.port.ListRules(ctx)
	if err != nil {
		return nil, err
	}

	locks := make([]DetectedLock, 0, len(rules))
	for _, r := range rules {
		if !r.IsFeatureOwned() {
			continue
		}
		locks = append(locks, DetectedLock{
			RuleID:      r.ID,
			DeviceID:    r.DeviceID,
			DeviceName:  r.DeviceName,
			LockedState: r.LockedState(),
			CreatedAt:   r.CreatedAt,
		})
	}
	return locks, nil
}

// PurgeAllRules removes every feature-owned rule and action object.
//
// Returns:
//   - int: Number of rules removed
//   - error: First removal failure, after attempting the rest
func (b *Bridge) PurgeAllRules(ctx context.Context) (int, error) {
	rules, err := b.port.ListRules(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	var firstErr error
	for _, r := range rules {
		if !r.IsFeatureOwned() {
			continue
		}
		if err := b.port.RemoveRule(ctx, r.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}

	if removed > 0 {
		b.logger.Info("purged reversion rules", "removed", removed)
	}
	return removed, firstErr
}

// mitigateLeak purges the rule population when it has grown past a ceiling,
// then pauses so the platform settles before the next create.
func (b *Bridge) mitigateLeak(ctx context.Context) error {
	rules, err := b.port.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("%w: listing rules: %w", ErrRuleCreation, err)
	}

	total := len(rules)
	feature := 0
	for _, r := range rules {
		if r.IsFeatureOwned() {
			feature++
		}
	}

	var trigger string
	switch {
	case b.cfg.TotalRuleCeiling > 0 && total > b.cfg.TotalRuleCeiling:
		trigger = "total_ceiling"
	case b.cfg.FeatureRuleCeiling > 0 && feature > b.cfg.FeatureRuleCeiling:
		trigger = "feature_ceiling"
	default:
		return nil
	}

	b.logger.Warn("rule ceiling exceeded, purging",
		"trigger", trigger, "total", total, "feature_owned", feature)

	removed, err := b.PurgeAllRules(ctx)
	if err != nil {
		b.logger.Error("rule purge incomplete", "removed", removed, "error", err)
	}
	b.recorder.WriteRulePurge(removed, trigger)

	if b.cfg.PurgePause > 0 {
		if err := b.sleep(ctx, b.cfg.PurgePause); err != nil {
			return err
		}
	}
	return nil
}

// removeRulesForDevice clears every feature-owned rule held for a device.
func (b *Bridge) removeRulesForDevice(ctx context.Context, deviceID string) error {
	rules, err := b.port.ListRules(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, r := range rules {
		if r.DeviceID != deviceID || !r.IsFeatureOwned() {
			continue
		}
		if err := b.port.RemoveRule(ctx, r.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sleepCtx waits for the duration or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
