package control

import (
	"context"
	"time"
)

// RulePurpose marks automation objects owned by the lock feature.
//
// Every reversion rule carries this structured purpose field alongside its
// device id, so feature ownership is recovered from the object itself rather
// than parsed out of a naming convention.
const RulePurpose = "lockstead.hold"

// ReversionRule is a platform automation object that fires when a device
// changes to the unwanted state and writes the locked state back.
//
// The locked state is always the negation of UnwantedState: the rule triggers
// on the value we do not want and restores the value we do.
type ReversionRule struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"device_id"`
	DeviceName    string    `json:"device_name,omitempty"`
	Purpose       string    `json:"purpose"`
	UnwantedState bool      `json:"unwanted_state"`
	CreatedAt     time.Time `json:"created_at"`
}

// LockedState returns the state this rule restores when it fires.
func (r ReversionRule) LockedState() bool {
	return !r.UnwantedState
}

// IsFeatureOwned reports whether the rule belongs to the lock feature.
func (r ReversionRule) IsFeatureOwned() bool {
	return r.Purpose == RulePurpose
}

// Port is the device control surface consumed by the automation bridge and
// the reconciliation engine. Implementations talk to whatever actually moves
// hardware; the engine never touches devices directly.
type Port interface {
	// ReadPowerState returns the device's current boolean power state, or
	// nil when the state is genuinely unreadable (unknown device, stale
	// report). Unreadable is not an error; the caller skips the device.
	ReadPowerState(ctx context.Context, deviceID string) (*bool, error)

	// WritePowerState sets the device's power state.
	// Fails with ErrWriteFailed when the command cannot be delivered.
	WritePowerState(ctx context.Context, deviceID string, on bool) error

	// HasDevice reports whether the device has ever reported state.
	HasDevice(deviceID string) bool

	// CreateRule installs a reversion rule and its auxiliary action object.
	CreateRule(ctx context.Context, rule ReversionRule) error

	// RemoveRule deletes a rule and its auxiliary action object.
	// Removing a rule that does not exist is success.
	RemoveRule(ctx context.Context, ruleID string) error

	// ListRules returns every installed reversion rule, feature-owned or not.
	ListRules(ctx context.Context) ([]ReversionRule, error)
}
