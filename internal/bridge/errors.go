package bridge

import "errors"

var (
	// ErrRuleCreation indicates the platform rejected the reversion rule.
	ErrRuleCreation = errors.New("bridge: rule creation failed")

	// ErrDeviceUnavailable indicates the target device has never reported
	// a state and cannot be locked.
	ErrDeviceUnavailable = errors.New("bridge: device unavailable")
)
