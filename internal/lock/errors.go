package lock

import "errors"

var (
	// ErrLockNotFound indicates no lock exists for the device.
	ErrLockNotFound = errors.New("lock: not found")

	// ErrDeviceNotFound indicates the device is unknown to the platform.
	ErrDeviceNotFound = errors.New("lock: device not found")

	// ErrAlreadyLocked indicates the device holds a lock and the caller
	// did not ask for replacement.
	ErrAlreadyLocked = errors.New("lock: device already locked")
)
