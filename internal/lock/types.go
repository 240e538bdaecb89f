package lock

import (
	"time"

	"github.com/google/uuid"
)

// Activity actions recorded against a lock's lifecycle.
const (
	ActionCreated  = "created"
	ActionRemoved  = "removed"
	ActionExpired  = "expired"
	ActionModified = "modified"
)

// LockConfiguration is one pinned device: the state it is held in, how long
// the hold lasts, and the sharing metadata when the lock is replicated to
// the household.
type LockConfiguration struct {
	// Identity
	ID         string `json:"id"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`

	// Location (optional)
	RoomName *string `json:"room_name,omitempty"`

	// Enforcement
	LockedState bool       `json:"locked_state"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	// Reversion rule installed for this lock, when the platform accepted
	// one. Absence means polling is the sole enforcement path.
	RuleID *string `json:"rule_id,omitempty"`

	// Family sharing
	Shared       bool    `json:"shared"`
	SharedByName *string `json:"shared_by_name,omitempty"`
	HouseholdID  *string `json:"household_id,omitempty"`
}

// IsExpired reports whether the lock's expiration time has passed.
// Locks without an expiration never expire.
func (l *LockConfiguration) IsExpired() bool {
	return l.ExpiresAt != nil && !time.Now().Before(*l.ExpiresAt)
}

// Remaining returns the time left until expiration, or nil for an
// indefinite lock. An expired lock reports zero.
func (l *LockConfiguration) Remaining() *time.Duration {
	if l.ExpiresAt == nil {
		return nil
	}
	d := time.Until(*l.ExpiresAt)
	if d < 0 {
		d = 0
	}
	return &d
}

// DeepCopy returns an independent copy of the lock.
func (l *LockConfiguration) DeepCopy() *LockConfiguration {
	if l == nil {
		return nil
	}
	c := *l
	if l.RoomName != nil {
		v := *l.RoomName
		c.RoomName = &v
	}
	if l.ExpiresAt != nil {
		v := *l.ExpiresAt
		c.ExpiresAt = &v
	}
	if l.RuleID != nil {
		v := *l.RuleID
		c.RuleID = &v
	}
	if l.SharedByName != nil {
		v := *l.SharedByName
		c.SharedByName = &v
	}
	if l.HouseholdID != nil {
		v := *l.HouseholdID
		c.HouseholdID = &v
	}
	return &c
}

// GenerateLockID creates a unique lock identifier.
func GenerateLockID() string {
	return "lock-" + uuid.NewString()[:8]
}
