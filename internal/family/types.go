package family

import (
	"time"

	"github.com/google/uuid"
)

// Role represents a member's standing in the household.
type Role string

// Role constants.
const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// capability represents a named lock-sharing capability.
type capability string

const (
	capCreateLocks       capability = "locks:create"
	capDeleteOthersLocks capability = "locks:delete:others"
	capManageMembers     capability = "members:manage"
)

// roleCapabilities maps each role to its granted capabilities.
// This is the single source of truth for the sharing authorisation model.
var roleCapabilities = map[Role][]capability{
	RoleViewer: {},
	RoleMember: {
		capCreateLocks,
	},
	RoleAdmin: {
		capCreateLocks,
		capDeleteOthersLocks,
		capManageMembers,
	},
}

func (r Role) has(c capability) bool {
	for _, granted := range roleCapabilities[r] {
		if granted == c {
			return true
		}
	}
	return false
}

// CanCreateLocks reports whether the role may create and share locks.
func (r Role) CanCreateLocks() bool {
	return r.has(capCreateLocks)
}

// CanDeleteOthersLocks reports whether the role may remove locks created
// by other members.
func (r Role) CanDeleteOthersLocks() bool {
	return r.has(capDeleteOthersLocks)
}

// CanManageMembers reports whether the role may change member roles and
// remove members.
func (r Role) CanManageMembers() bool {
	return r.has(capManageMembers)
}

// IsValid reports whether the role is one of the known values.
func (r Role) IsValid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// FamilyMember is one identity in a household.
type FamilyMember struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Role        Role       `json:"role"`
	HouseholdID string     `json:"household_id"`
	AccountID   string     `json:"account_id"`
	JoinedAt    time.Time  `json:"joined_at"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
}

// FamilyHome is the household record shared members attach to.
type FamilyHome struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SharedLock is the household-visible replica of a local lock.
// The local LockConfiguration remains authoritative for enforcement;
// the replica exists so other members can see and release it.
type SharedLock struct {
	ID            string     `json:"id"`
	DeviceID      string     `json:"device_id"`
	DeviceName    string     `json:"device_name"`
	RoomName      *string    `json:"room_name,omitempty"`
	LockedState   bool       `json:"locked_state"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedByID   string     `json:"created_by_id"`
	CreatedByName string     `json:"created_by_name"`
	HouseholdID   string     `json:"household_id"`
}

// IsExpired reports whether the shared lock's expiration time has passed.
func (s *SharedLock) IsExpired() bool {
	return s.ExpiresAt != nil && !time.Now().Before(*s.ExpiresAt)
}

// LockActivity documents one lifecycle event on a lock.
type LockActivity struct {
	ID          string    `json:"id"`
	LockID      string    `json:"lock_id"`
	DeviceName  string    `json:"device_name"`
	Action      string    `json:"action"`
	ActorID     string    `json:"actor_id"`
	ActorName   string    `json:"actor_name"`
	HouseholdID string    `json:"household_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// GenerateID creates a unique identifier for family records.
func GenerateID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
