package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for lock persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	GetByDevice(ctx context.Context, deviceID string) (*LockConfiguration, error)
	List(ctx context.Context) ([]LockConfiguration, error)
	Save(ctx context.Context, lock *LockConfiguration) error
	Delete(ctx context.Context, deviceID string) error
	DeleteAll(ctx context.Context) (int, error)
}

// lockColumns is the SELECT column list for lock queries.
const lockColumns = `id, device_id, device_name, room_name, locked_state,
			created_at, expires_at, rule_id, shared, shared_by_name, household_id`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByDevice retrieves the lock held for a device.
func (r *SQLiteRepository) GetByDevice(ctx context.Context, deviceID string) (*LockConfiguration, error) {
	query := `SELECT ` + lockColumns + ` FROM lock_configurations WHERE device_id = ?`

	row := r.db.QueryRowContext(ctx, query, deviceID)
	lock, err := scanLockRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLockNotFound
		}
		return nil, fmt.Errorf("querying lock by device: %w", err)
	}
	return lock, nil
}

// List retrieves every persisted lock ordered by creation time.
func (r *SQLiteRepository) List(ctx context.Context) ([]LockConfiguration, error) {
	query := `SELECT ` + lockColumns + ` FROM lock_configurations ORDER BY created_at, device_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing locks: %w", err)
	}
	defer rows.Close()

	var locks []LockConfiguration
	for rows.Next() {
		lock, scanErr := scanLockRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning lock: %w", scanErr)
		}
		locks = append(locks, *lock)
	}
	return locks, rows.Err()
}

// Save inserts or replaces the lock for a device. The device_id unique
// constraint makes this the write-through upsert for replace semantics.
func (r *SQLiteRepository) Save(ctx context.Context, lock *LockConfiguration) error {
	query := `
		INSERT INTO lock_configurations (
			id, device_id, device_name, room_name, locked_state,
			created_at, expires_at, rule_id, shared, shared_by_name, household_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			id = excluded.id,
			device_name = excluded.device_name,
			room_name = excluded.room_name,
			locked_state = excluded.locked_state,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			rule_id = excluded.rule_id,
			shared = excluded.shared,
			shared_by_name = excluded.shared_by_name,
			household_id = excluded.household_id`

	var expiresAt any
	if lock.ExpiresAt != nil {
		expiresAt = lock.ExpiresAt.UTC().Format(time.RFC3339)
	}

	_, err := r.db.ExecContext(ctx, query,
		lock.ID,
		lock.DeviceID,
		lock.DeviceName,
		lock.RoomName,
		boolToInt(lock.LockedState),
		lock.CreatedAt.UTC().Format(time.RFC3339),
		expiresAt,
		lock.RuleID,
		boolToInt(lock.Shared),
		lock.SharedByName,
		lock.HouseholdID,
	)
	if err != nil {
		return fmt.Errorf("saving lock for %s: %w", lock.DeviceID, err)
	}
	return nil
}

// Delete removes the lock for a device. Deleting an absent lock is success.
func (r *SQLiteRepository) Delete(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM lock_configurations WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("deleting lock for %s: %w", deviceID, err)
	}
	return nil
}

// DeleteAll removes every persisted lock and returns how many were removed.
func (r *SQLiteRepository) DeleteAll(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM lock_configurations`)
	if err != nil {
		return 0, fmt.Errorf("deleting all locks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted locks: %w", err)
	}
	return int(n), nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLockRow(scanner rowScanner) (*LockConfiguration, error) {
	var l LockConfiguration
	var roomName, ruleID, sharedByName, householdID sql.NullString
	var expiresAt sql.NullString
	var lockedState, shared int
	var createdAt string

	err := scanner.Scan(
		&l.ID,
		&l.DeviceID,
		&l.DeviceName,
		&roomName,
		&lockedState,
		&createdAt,
		&expiresAt,
		&ruleID,
		&shared,
		&sharedByName,
		&householdID,
	)
	if err != nil {
		return nil, err
	}

	if roomName.Valid {
		l.RoomName = &roomName.String
	}
	if ruleID.Valid {
		l.RuleID = &ruleID.String
	}
	if sharedByName.Valid {
		l.SharedByName = &sharedByName.String
	}
	if householdID.Valid {
		l.HouseholdID = &householdID.String
	}

	l.LockedState = lockedState != 0
	l.Shared = shared != 0

	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		l.CreatedAt = t
	}
	if expiresAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, expiresAt.String); parseErr == nil {
			l.ExpiresAt = &t
		}
	}

	return &l, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
