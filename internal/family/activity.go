package family

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// activityCacheLimit caps the local activity cache. The remote store keeps
// the unbounded history.
const activityCacheLimit = 50

// ActivityRepository defines the interface for the local activity cache.
type ActivityRepository interface {
	Append(ctx context.Context, activity *LockActivity) error
	List(ctx context.Context, limit int) ([]LockActivity, error)
}

// SQLiteActivityRepository implements ActivityRepository using SQLite,
// keeping only the newest entries.
type SQLiteActivityRepository struct {
	db *sql.DB
}

// NewSQLiteActivityRepository creates a new SQLite-backed activity cache.
func NewSQLiteActivityRepository(db *sql.DB) *SQLiteActivityRepository {
	return &SQLiteActivityRepository{db: db}
}

// Append stores an activity entry and trims the cache to its cap. Entries
// synced from the remote store reuse their remote ID, so replays are
// idempotent.
func (r *SQLiteActivityRepository) Append(ctx context.Context, activity *LockActivity) error {
	query := `
		INSERT INTO lock_activity (
			id, lock_id, device_name, action, actor_id, actor_name,
			household_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		activity.ID,
		activity.LockID,
		activity.DeviceName,
		activity.Action,
		activity.ActorID,
		activity.ActorName,
		activity.HouseholdID,
		activity.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("appending activity: %w", err)
	}

	trim := `
		DELETE FROM lock_activity WHERE id NOT IN (
			SELECT id FROM lock_activity
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)`
	if _, err := r.db.ExecContext(ctx, trim, activityCacheLimit); err != nil {
		return fmt.Errorf("trimming activity cache: %w", err)
	}
	return nil
}

// List returns the newest activity entries, most recent first.
func (r *SQLiteActivityRepository) List(ctx context.Context, limit int) ([]LockActivity, error) {
	if limit <= 0 || limit > activityCacheLimit {
		limit = activityCacheLimit
	}

	query := `
		SELECT id, lock_id, device_name, action, actor_id, actor_name,
			household_id, created_at
		FROM lock_activity
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	defer rows.Close()

	var entries []LockActivity
	for rows.Next() {
		var a LockActivity
		var createdAt string
		if err := rows.Scan(
			&a.ID,
			&a.LockID,
			&a.DeviceName,
			&a.Action,
			&a.ActorID,
			&a.ActorName,
			&a.HouseholdID,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
			a.CreatedAt = t
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}
