package family

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupActivityDB creates an in-memory SQLite database with the activity
// schema.
func setupActivityDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// Matches the lock_activity migration.
	schema := `
		CREATE TABLE lock_activity (
			id TEXT PRIMARY KEY,
			lock_id TEXT NOT NULL,
			device_name TEXT NOT NULL,
			action TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			actor_name TEXT NOT NULL DEFAULT '',
			household_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		) STRICT;`

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return db
}

func TestActivityAppendAndList(t *testing.T) {
	repo := NewSQLiteActivityRepository(setupActivityDB(t))
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		err := repo.Append(ctx, &LockActivity{
			ID:         fmt.Sprintf("activity-%d", i),
			LockID:     "lock-1",
			DeviceName: "TV",
			Action:     lifecycleAction(i),
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Append(%d) error: %v", i, err)
		}
	}

	entries, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != "activity-2" {
		t.Errorf("newest entry should come first, got %q", entries[0].ID)
	}
}

// lifecycleAction cycles the lifecycle actions for test data.
func lifecycleAction(i int) string {
	actions := []string{"created", "removed", "expired"}
	return actions[i%len(actions)]
}

func TestActivityAppendIdempotent(t *testing.T) {
	repo := NewSQLiteActivityRepository(setupActivityDB(t))
	ctx := context.Background()

	entry := &LockActivity{
		ID: "activity-1", LockID: "lock-1", DeviceName: "TV",
		Action: "created", CreatedAt: time.Now().UTC(),
	}
	if err := repo.Append(ctx, entry); err != nil {
		t.Fatalf("first Append() error: %v", err)
	}
	if err := repo.Append(ctx, entry); err != nil {
		t.Fatalf("replayed Append() error: %v", err)
	}

	entries, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("replay should not duplicate, got %d entries", len(entries))
	}
}

func TestActivityCacheCap(t *testing.T) {
	repo := NewSQLiteActivityRepository(setupActivityDB(t))
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < activityCacheLimit+10; i++ {
		err := repo.Append(ctx, &LockActivity{
			ID:         fmt.Sprintf("activity-%03d", i),
			LockID:     "lock-1",
			DeviceName: "TV",
			Action:     "created",
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Append(%d) error: %v", i, err)
		}
	}

	entries, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(entries) != activityCacheLimit {
		t.Fatalf("cache should cap at %d, got %d", activityCacheLimit, len(entries))
	}

	// The oldest entries are the ones trimmed.
	newest := fmt.Sprintf("activity-%03d", activityCacheLimit+9)
	if entries[0].ID != newest {
		t.Errorf("newest entry = %q, want %q", entries[0].ID, newest)
	}
}
