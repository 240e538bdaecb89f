package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lockstead/lockstead-core/internal/family"
)

// Logger defines the logging interface used by the Client.
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

// Record type path segments on the store.
const (
	recordHome       = "family_home"
	recordMember     = "family_member"
	recordSharedLock = "shared_lock"
	recordActivity   = "lock_activity"
)

// Config carries the remote store connection settings.
type Config struct {
	// URL is the store's base URL, e.g. https://sync.example.net.
	URL string

	// Token is the bearer token presented on every request.
	Token string

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// Client talks to the remote synchronization store: generic record CRUD
// keyed by record type and ID, query-by-predicate with sort, and a
// websocket push subscription per record type.
//
// Writes are last-write-wins per record; the store applies no merging.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  Logger
}

// query is the predicate body for record queries.
type query struct {
	Filter   map[string]any `json:"filter,omitempty"`
	SortBy   string         `json:"sort_by,omitempty"`
	SortDesc bool           `json:"sort_desc,omitempty"`
	Limit    int            `json:"limit,omitempty"`
}

// NewClient creates a remote store client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// Ping probes store availability.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v1/ping", nil, nil)
}

// UpsertHome creates or replaces the household record.
func (c *Client) UpsertHome(ctx context.Context, home *family.FamilyHome) error {
	return c.putRecord(ctx, recordHome, home.ID, home)
}

// GetHome retrieves the household record.
func (c *Client) GetHome(ctx context.Context, householdID string) (*family.FamilyHome, error) {
	var home family.FamilyHome
	if err := c.getRecord(ctx, recordHome, householdID, &home); err != nil {
		return nil, err
	}
	return &home, nil
}

// UpsertMember creates or replaces a member record.
func (c *Client) UpsertMember(ctx context.Context, member *family.FamilyMember) error {
	return c.putRecord(ctx, recordMember, member.ID, member)
}

// DeleteMember removes a member record. An absent record is success.
func (c *Client) DeleteMember(ctx context.Context, memberID string) error {
	return c.deleteRecord(ctx, recordMember, memberID)
}

// ListMembers retrieves every member of a household.
func (c *Client) ListMembers(ctx context.Context, householdID string) ([]family.FamilyMember, error) {
	var members []family.FamilyMember
	q := query{
		Filter: map[string]any{"household_id": householdID},
		SortBy: "joined_at",
	}
	if err := c.queryRecords(ctx, recordMember, q, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// UpsertSharedLock creates or replaces a shared lock record.
func (c *Client) UpsertSharedLock(ctx context.Context, lock *family.SharedLock) error {
	return c.putRecord(ctx, recordSharedLock, lock.ID, lock)
}

// DeleteSharedLock removes a shared lock record. Absent is success.
func (c *Client) DeleteSharedLock(ctx context.Context, lockID string) error {
	return c.deleteRecord(ctx, recordSharedLock, lockID)
}

// ListSharedLocks retrieves every shared lock in a household.
func (c *Client) ListSharedLocks(ctx context.Context, householdID string) ([]family.SharedLock, error) {
	var locks []family.SharedLock
	q := query{
		Filter: map[string]any{"household_id": householdID},
		SortBy: "created_at",
	}
	if err := c.queryRecords(ctx, recordSharedLock, q, &locks); err != nil {
		return nil, err
	}
	return locks, nil
}

// AppendActivity stores an activity record. Records are immutable, so the
// PUT doubles as an idempotent replay.
func (c *Client) AppendActivity(ctx context.Context, activity *family.LockActivity) error {
	return c.putRecord(ctx, recordActivity, activity.ID, activity)
}

// ListActivities retrieves the newest activity records, most recent first.
func (c *Client) ListActivities(ctx context.Context, householdID string, limit int) ([]family.LockActivity, error) {
	var entries []family.LockActivity
	q := query{
		Filter:   map[string]any{"household_id": householdID},
		SortBy:   "created_at",
		SortDesc: true,
		Limit:    limit,
	}
	if err := c.queryRecords(ctx, recordActivity, q, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) getRecord(ctx context.Context, recordType, id string, out any) error {
	return c.do(ctx, http.MethodGet, recordPath(recordType, id), nil, out)
}

func (c *Client) putRecord(ctx context.Context, recordType, id string, record any) error {
	return c.do(ctx, http.MethodPut, recordPath(recordType, id), record, nil)
}

func (c *Client) deleteRecord(ctx context.Context, recordType, id string) error {
	err := c.do(ctx, http.MethodDelete, recordPath(recordType, id), nil, nil)
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	return err
}

func (c *Client) queryRecords(ctx context.Context, recordType string, q query, out any) error {
	return c.do(ctx, http.MethodPost, "/api/v1/records/"+recordType+"/query", q, out)
}

func recordPath(recordType, id string) string {
	return "/api/v1/records/" + recordType + "/" + id
}

// do executes one request, encoding body and decoding out as JSON.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrRecordNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("remote: %s %s failed with status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
