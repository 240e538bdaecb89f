package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lockstead/lockstead-core/internal/family"
)

// fakeStore is an httptest-backed record store.
type fakeStore struct {
	mu      sync.Mutex
	token   string
	records map[string]map[string]json.RawMessage // type -> id -> body
	queries []query
}

func newFakeStore(token string) *fakeStore {
	return &fakeStore{
		token:   token,
		records: map[string]map[string]json.RawMessage{},
	}
}

func (s *fakeStore) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path == "/api/v1/ping" {
			w.WriteHeader(http.StatusOK)
			return
		}

		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/records/"), "/")
		if len(parts) != 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		recordType, key := parts[0], parts[1]

		s.mu.Lock()
		defer s.mu.Unlock()

		if key == "query" && r.Method == http.MethodPost {
			var q query
			json.NewDecoder(r.Body).Decode(&q)
			s.queries = append(s.queries, q)

			results := make([]json.RawMessage, 0)
			for _, body := range s.records[recordType] {
				results = append(results, body)
			}
			json.NewEncoder(w).Encode(results)
			return
		}

		switch r.Method {
		case http.MethodGet:
			body, ok := s.records[recordType][key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(body)
		case http.MethodPut:
			var body json.RawMessage
			json.NewDecoder(r.Body).Decode(&body)
			if s.records[recordType] == nil {
				s.records[recordType] = map[string]json.RawMessage{}
			}
			s.records[recordType][key] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			if _, ok := s.records[recordType][key]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(s.records[recordType], key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func testClient(t *testing.T, store *fakeStore) *Client {
	t.Helper()
	srv := httptest.NewServer(store.handler())
	t.Cleanup(srv.Close)
	return NewClient(Config{URL: srv.URL, Token: store.token, Timeout: 2 * time.Second})
}

func TestClientPing(t *testing.T) {
	client := testClient(t, newFakeStore("secret"))
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}

func TestClientRejectsBadToken(t *testing.T) {
	store := newFakeStore("secret")
	srv := httptest.NewServer(store.handler())
	t.Cleanup(srv.Close)
	client := NewClient(Config{URL: srv.URL, Token: "wrong", Timeout: 2 * time.Second})

	err := client.Ping(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestClientHomeRoundTrip(t *testing.T) {
	client := testClient(t, newFakeStore("secret"))
	ctx := context.Background()

	home := &family.FamilyHome{ID: "home-1", Name: "Test Home", CreatedAt: time.Now().UTC()}
	if err := client.UpsertHome(ctx, home); err != nil {
		t.Fatalf("UpsertHome() error: %v", err)
	}

	got, err := client.GetHome(ctx, "home-1")
	if err != nil {
		t.Fatalf("GetHome() error: %v", err)
	}
	if got.ID != "home-1" || got.Name != "Test Home" {
		t.Errorf("got %+v", got)
	}

	t.Run("missing home", func(t *testing.T) {
		_, err := client.GetHome(ctx, "home-ghost")
		if !errors.Is(err, ErrRecordNotFound) {
			t.Errorf("expected ErrRecordNotFound, got %v", err)
		}
	})
}

func TestClientMemberLifecycle(t *testing.T) {
	store := newFakeStore("secret")
	client := testClient(t, store)
	ctx := context.Background()

	member := &family.FamilyMember{
		ID: "member-1", Name: "Alex", Role: family.RoleAdmin,
		HouseholdID: "home-1", AccountID: "acct-1", JoinedAt: time.Now().UTC(),
	}
	if err := client.UpsertMember(ctx, member); err != nil {
		t.Fatalf("UpsertMember() error: %v", err)
	}

	members, err := client.ListMembers(ctx, "home-1")
	if err != nil {
		t.Fatalf("ListMembers() error: %v", err)
	}
	if len(members) != 1 || members[0].Role != family.RoleAdmin {
		t.Fatalf("got %+v", members)
	}

	// The query carried the household predicate and sort.
	if len(store.queries) != 1 {
		t.Fatalf("expected one query, got %d", len(store.queries))
	}
	if store.queries[0].Filter["household_id"] != "home-1" {
		t.Errorf("query filter = %v", store.queries[0].Filter)
	}
	if store.queries[0].SortBy != "joined_at" {
		t.Errorf("query sort = %q", store.queries[0].SortBy)
	}

	if err := client.DeleteMember(ctx, "member-1"); err != nil {
		t.Fatalf("DeleteMember() error: %v", err)
	}

	t.Run("deleting an absent record is success", func(t *testing.T) {
		if err := client.DeleteMember(ctx, "member-1"); err != nil {
			t.Errorf("idempotent delete failed: %v", err)
		}
	})
}

func TestClientActivityQueryShape(t *testing.T) {
	store := newFakeStore("")
	client := testClient(t, store)
	ctx := context.Background()

	err := client.AppendActivity(ctx, &family.LockActivity{
		ID: "activity-1", LockID: "lock-1", Action: "created",
		HouseholdID: "home-1", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AppendActivity() error: %v", err)
	}

	entries, err := client.ListActivities(ctx, "home-1", 50)
	if err != nil {
		t.Fatalf("ListActivities() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}

	q := store.queries[len(store.queries)-1]
	if !q.SortDesc || q.SortBy != "created_at" || q.Limit != 50 {
		t.Errorf("activity query = %+v", q)
	}
}

func TestClientUnreachableStore(t *testing.T) {
	client := NewClient(Config{URL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	err := client.Ping(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestSubscribeReceivesSignals(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/subscribe" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(changeSignal{Type: "changed", RecordType: "shared_lock"})
		conn.WriteJSON(changeSignal{Type: "heartbeat"})
		conn.WriteJSON(changeSignal{Type: "changed", RecordType: "family_member"})
		time.Sleep(100 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{URL: srv.URL, Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan string, 8)
	go client.Subscribe(ctx, []string{"shared_lock", "family_member"}, func(recordType string) {
		signals <- recordType
	})

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case s := <-signals:
			got = append(got, s)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	if got[0] != "shared_lock" || got[1] != "family_member" {
		t.Errorf("signals = %v, heartbeats should be skipped", got)
	}
}

func TestSubscribeReleasesWatcherPerConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{URL: srv.URL, Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsURL, err := client.subscribeURL([]string{"shared_lock"})
	if err != nil {
		t.Fatalf("subscribeURL() error: %v", err)
	}

	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		client.readSignals(ctx, wsURL, func(string) {})
	}

	// Each dropped connection must release its cancellation watcher; with
	// the context still live, reconnects may not pin a goroutine apiece.
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before+2 {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines grew from %d to %d across reconnects",
				before, runtime.NumGoroutine())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
