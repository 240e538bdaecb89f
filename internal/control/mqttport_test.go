package control

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockBus is an in-memory MessageBus that records publishes and lets tests
// drive subscription handlers directly.
type mockBus struct {
	mu          sync.Mutex
	published   map[string][]byte
	retained    map[string][]byte
	cleared     []string
	handlers    map[string]func(topic string, payload []byte) error
	publishErr  error
	retainedErr error
	clearErr    error
}

func newMockBus() *mockBus {
	return &mockBus{
		published: make(map[string][]byte),
		retained:  make(map[string][]byte),
		handlers:  make(map[string]func(topic string, payload []byte) error),
	}
}

func (m *mockBus) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published[topic] = payload
	return nil
}

func (m *mockBus) PublishRetained(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retainedErr != nil {
		return m.retainedErr
	}
	m.retained[topic] = payload
	return nil
}

func (m *mockBus) ClearRetained(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	delete(m.retained, topic)
	m.cleared = append(m.cleared, topic)
	return nil
}

func (m *mockBus) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

// deliver invokes the handler registered for a wildcard filter.
func (m *mockBus) deliver(t *testing.T, filter, topic string, payload []byte) {
	t.Helper()
	m.mu.Lock()
	handler, ok := m.handlers[filter]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no handler registered for %s", filter)
	}
	if err := handler(topic, payload); err != nil {
		t.Fatalf("handler for %s returned error: %v", topic, err)
	}
}

func startedPort(t *testing.T, bus *mockBus, freshness time.Duration) *MQTTPort {
	t.Helper()
	port := NewMQTTPort(bus, freshness, 1)
	if err := port.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return port
}

func TestMQTTPortReadPowerState(t *testing.T) {
	bus := newMockBus()
	port := startedPort(t, bus, 30*time.Second)

	t.Run("unknown device returns nil", func(t *testing.T) {
		state, err := port.ReadPowerState(context.Background(), "ghost")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state != nil {
			t.Errorf("expected nil state for unknown device, got %v", *state)
		}
	})

	t.Run("cached state is returned", func(t *testing.T) {
		bus.deliver(t, "lockstead/state/+", "lockstead/state/tv-1", []byte(`{"on":true}`))

		state, err := port.ReadPowerState(context.Background(), "tv-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state == nil || !*state {
			t.Errorf("expected on=true, got %v", state)
		}
	})

	t.Run("cleared retained state evicts the device", func(t *testing.T) {
		bus.deliver(t, "lockstead/state/+", "lockstead/state/tv-1", nil)

		state, err := port.ReadPowerState(context.Background(), "tv-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state != nil {
			t.Errorf("expected nil after eviction, got %v", *state)
		}
		if port.HasDevice("tv-1") {
			t.Error("HasDevice should be false after eviction")
		}
	})
}

func TestMQTTPortStaleState(t *testing.T) {
	bus := newMockBus()
	port := startedPort(t, bus, 10*time.Millisecond)

	bus.deliver(t, "lockstead/state/+", "lockstead/state/lamp-2", []byte(`{"on":false}`))

	state, err := port.ReadPowerState(context.Background(), "lamp-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state == nil || *state {
		t.Fatalf("expected fresh on=false, got %v", state)
	}

	time.Sleep(20 * time.Millisecond)

	state, err = port.ReadPowerState(context.Background(), "lamp-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != nil {
		t.Errorf("expected nil for stale state, got %v", *state)
	}
	if !port.HasDevice("lamp-2") {
		t.Error("HasDevice should still see a stale device")
	}
}

func TestMQTTPortWritePowerState(t *testing.T) {
	bus := newMockBus()
	port := startedPort(t, bus, time.Minute)

	if err := port.WritePowerState(context.Background(), "plug-3", true); err != nil {
		t.Fatalf("WritePowerState() error: %v", err)
	}

	payload, ok := bus.published["lockstead/command/plug-3"]
	if !ok {
		t.Fatal("no command published")
	}
	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		t.Fatalf("invalid command payload: %v", err)
	}
	if !cmd.On {
		t.Error("command should request on=true")
	}
	if cmd.ID == "" {
		t.Error("command should carry an ID")
	}

	t.Run("publish failure wraps ErrWriteFailed", func(t *testing.T) {
		bus.publishErr = errors.New("broker down")
		err := port.WritePowerState(context.Background(), "plug-3", false)
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("expected ErrWriteFailed, got %v", err)
		}
	})
}

func TestMQTTPortRequiresStart(t *testing.T) {
	port := NewMQTTPort(newMockBus(), time.Minute, 1)

	if err := port.WritePowerState(context.Background(), "tv-1", true); !errors.Is(err, ErrNotStarted) {
		t.Errorf("WritePowerState before Start: expected ErrNotStarted, got %v", err)
	}
	err := port.CreateRule(context.Background(), ReversionRule{ID: "r", DeviceID: "tv-1"})
	if !errors.Is(err, ErrNotStarted) {
		t.Errorf("CreateRule before Start: expected ErrNotStarted, got %v", err)
	}
	if err := port.RemoveRule(context.Background(), "r"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("RemoveRule before Start: expected ErrNotStarted, got %v", err)
	}
}

func TestMQTTPortRuleLifecycle(t *testing.T) {
	bus := newMockBus()
	port := startedPort(t, bus, time.Minute)

	rule := ReversionRule{
		ID:            "rule-1",
		DeviceID:      "tv-1",
		DeviceName:    "Living Room TV",
		Purpose:       RulePurpose,
		UnwantedState: true,
		CreatedAt:     time.Now().UTC(),
	}

	if err := port.CreateRule(context.Background(), rule); err != nil {
		t.Fatalf("CreateRule() error: %v", err)
	}

	if _, ok := bus.retained["lockstead/automation/rule/rule-1"]; !ok {
		t.Error("rule object not retained")
	}
	if _, ok := bus.retained["lockstead/automation/action/rule-1"]; !ok {
		t.Error("action object not retained")
	}

	rules, err := port.ListRules(context.Background())
	if err != nil {
		t.Fatalf("ListRules() error: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != "rule-1" {
		t.Fatalf("expected one cached rule, got %v", rules)
	}
	if rules[0].LockedState() {
		t.Error("locked state should be the negation of the unwanted state")
	}

	if err := port.RemoveRule(context.Background(), "rule-1"); err != nil {
		t.Fatalf("RemoveRule() error: %v", err)
	}
	if len(bus.retained) != 0 {
		t.Errorf("retained objects should be cleared, still have %v", bus.retained)
	}

	rules, err = port.ListRules(context.Background())
	if err != nil {
		t.Fatalf("ListRules() error: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("rule cache should be empty, got %v", rules)
	}

	t.Run("removing an unknown rule succeeds", func(t *testing.T) {
		if err := port.RemoveRule(context.Background(), "never-existed"); err != nil {
			t.Errorf("expected idempotent removal, got %v", err)
		}
	})
}

func TestMQTTPortCreateRuleFailureClearsAction(t *testing.T) {
	bus := newMockBus()
	port := startedPort(t, bus, time.Minute)

	bus.retainedErr = errors.New("broker rejected")
	err := port.CreateRule(context.Background(), ReversionRule{
		ID:            "rule-x",
		DeviceID:      "tv-1",
		Purpose:       RulePurpose,
		UnwantedState: true,
	})
	if !errors.Is(err, ErrRuleFailed) {
		t.Fatalf("expected ErrRuleFailed, got %v", err)
	}
	if len(bus.retained) != 0 {
		t.Error("nothing should have been retained")
	}

	rules, _ := port.ListRules(context.Background())
	if len(rules) != 0 {
		t.Errorf("failed create must not cache the rule, got %v", rules)
	}
}

func TestMQTTPortObservedRulesFromBroker(t *testing.T) {
	bus := newMockBus()
	port := startedPort(t, bus, time.Minute)

	payload, _ := json.Marshal(ReversionRule{
		DeviceID:      "heater-5",
		Purpose:       RulePurpose,
		UnwantedState: false,
	})
	bus.deliver(t, "lockstead/automation/rule/+", "lockstead/automation/rule/rule-9", payload)

	rules, err := port.ListRules(context.Background())
	if err != nil {
		t.Fatalf("ListRules() error: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected one observed rule, got %d", len(rules))
	}
	if rules[0].ID != "rule-9" {
		t.Errorf("rule ID should fall back to the topic segment, got %q", rules[0].ID)
	}
	if !rules[0].IsFeatureOwned() {
		t.Error("rule with the hold purpose should be feature owned")
	}

	t.Run("cleared rule object is evicted", func(t *testing.T) {
		bus.deliver(t, "lockstead/automation/rule/+", "lockstead/automation/rule/rule-9", nil)
		rules, _ := port.ListRules(context.Background())
		if len(rules) != 0 {
			t.Errorf("expected empty rule cache, got %v", rules)
		}
	})
}
