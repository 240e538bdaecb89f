package control

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lockstead/lockstead-core/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by the MQTTPort.
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

// MessageBus is the MQTT surface the port needs. It matches the
// infrastructure client through a thin adapter at wiring time.
type MessageBus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	ClearRetained(topic string) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
}

// stateEntry is a cached device state report.
type stateEntry struct {
	on     bool
	seenAt time.Time
}

// stateReport is the payload device bridges publish on state topics.
type stateReport struct {
	On bool `json:"on"`
}

// command is the payload published to device command topics.
type command struct {
	ID     string `json:"id"`
	On     bool   `json:"on"`
	Source string `json:"source"`
}

// actionObject is the auxiliary platform object a reversion rule depends on.
// It carries the write-back instruction separately from the trigger, which is
// why a rule removal must clear both topics or the action leaks.
type actionObject struct {
	RuleID     string `json:"rule_id"`
	DeviceID   string `json:"device_id"`
	WriteState bool   `json:"write_state"`
	Purpose    string `json:"purpose"`
}

// MQTTPort implements Port over the Lockstead MQTT namespace.
//
// Device bridges publish retained boolean states on lockstead/state/{device};
// the port caches them and treats entries older than the freshness window as
// unreadable. Reversion rules and their action objects are retained messages
// under lockstead/automation/, mirroring how the platform stores automation
// objects: create publishes, delete clears the retained payload.
//
// Thread Safety: all methods are safe for concurrent use.
type MQTTPort struct {
	bus       MessageBus
	freshness time.Duration
	qos       byte
	logger    Logger

	mu      sync.RWMutex
	states  map[string]stateEntry
	rules   map[string]ReversionRule
	started bool
}

// NewMQTTPort creates a device control port over the given message bus.
//
// Parameters:
//   - bus: MQTT client adapter
//   - freshness: How long a retained state report stays trustworthy.
//     Zero disables the staleness check.
//   - qos: QoS level for command publishes
func NewMQTTPort(bus MessageBus, freshness time.Duration, qos byte) *MQTTPort {
	return &MQTTPort{
		bus:       bus,
		freshness: freshness,
		qos:       qos,
		logger:    noopLogger{},
		states:    make(map[string]stateEntry),
		rules:     make(map[string]ReversionRule),
	}
}

// SetLogger sets the logger for the port.
func (p *MQTTPort) SetLogger(logger Logger) {
	p.logger = logger
}

// Start subscribes to the state and rule topics and begins caching.
//
// Retained messages arrive immediately after subscribing, so the caches are
// warm within one broker round-trip of startup.
func (p *MQTTPort) Start(ctx context.Context) error {
	topics := mqtt.Topics{}

	if err := p.bus.Subscribe(topics.AllDeviceStates(), p.qos, p.handleStateMessage); err != nil {
		return fmt.Errorf("subscribing to device states: %w", err)
	}
	if err := p.bus.Subscribe(topics.AllAutomationRules(), p.qos, p.handleRuleMessage); err != nil {
		return fmt.Errorf("subscribing to automation rules: %w", err)
	}

	p.mu.Lock()
	p.started = true
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}

// handleStateMessage caches a device state report.
func (p *MQTTPort) handleStateMessage(topic string, payload []byte) error {
	deviceID := lastSegment(topic)
	if deviceID == "" {
		return nil
	}

	if len(payload) == 0 {
		// Cleared retained state: the bridge no longer knows this device.
		p.mu.Lock()
		delete(p.states, deviceID)
		p.mu.Unlock()
		return nil
	}

	var report stateReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return fmt.Errorf("parsing state report for %q: %w", deviceID, err)
	}

	p.mu.Lock()
	p.states[deviceID] = stateEntry{on: report.On, seenAt: time.Now()}
	p.mu.Unlock()

	p.logger.Debug("device state cached", "device_id", deviceID, "on", report.On)
	return nil
}

// handleRuleMessage caches or evicts a reversion rule object.
func (p *MQTTPort) handleRuleMessage(topic string, payload []byte) error {
	ruleID := lastSegment(topic)
	if ruleID == "" {
		return nil
	}

	if len(payload) == 0 {
		p.mu.Lock()
		delete(p.rules, ruleID)
		p.mu.Unlock()
		return nil
	}

	var rule ReversionRule
	if err := json.Unmarshal(payload, &rule); err != nil {
		return fmt.Errorf("parsing rule object %q: %w", ruleID, err)
	}
	if rule.ID == "" {
		rule.ID = ruleID
	}

	p.mu.Lock()
	p.rules[ruleID] = rule
	p.mu.Unlock()

	return nil
}

// ReadPowerState returns the cached state for a device, or nil when the
// device is unknown or its report is older than the freshness window.
func (p *MQTTPort) ReadPowerState(_ context.Context, deviceID string) (*bool, error) {
	p.mu.RLock()
	entry, ok := p.states[deviceID]
	p.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if p.freshness > 0 && time.Since(entry.seenAt) > p.freshness {
		return nil, nil
	}

	on := entry.on
	return &on, nil
}

// WritePowerState publishes a command to set the device's power state.
func (p *MQTTPort) WritePowerState(_ context.Context, deviceID string, on bool) error {
	if !p.isStarted() {
		return ErrNotStarted
	}

	cmd := command{
		ID:     "cmd-" + uuid.NewString()[:8],
		On:     on,
		Source: "lockstead-core",
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshalling command: %w", err)
	}

	topic := mqtt.Topics{}.DeviceCommand(deviceID)
	if err := p.bus.Publish(topic, payload, p.qos, false); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	p.logger.Debug("power command published", "device_id", deviceID, "on", on)
	return nil
}

// HasDevice reports whether the device has a cached state report, fresh or not.
func (p *MQTTPort) HasDevice(deviceID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.states[deviceID]
	return ok
}

// CreateRule installs a reversion rule and its auxiliary action object as
// retained platform objects.
func (p *MQTTPort) CreateRule(_ context.Context, rule ReversionRule) error {
	if !p.isStarted() {
		return ErrNotStarted
	}

	topics := mqtt.Topics{}

	rulePayload, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshalling rule: %w", err)
	}

	action := actionObject{
		RuleID:     rule.ID,
		DeviceID:   rule.DeviceID,
		WriteState: rule.LockedState(),
		Purpose:    rule.Purpose,
	}
	actionPayload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshalling action: %w", err)
	}

	if err := p.bus.PublishRetained(topics.AutomationAction(rule.ID), actionPayload); err != nil {
		return fmt.Errorf("%w: publishing action: %w", ErrRuleFailed, err)
	}
	if err := p.bus.PublishRetained(topics.AutomationRule(rule.ID), rulePayload); err != nil {
		// Tear the action back down so a half-installed pair doesn't leak.
		if clearErr := p.bus.ClearRetained(topics.AutomationAction(rule.ID)); clearErr != nil {
			p.logger.Warn("orphaned action object after failed rule publish",
				"rule_id", rule.ID, "error", clearErr)
		}
		return fmt.Errorf("%w: publishing rule: %w", ErrRuleFailed, err)
	}

	p.mu.Lock()
	p.rules[rule.ID] = rule
	p.mu.Unlock()

	return nil
}

// RemoveRule clears a rule and its action object. Unknown rules are success.
func (p *MQTTPort) RemoveRule(_ context.Context, ruleID string) error {
	if !p.isStarted() {
		return ErrNotStarted
	}

	topics := mqtt.Topics{}

	if err := p.bus.ClearRetained(topics.AutomationRule(ruleID)); err != nil {
		return fmt.Errorf("%w: clearing rule: %w", ErrRuleFailed, err)
	}
	if err := p.bus.ClearRetained(topics.AutomationAction(ruleID)); err != nil {
		return fmt.Errorf("%w: clearing action: %w", ErrRuleFailed, err)
	}

	p.mu.Lock()
	delete(p.rules, ruleID)
	p.mu.Unlock()

	return nil
}

// ListRules returns a snapshot of every installed reversion rule.
func (p *MQTTPort) ListRules(_ context.Context) ([]ReversionRule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rules := make([]ReversionRule, 0, len(p.rules))
	for _, r := range p.rules {
		rules = append(rules, r)
	}
	return rules, nil
}

func (p *MQTTPort) isStarted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

// lastSegment returns the final path segment of an MQTT topic.
func lastSegment(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
