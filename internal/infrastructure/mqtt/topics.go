package mqtt

import "fmt"

// Topic prefixes for the Lockstead MQTT namespace.
//
// Device bridges publish retained boolean power states and accept JSON
// command payloads. Reversion rules and their auxiliary action objects live
// as retained platform objects under the automation prefix; clearing the
// retained payload deletes the object.
const (
	// TopicPrefix is the base for all Lockstead topics.
	TopicPrefix = "lockstead"

	// TopicPrefixAutomation is the base for platform automation objects.
	TopicPrefixAutomation = "lockstead/automation"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "lockstead/system"
)

// Topics provides builders for Lockstead MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// DeviceState returns the retained state topic for a device.
//
// Example: lockstead/state/outlet-nursery
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// DeviceCommand returns the command topic for a device.
//
// Example: lockstead/command/outlet-nursery
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// AutomationRule returns the retained topic holding a reversion rule object.
//
// Example: lockstead/automation/rule/rul-1a2b3c4d
func (Topics) AutomationRule(ruleID string) string {
	return fmt.Sprintf("%s/rule/%s", TopicPrefixAutomation, ruleID)
}

// AutomationAction returns the retained topic holding the auxiliary action
// object a reversion rule depends on.
//
// Example: lockstead/automation/action/rul-1a2b3c4d
func (Topics) AutomationAction(ruleID string) string {
	return fmt.Sprintf("%s/action/%s", TopicPrefixAutomation, ruleID)
}

// SystemStatus returns the system status topic.
//
// Example: lockstead/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceStates returns a pattern matching all device state topics.
//
// Pattern: lockstead/state/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllAutomationRules returns a pattern matching all reversion rule objects.
//
// Pattern: lockstead/automation/rule/+
func (Topics) AllAutomationRules() string {
	return fmt.Sprintf("%s/rule/+", TopicPrefixAutomation)
}

// AllAutomationActions returns a pattern matching all auxiliary action objects.
//
// Pattern: lockstead/automation/action/+
func (Topics) AllAutomationActions() string {
	return fmt.Sprintf("%s/action/+", TopicPrefixAutomation)
}
