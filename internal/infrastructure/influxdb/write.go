package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCorrection records a corrective write made by the enforcement loop.
//
// One point per correction makes drift visible over time: a device that needs
// constant correcting usually has a competing automation or a flaky bridge.
//
// Parameters:
//   - deviceID: The corrected device
//   - lockedState: The state that was re-asserted
func (c *Client) WriteCorrection(deviceID string, lockedState bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"lock_corrections",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"locked_state": lockedState,
			"count":        1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteRulePurge records a forced purge of platform automation rules.
//
// Purges are self-healing maintenance, not failures, but their frequency is
// the main signal that rule objects are leaking on the platform side.
//
// Parameters:
//   - removed: How many rule/action objects the purge deleted
//   - trigger: What forced the purge ("total_ceiling", "feature_ceiling", "manual")
func (c *Client) WriteRulePurge(removed int, trigger string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"rule_purges",
		map[string]string{
			"trigger": trigger,
		},
		map[string]interface{}{
			"removed": removed,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSyncCycle records the outcome of a remote store sync cycle.
//
// Parameters:
//   - status: "ok" or "failed"
//   - locks: Number of shared locks fetched
//   - members: Number of family members fetched
//   - duration: Wall-clock time of the cycle
func (c *Client) WriteSyncCycle(status string, locks, members int, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sync_cycles",
		map[string]string{
			"status": status,
		},
		map[string]interface{}{
			"locks":       locks,
			"members":     members,
			"duration_ms": duration.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteActiveLocks records a gauge of currently enforced locks.
func (c *Client) WriteActiveLocks(count int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"active_locks",
		nil,
		map[string]interface{}{
			"count": count,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
