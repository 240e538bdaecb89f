// Package mqtt provides MQTT client connectivity for Lockstead Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the transport between Lockstead Core and the device bridges that
// actually touch hardware. Bridges publish retained boolean power states,
// accept command payloads, and honour the retained automation objects that
// represent reversion rules:
//
//	Lockstead Core ↔ MQTT Broker ↔ Device Bridges
//
// The engine never assumes the command or the reversion rule succeeded; the
// reconciliation loop re-reads retained state and corrects drift regardless.
package mqtt
