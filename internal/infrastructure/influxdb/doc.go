// Package influxdb records enforcement diagnostics to InfluxDB.
//
// Everything the reconciliation loop and sync coordinator absorb silently
// (corrective writes, forced rule purges, sync cycle outcomes) is countable
// here. The integration is optional; when disabled, callers hold a nil
// client and the recording interfaces no-op.
package influxdb
