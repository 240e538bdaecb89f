// Package bridge manages the automation rules that hold locked devices in
// place on the smart-home platform.
//
// Each locked device gets one reversion rule, installed through the control
// port, that triggers on the unwanted power state and writes the locked
// state back. The bridge owns rule hygiene: per-device replacement so a
// device never carries two holds, and ceiling-based purges that stop rule
// and action objects from accumulating when creation and removal fall out
// of step.
//
// Purges are reported through the Recorder so operators can watch the leak
// rate over time.
package bridge
