// Package control provides the device control port, the single surface the
// rest of the daemon uses to talk to the smart-home platform.
//
// The Port interface covers two concerns: reading and writing device power
// states, and managing the reversion rules that keep a locked device pinned
// to its state between reconciliation passes. MQTTPort implements it over the
// lockstead MQTT namespace, where device bridges publish retained state
// reports and automation objects live as retained messages.
//
// A reversion rule and its auxiliary action object are installed and removed
// as a pair. The action object carries the write-back instruction, so a rule
// removal that skips the action leaves a live trigger behind. MQTTPort always
// clears both.
package control
