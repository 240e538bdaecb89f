// Package config loads and validates Lockstead Core configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults, and
// finally overridden by LOCKSTEAD_* environment variables. Validation runs
// last so that every source has had its say before errors are reported.
//
// Secrets (JWT signing key, MQTT password, remote store token, InfluxDB
// token) should be supplied via environment variables rather than the YAML
// file so they stay out of version control.
package config
