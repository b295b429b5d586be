// Package config defines the settings used by the lane router binaries and
// provides helpers to load, validate and save them in YAML format.
//
// Validate fills defaults (listen addresses, lane count, stale window,
// start card suffix, MQTT topic prefix) so callers can rely on every field.
package config
