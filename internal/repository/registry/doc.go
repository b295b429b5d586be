// Package registry keeps the latest known set of tasters.
//
// Records arrive from heartbeats (HTTP, MQTT or seeds) and are merged by MAC.
// Devices are never removed; callers decide staleness from LastSeen.
package registry
