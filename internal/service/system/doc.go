// Package system reports the health of the host the lane router runs on:
// host identity, uptime, Go runtime figures and whether configured helper
// processes (e.g. the MQTT broker) are running.
package system
