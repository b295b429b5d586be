// Package mqtt connects the lane router to the taster fleet over an MQTT broker.
//
// Tasters publish heartbeats and presses under <prefix>/taster/<mac>/...; the
// Consumer feeds them into the registry and the press router, and forwards
// every resolved press to <prefix>/lane/<lane>/press (or <prefix>/starter/press).
package mqtt
