package mqtt

import (
	"strconv"
	"strings"
)

// Topic leaves under a taster.
const (
	leafHeartbeat = "heartbeat"
	leafPress     = "press"
)

// Topics builds topic names under a common prefix.
type Topics struct {
	// Prefix is the root topic, without trailing slash.
	Prefix string
}

// TasterHeartbeats matches heartbeats of every taster.
func (t Topics) TasterHeartbeats() string {
	return t.Prefix + "/taster/+/" + leafHeartbeat
}

// TasterPresses matches presses of every taster.
func (t Topics) TasterPresses() string {
	return t.Prefix + "/taster/+/" + leafPress
}

// LanePress is where resolved presses of lane are published.
func (t Topics) LanePress(lane int) string {
	return t.Prefix + "/lane/" + strconv.Itoa(lane) + "/" + leafPress
}

// StarterPress is where resolved starter presses are published.
func (t Topics) StarterPress() string {
	return t.Prefix + "/starter/" + leafPress
}

// ParseTasterTopic extracts the MAC and the leaf from <prefix>/taster/<mac>/<leaf>.
func (t Topics) ParseTasterTopic(topic string) (mac, leaf string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix+"/taster/")
	if !found {
		return "", "", false
	}

	mac, leaf, found = strings.Cut(rest, "/")
	if !found || mac == "" || strings.Contains(leaf, "/") {
		return "", "", false
	}

	return mac, leaf, true
}
