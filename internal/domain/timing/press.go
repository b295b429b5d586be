package timing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Press is the outcome of routing one trigger. It is never stored.
type Press struct {
	// ID identifies the event for display subscribers.
	ID string
	// MAC is the normalised address of the pressing taster, or the raw input
	// when it could not be parsed.
	MAC string
	// TS is the press time in milliseconds since the Unix epoch.
	TS int64
	// StopwatchMS is the stopwatch reading sent along with the press.
	StopwatchMS *int64
	// Lane is the routed lane, zero when there is none.
	Lane int
	// Run is the current heat, empty when none is selected.
	Run string
	// Starter is set when the starter taster pressed.
	Starter bool
	// Err is the routing failure, nil on success.
	Err error
}

// OK reports whether the press was routed.
func (p *Press) OK() bool {
	return p.Err == nil
}

// Kind returns the wire name of the failure, empty on success.
func (p *Press) Kind() Kind {
	return KindOf(p.Err)
}

// StarterLane is the lane token addressing the starter slot.
const StarterLane = "starter"

// errLaneSyntax is returned when a lane token is neither a number nor "starter".
var errLaneSyntax = errors.New("lane must be a number or \"starter\"")

// Target is the slot an operator action refers to.
type Target struct {
	// Lane is the lane number, zero for the starter.
	Lane int
	// Starter addresses the starter slot.
	Starter bool
}

// String renders the target the way the API accepts it.
func (t Target) String() string {
	if t.Starter {
		return StarterLane
	}

	return strconv.Itoa(t.Lane)
}

// ParseTarget parses "3", " 3 " or "starter".
// Range checks are left to the assignment store, which knows maxLane.
func ParseTarget(raw string) (Target, error) {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == StarterLane {
		return Target{Starter: true}, nil
	}

	lane, err := strconv.Atoi(token)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %w: %q", ErrBadRequest, errLaneSyntax, raw)
	}

	return Target{Lane: lane}, nil
}
