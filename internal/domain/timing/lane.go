package timing

// LaneKind tags the shape of a lane binding.
type LaneKind uint8

const (
	// LaneEmpty has neither an active nor a pending taster.
	LaneEmpty LaneKind = iota
	// LaneActive has an active taster only.
	LaneActive
	// LaneSwap has an active taster and a different pending one.
	LaneSwap
	// LanePending has a pending taster whose active predecessor was moved away.
	LanePending
)

// String returns the lower-case name of the kind.
func (k LaneKind) String() string {
	switch k {
	case LaneEmpty:
		return "empty"
	case LaneActive:
		return "active"
	case LaneSwap:
		return "swap"
	case LanePending:
		return "pending"
	default:
		return "unknown"
	}
}

// Role is the part a taster plays in its binding.
type Role string

const (
	// RoleActive authorises presses for the lane.
	RoleActive Role = "active"
	// RolePending is a proposed replacement awaiting confirmation.
	RolePending Role = "pending"
	// RoleStarter is the start signal taster outside the lane space.
	RoleStarter Role = "starter"
)

// Binding locates a taster in the assignment table.
// Lane is zero for the starter.
type Binding struct {
	Lane int
	Role Role
}

// LaneState is the binding of one lane. The zero value is an empty lane.
// Only the constructors below build states, so an active taster equal to
// the pending one cannot be represented.
type LaneState struct {
	kind    LaneKind
	active  string
	pending string
}

// EmptyLane returns a lane without tasters.
func EmptyLane() LaneState {
	return LaneState{}
}

// ActiveLane returns a lane bound to id.
func ActiveLane(id string) LaneState {
	if id == "" {
		return EmptyLane()
	}

	return LaneState{kind: LaneActive, active: id}
}

// SwapLane returns a lane bound to active with pending proposed as replacement.
// Equal ids collapse into an active lane.
func SwapLane(active, pending string) LaneState {
	switch {
	case active == "":
		return PendingLane(pending)
	case pending == "" || pending == active:
		return ActiveLane(active)
	default:
		return LaneState{kind: LaneSwap, active: active, pending: pending}
	}
}

// PendingLane returns a lane holding only a pending taster.
func PendingLane(id string) LaneState {
	if id == "" {
		return EmptyLane()
	}

	return LaneState{kind: LanePending, pending: id}
}

// Kind returns the shape of the lane.
func (s LaneState) Kind() LaneKind {
	return s.kind
}

// Active returns the active taster id.
func (s LaneState) Active() (string, bool) {
	return s.active, s.active != ""
}

// Pending returns the pending taster id.
func (s LaneState) Pending() (string, bool) {
	return s.pending, s.pending != ""
}

// RoleOf reports the role id plays in the lane.
func (s LaneState) RoleOf(id string) (Role, bool) {
	switch {
	case id == "":
		return "", false
	case s.active == id:
		return RoleActive, true
	case s.pending == id:
		return RolePending, true
	default:
		return "", false
	}
}

// Release removes id from the lane in whatever role it holds.
func (s LaneState) Release(id string) LaneState {
	switch role, ok := s.RoleOf(id); {
	case !ok:
		return s
	case role == RoleActive:
		return PendingLane(s.pending)
	default:
		return ActiveLane(s.active)
	}
}

// Claim binds id to the lane: an empty active slot takes it, the current
// active taster keeps the lane otherwise and id becomes the pending one,
// replacing any earlier proposal.
func (s LaneState) Claim(id string) LaneState {
	switch {
	case id == "" || s.active == id:
		return s
	case s.active == "":
		return SwapLane(id, s.pending)
	default:
		return SwapLane(s.active, id)
	}
}

// Unassign drops the most recent proposal first: a pending taster is
// removed, otherwise the active one.
func (s LaneState) Unassign() LaneState {
	if s.pending != "" {
		return ActiveLane(s.active)
	}

	return EmptyLane()
}

// Confirm promotes the pending taster to active.
func (s LaneState) Confirm() LaneState {
	if s.pending == "" {
		return s
	}

	return ActiveLane(s.pending)
}
