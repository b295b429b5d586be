package timing

// LaneView is one lane of the table with its tasters resolved for display.
type LaneView struct {
	// Lane is the lane number.
	Lane int
	// Active is the taster with timing authority, nil when none.
	Active *Device
	// Pending is the proposed replacement, nil when none.
	Pending *Device
}

// Mapping is the display view of the whole assignment table.
type Mapping struct {
	// MaxLane is the number of lanes.
	MaxLane int
	// Lanes holds lane n at index n-1.
	Lanes []LaneView
	// Starter is the starter taster, nil when none.
	Starter *Device
	// Unmapped are the registered tasters without any binding.
	Unmapped []*Device
	// CurrentRun is the selected heat, empty when none.
	CurrentRun string
}
