package assignment

import (
	"errors"
	"fmt"
	"sync"

	"github.com/oshokin/stoppuhr/internal/domain/timing"
)

// errDeviceIDRequired is returned when an empty device id is bound.
var errDeviceIDRequired = fmt.Errorf("%w: device id is required", timing.ErrBadRequest)

// errInvalidMaxLane is returned when the table is sized below one lane.
var errInvalidMaxLane = errors.New("max lane must be at least 1")

// Released describes a binding dropped by Resize.
type Released struct {
	// Lane is the removed lane number.
	Lane int
	// State is the binding the lane held.
	State timing.LaneState
}

// Store is the in-memory lane table.
//
// assign clears a taster from every lane before binding it, so one RWMutex
// guards the whole table: mutations take it exclusively, lookups used by
// press routing share it.
type Store struct {
	// lanes holds lane n at index n-1.
	lanes []timing.LaneState
	// starter is the id of the starter taster, empty when unbound.
	starter string
	// mu guards lanes and starter.
	mu sync.RWMutex
}

// NewStore creates a table of maxLane empty lanes.
func NewStore(maxLane int) (*Store, error) {
	if maxLane < 1 {
		return nil, errInvalidMaxLane
	}

	return &Store{
		lanes: make([]timing.LaneState, maxLane),
	}, nil
}

// MaxLane returns the number of lanes.
func (s *Store) MaxLane() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.lanes)
}

// Assign binds deviceID to lane. The taster is first removed from every
// slot, the target lane included, then it takes the active slot if that is
// free or becomes the lane's pending taster otherwise.
func (s *Store) Assign(deviceID string, lane int) error {
	if deviceID == "" {
		return errDeviceIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLane(lane); err != nil {
		return err
	}

	// Releasing the active taster of the target lane and claiming it again
	// restores the same state, so repeated calls are idempotent.
	s.releaseLocked(deviceID)
	s.lanes[lane-1] = s.lanes[lane-1].Claim(deviceID)

	return nil
}

// Unassign clears the pending taster of lane if there is one, otherwise the active one.
func (s *Store) Unassign(lane int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLane(lane); err != nil {
		return err
	}

	s.lanes[lane-1] = s.lanes[lane-1].Unassign()

	return nil
}

// ConfirmPending promotes the pending taster of lane to active.
func (s *Store) ConfirmPending(lane int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLane(lane); err != nil {
		return err
	}

	s.lanes[lane-1] = s.lanes[lane-1].Confirm()

	return nil
}

// AssignStarter binds deviceID to the starter slot, removing it from any lane.
func (s *Store) AssignStarter(deviceID string) error {
	if deviceID == "" {
		return errDeviceIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked(deviceID)
	s.starter = deviceID

	return nil
}

// UnassignStarter clears the starter slot.
func (s *Store) UnassignStarter() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.starter = ""
}

// Starter returns the starter taster id.
func (s *Store) Starter() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.starter, s.starter != ""
}

// ResolveLane finds the binding of deviceID.
func (s *Store) ResolveLane(deviceID string) (timing.Binding, bool) {
	if deviceID == "" {
		return timing.Binding{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.starter == deviceID {
		return timing.Binding{Role: timing.RoleStarter}, true
	}

	for i, state := range s.lanes {
		if role, ok := state.RoleOf(deviceID); ok {
			return timing.Binding{Lane: i + 1, Role: role}, true
		}
	}

	return timing.Binding{}, false
}

// Snapshot returns the state of lane.
func (s *Store) Snapshot(lane int) (timing.LaneState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkLane(lane); err != nil {
		return timing.LaneState{}, err
	}

	return s.lanes[lane-1], nil
}

// Snapshots returns a copy of all lane states, lane n at index n-1.
func (s *Store) Snapshots() []timing.LaneState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]timing.LaneState, len(s.lanes))
	copy(states, s.lanes)

	return states
}

// Table returns a copy of all lane states together with the starter id,
// read under one lock so a taster never shows up in two slots.
func (s *Store) Table() ([]timing.LaneState, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]timing.LaneState, len(s.lanes))
	copy(states, s.lanes)

	return states, s.starter
}

// Resize changes the number of lanes. New lanes are empty; bindings on
// removed lanes are dropped and returned.
func (s *Store) Resize(maxLane int) ([]Released, error) {
	if maxLane < 1 {
		return nil, errInvalidMaxLane
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if maxLane >= len(s.lanes) {
		s.lanes = append(s.lanes, make([]timing.LaneState, maxLane-len(s.lanes))...)

		return nil, nil
	}

	var released []Released

	for i := maxLane; i < len(s.lanes); i++ {
		if s.lanes[i].Kind() != timing.LaneEmpty {
			released = append(released, Released{Lane: i + 1, State: s.lanes[i]})
		}
	}

	s.lanes = s.lanes[:maxLane:maxLane]

	return released, nil
}

// checkLane validates lane against the current table size. Callers hold mu.
func (s *Store) checkLane(lane int) error {
	if lane < 1 || lane > len(s.lanes) {
		return fmt.Errorf("%w: lane %d not in [1, %d]", timing.ErrLaneOutOfRange, lane, len(s.lanes))
	}

	return nil
}

// releaseLocked removes deviceID from every slot. Callers hold mu exclusively.
func (s *Store) releaseLocked(deviceID string) {
	if s.starter == deviceID {
		s.starter = ""
	}

	for i, state := range s.lanes {
		s.lanes[i] = state.Release(deviceID)
	}
}
