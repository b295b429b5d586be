// Package timing contains the core domain types of the lane router.
//
// It defines Device (a taster and its telemetry), LaneState (the tagged
// binding of one lane: empty, active, active with a pending swap, or a bare
// pending taster), Press (the routed trigger) and the sentinel errors whose
// wire names are reported to API callers.
package timing
