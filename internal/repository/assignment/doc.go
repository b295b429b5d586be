// Package assignment implements the lane table that binds tasters to lanes.
//
// Each lane is a timing.LaneState. A taster is active in at most one lane
// and pending in at most one lane; assigning it anywhere first clears it
// everywhere. The table lives for the process lifetime only.
package assignment
