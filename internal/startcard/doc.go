// Package startcard fetches and parses the start card CSV export of the meet
// software.
//
// The provider keeps the last good snapshot. A failed refresh records its
// error on the snapshot and returns it to the caller, but the rows, runs and
// lane count of the previous fetch stay in place. Start cards size the lane
// table and feed the display; routing never depends on them.
package startcard
