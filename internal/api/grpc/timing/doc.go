// Package timing implements the gRPC transport of the lane router.
//
// The service stoppuhr.v1.TimingService is described by hand: every method
// takes and returns a google.protobuf.Struct whose fields mirror the JSON
// HTTP contract. Domain failures travel in the reply as {"ok": false,
// "error": "<Kind>"}; only malformed requests fail with a gRPC status.
package timing
