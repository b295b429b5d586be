// Package client implements the taster-press command.
//
// The command reports one press to the lane router over gRPC. The press time
// is taken once, before the first attempt, so retries after transport
// failures keep the original timestamp.
package client
