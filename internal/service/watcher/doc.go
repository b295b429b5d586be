// Package watcher implements the lane-watch command, which polls the lane
// table of a router over gRPC and logs every change.
package watcher
