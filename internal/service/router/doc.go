// Package router turns a raw taster press into a lane and run qualified event.
//
// The router owns no state. It reads the device registry, the assignment
// store and the run context through small interfaces so it can be tested
// without a running process.
package router
