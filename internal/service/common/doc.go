// Package common holds helpers shared by several services.
//
// It provides a lightweight gRPC client wrapper for the timing service with
// per-call timeouts and typed replies.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
