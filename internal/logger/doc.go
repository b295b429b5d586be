// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level parsing and a per-logger level override option,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Every service in the lane router takes a context and logs through the
// logger stored in it, so request-scoped fields such as the device MAC or
// lane follow a press through the whole routing path.
package logger
