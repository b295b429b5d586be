// Package timing implements the JSON HTTP API used by the operator UI.
//
// Handlers translate requests into service calls and domain failures into
// {"ok": false, "error": "<Kind>"} responses. Presses and mapping changes
// are streamed to displays as server-sent events.
package timing
