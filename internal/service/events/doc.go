// Package events fans routed presses and mapping changes out to display
// subscribers such as the server-sent events endpoint.
package events
