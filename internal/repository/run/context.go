package run

import (
	"strings"
	"sync"
)

// Context is the current-run pointer. The zero value has no run selected.
type Context struct {
	// current is the selected run, empty when none is.
	current string
	// mu guards current.
	mu sync.RWMutex
}

// New creates a run context with no run selected.
func New() *Context {
	return new(Context)
}

// Current returns the selected run.
func (c *Context) Current() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.current, c.current != ""
}

// SetCurrent selects value as the current run. Any non-empty value is
// accepted, whether or not start cards know it; a blank value clears the
// selection. It returns the stored value.
func (c *Context) SetCurrent(value string) string {
	value = strings.TrimSpace(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = value

	return value
}
