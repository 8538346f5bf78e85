package config

import "sync/atomic"

// Toggle holds the debug reporting flag. It can be flipped at runtime, for
// instance on a config reload, and is safe for concurrent use.
type Toggle struct {
	debug atomic.Bool
}

// NewToggle creates a toggle with the given initial value
func NewToggle(debug bool) *Toggle {
	t := &Toggle{}
	t.debug.Store(debug)
	return t
}

// DebugReportingEnabled reports whether unclassified errors are escalated
func (t *Toggle) DebugReportingEnabled() bool {
	return t.debug.Load()
}

// Set changes the flag and returns the previous value
func (t *Toggle) Set(debug bool) bool {
	return t.debug.Swap(debug)
}
