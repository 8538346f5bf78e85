package triage

// Action is what the sink does with an error
type Action int

const (
	Drop Action = iota
	LogOnly
	Escalate
)

// String implements fmt.Stringer
func (a Action) String() string {
	switch a {
	case LogOnly:
		return "log"
	case Escalate:
		return "escalate"
	default:
		return "drop"
	}
}

// Decide maps a classification and the debug reporting toggle to an action:
//   - Ignorable: Drop
//   - Critical: Escalate, whatever the toggle
//   - Unclassified: Escalate when debug is on, LogOnly otherwise
func Decide(c Classification, debug bool) Action {
	switch c {
	case Ignorable:
		return Drop
	case Critical:
		return Escalate
	}
	if debug {
		return Escalate
	}
	return LogOnly
}
