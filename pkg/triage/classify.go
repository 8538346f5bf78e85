package triage

import "github.com/armorclaw/errsink/pkg/errchain"

// Classification is the verdict for a single error
type Classification int

const (
	Unclassified Classification = iota
	Ignorable
	Critical
)

// String implements fmt.Stringer
func (c Classification) String() string {
	switch c {
	case Ignorable:
		return "ignorable"
	case Critical:
		return "critical"
	default:
		return "unclassified"
	}
}

// Rules holds the kinds that make an error ignorable or critical.
// A Rules value is built once at startup and only read afterwards.
type Rules struct {
	Ignorable errchain.KindSet
	Critical  errchain.KindSet
}

// DefaultIgnorableKinds are transient conditions not worth a report
var DefaultIgnorableKinds = []errchain.Kind{
	errchain.KindIO,
	errchain.KindConnectionReset,
	errchain.KindInterrupted,
	errchain.KindInterruptedIO,
}

// DefaultCriticalKinds are defect signatures that are always reported
var DefaultCriticalKinds = []errchain.Kind{
	errchain.KindNullReference,
	errchain.KindInvalidArgument,
	errchain.KindOnErrorNotImplemented,
	errchain.KindMissingBackpressure,
	errchain.KindInvalidState,
}

// NewRules builds rules from kind lists
func NewRules(ignorable, critical []errchain.Kind) Rules {
	return Rules{
		Ignorable: errchain.NewKindSet(ignorable...),
		Critical:  errchain.NewKindSet(critical...),
	}
}

// DefaultRules returns the rules shipped with the sink
func DefaultRules() Rules {
	return NewRules(DefaultIgnorableKinds, DefaultCriticalKinds)
}

// Classifier applies Rules to single errors. It holds no mutable state.
type Classifier struct {
	rules Rules
}

// NewClassifier creates a classifier for the given rules
func NewClassifier(rules Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Classify checks err's cause chain against the ignorable kinds first,
// then the critical kinds
func (c *Classifier) Classify(err error) Classification {
	if errchain.ChainContainsAnyOf(err, c.rules.Ignorable) {
		return Ignorable
	}
	if errchain.ChainContainsAnyOf(err, c.rules.Critical) {
		return Critical
	}
	return Unclassified
}

// Rules returns the classifier's rules
func (c *Classifier) Rules() Rules {
	return c.rules
}
