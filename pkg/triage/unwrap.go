package triage

import "github.com/armorclaw/errsink/pkg/errchain"

// Unwrap removes exactly one delivery envelope from raw.
// Nested envelopes beyond the first are left in place, and an envelope
// with nothing inside is returned as is.
func Unwrap(raw error) error {
	if u, ok := raw.(*errchain.UndeliverableError); ok {
		if inner := u.Unwrap(); inner != nil {
			return inner
		}
	}
	return raw
}

// Flatten unwraps raw and expands a composite into its siblings, order
// preserved. It never returns an empty slice.
func Flatten(raw error) []error {
	return siblingsOf(Unwrap(raw))
}

func siblingsOf(err error) []error {
	if siblings := errchain.Siblings(err); len(siblings) > 0 {
		return siblings
	}
	return []error{err}
}
