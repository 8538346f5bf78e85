package errchain

import "errors"

// MaxChainDepth bounds how many links are followed. Chains built from this
// package are acyclic; the bound covers foreign errors that unwrap to
// themselves.
const MaxChainDepth = 64

// Link is one element of a cause chain
type Link struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`
}

// Walk calls fn for err and each single wrapped cause in turn until fn
// returns false, the chain ends, or MaxChainDepth links were visited.
// Composite siblings are not entered.
func Walk(err error, fn func(depth int, link error) bool) {
	for depth := 0; err != nil && depth < MaxChainDepth; depth++ {
		if !fn(depth, err) {
			return
		}
		err = errors.Unwrap(err)
	}
}

// ChainContainsAnyOf reports whether err or any error in its cause chain
// has a kind in set
func ChainContainsAnyOf(err error, set KindSet) bool {
	found := false
	Walk(err, func(_ int, link error) bool {
		found = set.Contains(KindOf(link))
		return !found
	})
	return found
}

// Links returns the kind and own message of every link in err's chain
func Links(err error) []Link {
	var links []Link
	Walk(err, func(_ int, link error) bool {
		links = append(links, Link{Kind: KindOf(link), Message: ownMessage(link)})
		return true
	})
	return links
}

// Siblings returns the sibling errors of a composite, or nil when err is
// not one. Any error exposing Unwrap() []error counts as a composite.
func Siblings(err error) []error {
	if c, ok := err.(*Composite); ok {
		return c.Errors()
	}
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		return multi.Unwrap()
	}
	return nil
}

func ownMessage(err error) string {
	switch e := err.(type) {
	case *Error:
		return e.message
	case *UndeliverableError:
		return ""
	case *PanicError:
		return e.Error()
	}
	return err.Error()
}
