package errchain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Node is the JSON form of an error chain.
// Plain links set Kind, Message and Cause; composites set Kind to
// "composite" and list Errors; delivery envelopes set Kind to
// "undeliverable" and Cause.
type Node struct {
	Kind    Kind    `json:"kind"`
	Message string  `json:"message,omitempty"`
	Cause   *Node   `json:"cause,omitempty"`
	Errors  []*Node `json:"errors,omitempty"`
}

// Encode converts err into its JSON form. It returns nil for a nil error.
func Encode(err error) *Node {
	return encode(err, 0)
}

func encode(err error, depth int) *Node {
	if err == nil || depth >= MaxChainDepth {
		return nil
	}

	if siblings := Siblings(err); siblings != nil {
		n := &Node{Kind: KindComposite}
		for _, s := range siblings {
			if child := encode(s, depth+1); child != nil {
				n.Errors = append(n.Errors, child)
			}
		}
		return n
	}

	return &Node{
		Kind:    KindOf(err),
		Message: ownMessage(err),
		Cause:   encode(errors.Unwrap(err), depth+1),
	}
}

// Validate checks that every node has a kind, that composites are not
// empty, and that nesting stays within MaxChainDepth
func (n *Node) Validate() error {
	return n.validate(0)
}

func (n *Node) validate(depth int) error {
	if depth >= MaxChainDepth {
		return fmt.Errorf("error chain deeper than %d links", MaxChainDepth)
	}
	if n.Kind == "" {
		return fmt.Errorf("kind is required at depth %d", depth)
	}
	if n.Kind == KindComposite {
		if len(n.Errors) == 0 {
			return fmt.Errorf("composite at depth %d has no errors", depth)
		}
		if n.Cause != nil {
			return fmt.Errorf("composite at depth %d cannot have a cause", depth)
		}
	} else if len(n.Errors) > 0 {
		return fmt.Errorf("only composites may list errors (kind %q at depth %d)", n.Kind, depth)
	}
	for _, child := range n.Errors {
		if child == nil {
			return fmt.Errorf("null sibling at depth %d", depth)
		}
		if err := child.validate(depth + 1); err != nil {
			return err
		}
	}
	if n.Cause != nil {
		return n.Cause.validate(depth + 1)
	}
	return nil
}

// ToError rebuilds typed error values from the node
func (n *Node) ToError() error {
	if n == nil {
		return nil
	}

	switch n.Kind {
	case KindComposite:
		siblings := make([]error, 0, len(n.Errors))
		for _, child := range n.Errors {
			siblings = append(siblings, child.ToError())
		}
		if joined := Join(siblings...); joined != nil {
			return joined
		}
		return New(KindComposite, n.Message)
	case KindUndeliverable:
		if n.Cause == nil {
			return &UndeliverableError{}
		}
		return Undeliverable(n.Cause.ToError())
	}

	return Wrap(n.Kind, n.Message, n.Cause.ToError())
}

// Unmarshal decodes and validates a JSON error chain
func Unmarshal(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("invalid error chain: %w", err)
	}
	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("invalid error chain: %w", err)
	}
	return &n, nil
}
