// Package errchain models errors as chains of kind-tagged links.
//
// A chain is formed by an error and the cause it wraps. Two structural
// variants sit beside plain links: a Composite owns an ordered list of
// sibling errors reported together, and an UndeliverableError marks an
// error that no listener was left to receive.
package errchain

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Error is a kind-tagged error that may wrap a cause
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind caused by cause
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// Kind returns the error's kind tag
func (e *Error) Kind() Kind {
	return e.kind
}

// Message returns the error's own message, without its cause
func (e *Error) Message() string {
	return e.message
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.message
	if msg == "" {
		msg = string(e.kind)
	}
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.cause
}

// Composite holds sibling errors reported together.
// Order is preserved from construction.
type Composite struct {
	errs []error
}

// Join returns a Composite of the non-nil errors, or nil if there are none
func Join(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &Composite{errs: kept}
}

// Kind returns KindComposite
func (c *Composite) Kind() Kind {
	return KindComposite
}

// Errors returns a copy of the siblings in order
func (c *Composite) Errors() []error {
	out := make([]error, len(c.errs))
	copy(out, c.errs)
	return out
}

// Unwrap exposes the siblings to errors.Is and errors.As
func (c *Composite) Unwrap() []error {
	return c.errs
}

// Error implements the error interface
func (c *Composite) Error() string {
	parts := make([]string, len(c.errs))
	for i, err := range c.errs {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d errors occurred: %s", len(c.errs), strings.Join(parts, "; "))
}

// UndeliverableError marks an error that could not be delivered to any
// listener. It carries no classification meaning of its own.
type UndeliverableError struct {
	cause error
}

// Undeliverable wraps err in exactly one delivery envelope.
// It returns nil for a nil error.
func Undeliverable(err error) error {
	if err == nil {
		return nil
	}
	return &UndeliverableError{cause: err}
}

// Kind returns KindUndeliverable
func (u *UndeliverableError) Kind() Kind {
	return KindUndeliverable
}

// Error implements the error interface
func (u *UndeliverableError) Error() string {
	if u.cause == nil {
		return "undeliverable error"
	}
	return "undeliverable: " + u.cause.Error()
}

// Unwrap returns the error that could not be delivered
func (u *UndeliverableError) Unwrap() error {
	return u.cause
}

// PanicError is an error built from a recovered panic value
type PanicError struct {
	value any
	cause error
	stack []byte
}

// FromPanic converts a recovered panic value into an error.
// When the value is itself an error it becomes the cause, so its kind
// (a nil dereference, for instance) stays visible to the chain walker.
func FromPanic(v any) error {
	if v == nil {
		return nil
	}
	p := &PanicError{value: v, stack: debug.Stack()}
	if err, ok := v.(error); ok {
		p.cause = err
	}
	return p
}

// Kind returns KindPanic
func (p *PanicError) Kind() Kind {
	return KindPanic
}

// Value returns the original panic value
func (p *PanicError) Value() any {
	return p.value
}

// Stack returns the goroutine stack captured at recovery
func (p *PanicError) Stack() []byte {
	return p.stack
}

// Error implements the error interface
func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// Unwrap returns the panic value when it was an error
func (p *PanicError) Unwrap() error {
	return p.cause
}
