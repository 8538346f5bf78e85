package errchain

import (
	"fmt"
	"sort"
	"sync"
)

// Kind identifies the class of a single link in an error chain.
// Kinds form a tree through their registered parent, so a set holding
// a parent kind also matches every kind that descends from it.
type Kind string

// Built-in kinds
const (
	KindUnknown Kind = "unknown"

	// Transient conditions
	KindIO              Kind = "io"
	KindConnectionReset Kind = "connection_reset"
	KindInterrupted     Kind = "interrupted"
	KindInterruptedIO   Kind = "interrupted_io"
	KindTimeout         Kind = "timeout"

	// Defect signatures
	KindNullReference         Kind = "null_reference"
	KindInvalidArgument       Kind = "invalid_argument"
	KindOnErrorNotImplemented Kind = "on_error_not_implemented"
	KindMissingBackpressure   Kind = "missing_backpressure"
	KindInvalidState          Kind = "invalid_state"

	// Structural kinds
	KindUndeliverable Kind = "undeliverable"
	KindComposite     Kind = "composite"
	KindPanic         Kind = "panic"
)

// KindDefinition describes a registered kind
type KindDefinition struct {
	Kind   Kind   `json:"kind"`
	Parent Kind   `json:"parent,omitempty"`
	Help   string `json:"help,omitempty"`
}

var (
	kinds   = make(map[Kind]KindDefinition)
	kindsMu sync.RWMutex
)

var defaultKinds = []KindDefinition{
	{Kind: KindUnknown, Help: "error with no recognized kind"},
	{Kind: KindIO, Help: "input/output failure"},
	{Kind: KindConnectionReset, Parent: KindIO, Help: "connection reset or aborted by peer"},
	{Kind: KindInterrupted, Help: "blocked operation interrupted"},
	{Kind: KindInterruptedIO, Parent: KindIO, Help: "blocked I/O operation interrupted"},
	{Kind: KindTimeout, Parent: KindInterruptedIO, Help: "I/O deadline exceeded"},
	{Kind: KindNullReference, Help: "nil reference dereferenced"},
	{Kind: KindInvalidArgument, Help: "invalid argument passed to a function"},
	{Kind: KindOnErrorNotImplemented, Help: "asynchronous pipeline has no error handler"},
	{Kind: KindMissingBackpressure, Help: "producer outpaced consumer capacity"},
	{Kind: KindInvalidState, Help: "operation invoked in an invalid state"},
	{Kind: KindUndeliverable, Help: "error could not be delivered to any listener"},
	{Kind: KindComposite, Help: "several errors reported together"},
	{Kind: KindPanic, Help: "recovered panic"},
}

func init() {
	for _, def := range defaultKinds {
		kinds[def.Kind] = def
	}
}

// Register adds or replaces a kind definition.
// The parent, when set, must already be registered and must not descend
// from the kind being registered. Register is meant to be called during
// startup, before any error is classified.
func Register(def KindDefinition) error {
	if def.Kind == "" {
		return fmt.Errorf("kind is required")
	}

	kindsMu.Lock()
	defer kindsMu.Unlock()

	if def.Parent != "" {
		if _, ok := kinds[def.Parent]; !ok {
			return fmt.Errorf("parent kind %q is not registered", def.Parent)
		}
		for _, k := range ancestryLocked(def.Parent) {
			if k == def.Kind {
				return fmt.Errorf("kind %q cannot descend from itself", def.Kind)
			}
		}
	}

	kinds[def.Kind] = def
	return nil
}

// Lookup retrieves a kind definition
func Lookup(k Kind) (KindDefinition, bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	def, ok := kinds[k]
	return def, ok
}

// IsRegistered reports whether k has a definition
func IsRegistered(k Kind) bool {
	_, ok := Lookup(k)
	return ok
}

// AllKinds returns every registered kind sorted by name
func AllKinds() []KindDefinition {
	kindsMu.RLock()
	defer kindsMu.RUnlock()

	result := make([]KindDefinition, 0, len(kinds))
	for _, def := range kinds {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Kind < result[j].Kind })
	return result
}

// Ancestry returns k followed by its registered ancestors, nearest first
func Ancestry(k Kind) []Kind {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	return ancestryLocked(k)
}

func ancestryLocked(k Kind) []Kind {
	result := []Kind{k}
	// Register forbids cycles; the bound only protects against a corrupted map.
	for i := 0; i <= len(kinds); i++ {
		def, ok := kinds[k]
		if !ok || def.Parent == "" {
			break
		}
		k = def.Parent
		result = append(result, k)
	}
	return result
}

// Is reports whether k is target or descends from it
func (k Kind) Is(target Kind) bool {
	for _, a := range Ancestry(k) {
		if a == target {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer
func (k Kind) String() string {
	return string(k)
}

// KindSet is an immutable collection of kinds with "any" match semantics
type KindSet struct {
	members map[Kind]struct{}
}

// NewKindSet builds a set from the given kinds; empty kinds are skipped
func NewKindSet(ks ...Kind) KindSet {
	members := make(map[Kind]struct{}, len(ks))
	for _, k := range ks {
		if k != "" {
			members[k] = struct{}{}
		}
	}
	return KindSet{members: members}
}

// Contains reports whether k, or any ancestor of k, is in the set
func (s KindSet) Contains(k Kind) bool {
	if len(s.members) == 0 || k == "" {
		return false
	}
	for _, a := range Ancestry(k) {
		if _, ok := s.members[a]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of kinds in the set
func (s KindSet) Len() int {
	return len(s.members)
}

// Kinds returns the members sorted by name
func (s KindSet) Kinds() []Kind {
	result := make([]Kind, 0, len(s.members))
	for k := range s.members {
		result = append(result, k)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
