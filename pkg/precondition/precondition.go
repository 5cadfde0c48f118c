// Package precondition checks that a set of named configuration values is
// present and non-empty before any provisioning step runs.
package precondition

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedInput is returned when Validate is called without a
// requirement set or lookup, or with a blank requirement name.
var ErrMalformedInput = errors.New("malformed precondition input")

// RequirementSet is an ordered list of names that must resolve to non-empty
// values. It is immutable once built.
type RequirementSet struct {
	names []string
}

// NewRequirementSet returns a set holding names in the given order.
func NewRequirementSet(names ...string) *RequirementSet {
	return &RequirementSet{names: append([]string{}, names...)}
}

// With returns a new set with names appended after the existing ones.
func (s *RequirementSet) With(names ...string) *RequirementSet {
	merged := make([]string, 0, len(s.names)+len(names))
	merged = append(merged, s.names...)
	merged = append(merged, names...)
	return &RequirementSet{names: merged}
}

// Names returns a copy of the required names.
func (s *RequirementSet) Names() []string {
	return append([]string{}, s.names...)
}

// Len returns the number of required names.
func (s *RequirementSet) Len() int {
	return len(s.names)
}

// MissingConfigurationError lists every required name that was absent or
// empty, in declaration order.
type MissingConfigurationError struct {
	Names []string
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Names, ", "))
}

// Result is the outcome of a single Validate call.
type Result struct {
	Missing []string
}

// OK reports whether every required name resolved to a non-empty value.
func (r Result) OK() bool {
	return len(r.Missing) == 0
}

// Err returns nil on success, otherwise a *MissingConfigurationError.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &MissingConfigurationError{Names: append([]string{}, r.Missing...)}
}

// Validate looks up every name of set and collects those that have no value
// or an empty value. It never stops at the first failure. Whitespace-only
// values count as present; wrap the lookup with Trimmed for a stricter check.
func Validate(set *RequirementSet, lookup Lookup) (Result, error) {
	if set == nil {
		return Result{}, fmt.Errorf("%w: requirement set is nil", ErrMalformedInput)
	}
	if lookup == nil {
		return Result{}, fmt.Errorf("%w: lookup is nil", ErrMalformedInput)
	}
	for i, name := range set.names {
		if strings.TrimSpace(name) == "" {
			return Result{}, fmt.Errorf("%w: requirement %d has a blank name", ErrMalformedInput, i)
		}
	}

	var missing []string
	for _, name := range set.names {
		if value, ok := lookup.Lookup(name); !ok || value == "" {
			missing = append(missing, name)
		}
	}
	return Result{Missing: missing}, nil
}
