package precondition

import (
	"os"
	"strings"
)

// Lookup resolves a configuration name to its value.
type Lookup interface {
	Lookup(name string) (string, bool)
}

// LookupFunc adapts a function such as os.LookupEnv to a Lookup.
type LookupFunc func(name string) (string, bool)

func (f LookupFunc) Lookup(name string) (string, bool) {
	return f(name)
}

// Env returns a Lookup over the process environment.
func Env() Lookup {
	return LookupFunc(os.LookupEnv)
}

// Map returns a Lookup over a fixed map.
func Map(values map[string]string) Lookup {
	return LookupFunc(func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	})
}

// Chain returns a Lookup that asks each source in order and returns the
// first non-empty value. If no source has a non-empty value but one of them
// has the name set, the empty value is returned as present.
func Chain(sources ...Lookup) Lookup {
	return LookupFunc(func(name string) (string, bool) {
		found := false
		for _, src := range sources {
			if src == nil {
				continue
			}
			v, ok := src.Lookup(name)
			if !ok {
				continue
			}
			if v != "" {
				return v, true
			}
			found = true
		}
		return "", found
	})
}

// Trimmed wraps lookup so that values consisting only of whitespace are
// reported as empty.
func Trimmed(lookup Lookup) Lookup {
	return LookupFunc(func(name string) (string, bool) {
		v, ok := lookup.Lookup(name)
		if !ok {
			return "", false
		}
		if strings.TrimSpace(v) == "" {
			return "", true
		}
		return v, true
	})
}
