package rematch

import (
	"errors"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// DefaultMatchTimeout bounds a single pattern evaluation.
const DefaultMatchTimeout = time.Second

// Rule is one configured pattern with its optional flag string.
type Rule struct {
	Pattern string
	Flags   string
}

// Wildcard is the list used when a field configures no patterns: it accepts
// any non-empty input.
var Wildcard = []Rule{{Pattern: ".*"}}

// List is an ordered list of compiled patterns. Earlier patterns take
// precedence over later ones regardless of where they match in the input.
type List []*regexp2.Regexp

// Compile compiles rules in order. Each rule's flags are resolved with
// ParseFlags; an empty flag string means no flags.
func Compile(rules []Rule) (List, error) {
	out := make(List, 0, len(rules))
	for i, r := range rules {
		flags, err := ParseFlags(r.Flags)
		if err != nil {
			return nil, fmt.Errorf("regexps[%d]: %w", i, err)
		}
		re, err := regexp2.Compile(r.Pattern, flags.Options())
		if err != nil {
			return nil, fmt.Errorf("regexps[%d]: compile %q: %w", i, r.Pattern, err)
		}
		re.MatchTimeout = DefaultMatchTimeout
		out = append(out, re)
	}
	return out, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level defaults.
func MustCompile(rules []Rule) List {
	l, err := Compile(rules)
	if err != nil {
		panic(err)
	}
	return l
}

// FirstMatch searches s with each pattern in order and returns the full
// match (group 0) of the first pattern that matches anywhere in s, together
// with that pattern's index.
//
// An empty s never matches. When nothing matches, index is -1. A pattern
// that exceeds its match timeout is treated as not matching; the timeout
// errors are joined into err while the search continues with later patterns.
func (l List) FirstMatch(s string) (value string, index int, err error) {
	if s == "" {
		return "", -1, nil
	}

	var errs []error
	for i, re := range l {
		m, matchErr := re.FindStringMatch(s)
		if matchErr != nil {
			errs = append(errs, fmt.Errorf("pattern %d %q: %w", i, re.String(), matchErr))
			continue
		}
		if m != nil {
			return m.String(), i, errors.Join(errs...)
		}
	}
	return "", -1, errors.Join(errs...)
}
