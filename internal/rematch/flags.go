// Package rematch compiles ordered lists of configured regular expressions
// and resolves the named flag strings that accompany them.
//
// Patterns are compiled with regexp2 rather than the standard library because
// configured patterns commonly rely on lookbehind and lookahead.
package rematch

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dlclark/regexp2"
)

// Flag is a bit set of named regular-expression flags.
type Flag uint16

const (
	FlagDebug Flag = 1 << iota
	FlagIgnoreCase
	FlagLocale
	FlagMultiline
	FlagDotAll
	FlagUnicode
	FlagVerbose
)

// ErrUnknownFlag is returned (wrapped) for a flag name outside the accepted set.
var ErrUnknownFlag = errors.New("unknown regexp flag")

// flagValues maps every accepted flag name, aliases included, to its bit.
var flagValues = map[string]Flag{
	"DEBUG":      FlagDebug,
	"I":          FlagIgnoreCase,
	"IGNORECASE": FlagIgnoreCase,
	"L":          FlagLocale,
	"LOCALE":     FlagLocale,
	"M":          FlagMultiline,
	"MULTILINE":  FlagMultiline,
	"S":          FlagDotAll,
	"DOTALL":     FlagDotAll,
	"U":          FlagUnicode,
	"UNICODE":    FlagUnicode,
	"X":          FlagVerbose,
	"VERBOSE":    FlagVerbose,
}

// FlagNames returns the accepted flag names in sorted order.
func FlagNames() []string {
	names := make([]string, 0, len(flagValues))
	for n := range flagValues {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseFlags turns a comma separated list of flag names into the combined
// flag value. Whitespace around names is ignored and a blank string yields
// no flags.
func ParseFlags(s string) (Flag, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}

	var combined Flag
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		f, ok := flagValues[name]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownFlag, name)
		}
		combined |= f
	}
	return combined, nil
}

// Options maps the flag set onto regexp2 options.
//
// LOCALE has no engine equivalent and is accepted without effect. DEBUG is
// also dropped: the engine's debug mode writes parse trees to stdout.
func (f Flag) Options() regexp2.RegexOptions {
	opts := regexp2.None
	if f&FlagIgnoreCase != 0 {
		opts |= regexp2.IgnoreCase
	}
	if f&FlagMultiline != 0 {
		opts |= regexp2.Multiline
	}
	if f&FlagDotAll != 0 {
		opts |= regexp2.Singleline
	}
	if f&FlagVerbose != 0 {
		opts |= regexp2.IgnorePatternWhitespace
	}
	if f&FlagUnicode != 0 {
		opts |= regexp2.Unicode
	}
	return opts
}

func (f Flag) String() string {
	if f == 0 {
		return ""
	}
	var parts []string
	for _, n := range []struct {
		name string
		flag Flag
	}{
		{"DEBUG", FlagDebug},
		{"IGNORECASE", FlagIgnoreCase},
		{"LOCALE", FlagLocale},
		{"MULTILINE", FlagMultiline},
		{"DOTALL", FlagDotAll},
		{"UNICODE", FlagUnicode},
		{"VERBOSE", FlagVerbose},
	} {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}
