package soupparse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// LocationKind selects what a field reads from its working node.
type LocationKind int

const (
	// LocText reads a non-empty descendant text node.
	LocText LocationKind = iota
	// LocURL reads an href.
	LocURL
)

func (k LocationKind) String() string {
	if k == LocURL {
		return "url"
	}
	return "text"
}

// Location is "text", "url", {text: N} or {url: N}.
//
// Index 0 is the literal form: for text the first non-empty text node, for
// url the working node's own href. Index N >= 1 is the N-th non-empty text
// node or the N-th descendant <a> element.
type Location struct {
	Kind  LocationKind
	Index int
}

// TextAt and URLAt build the indexed forms.
func TextAt(n int) *Location { return &Location{Kind: LocText, Index: n} }
func URLAt(n int) *Location  { return &Location{Kind: LocURL, Index: n} }

var (
	ErrBadLocation      = errors.New(`location must be "text", "url", {text: N} or {url: N}`)
	ErrBadLocationIndex = errors.New("location index must be >= 1")
)

func parseKind(s string) (LocationKind, error) {
	switch s {
	case "text":
		return LocText, nil
	case "url":
		return LocURL, nil
	default:
		return 0, fmt.Errorf("%w: got %q", ErrBadLocation, s)
	}
}

func (l *Location) setIndexed(m map[string]int) error {
	if len(m) != 1 {
		return ErrBadLocation
	}
	for k, n := range m {
		kind, err := parseKind(k)
		if err != nil {
			return err
		}
		if n < 1 {
			return ErrBadLocationIndex
		}
		*l = Location{Kind: kind, Index: n}
	}
	return nil
}

func (l *Location) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		kind, err := parseKind(node.Value)
		if err != nil {
			return err
		}
		*l = Location{Kind: kind}
		return nil
	case yaml.MappingNode:
		var m map[string]int
		if err := node.Decode(&m); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		return l.setIndexed(m)
	default:
		return ErrBadLocation
	}
}

func (l Location) MarshalYAML() (any, error) {
	if l.Index == 0 {
		return l.Kind.String(), nil
	}
	return map[string]int{l.Kind.String(): l.Index}, nil
}

func (l *Location) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, `"`) {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		kind, err := parseKind(name)
		if err != nil {
			return err
		}
		*l = Location{Kind: kind}
		return nil
	}
	var m map[string]int
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("%w: %v", ErrBadLocation, err)
	}
	return l.setIndexed(m)
}

func (l Location) MarshalJSON() ([]byte, error) {
	if l.Index == 0 {
		return json.Marshal(l.Kind.String())
	}
	return json.Marshal(map[string]int{l.Kind.String(): l.Index})
}

func (l Location) String() string {
	if l.Index == 0 {
		return l.Kind.String()
	}
	return fmt.Sprintf("%s:%d", l.Kind, l.Index)
}
