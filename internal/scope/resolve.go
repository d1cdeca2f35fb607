package scope

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// AnomalyKind classifies a recoverable bounds problem.
type AnomalyKind int

const (
	// StartClamped: the declared start was at or past the declared end or
	// the actual match count; the beginning was used instead.
	StartClamped AnomalyKind = iota + 1
	// EndClamped: the declared end was past the actual match count; the
	// match count was used instead.
	EndClamped
)

func (k AnomalyKind) String() string {
	switch k {
	case StartClamped:
		return "start_clamped"
	case EndClamped:
		return "end_clamped"
	default:
		return "unknown"
	}
}

// Anomaly describes one bounds clamp for one parent node. Scope and Match
// are 1-based; Start and End are the declared values (Start 1-based, End as
// resolved before clamping).
type Anomaly struct {
	Kind  AnomalyKind
	Scope int
	Match int
	Start int
	End   int
	Count int
}

func (a Anomaly) String() string {
	switch a.Kind {
	case StartClamped:
		return fmt.Sprintf(
			"the specified start (%d) for scope_limit #%d is the same as or after the specified end (%d) or actual end (%d) for match #%d; using the beginning",
			a.Start, a.Scope, a.End, a.Count, a.Match,
		)
	case EndClamped:
		return fmt.Sprintf(
			"the specified end (%d) for scope_limit #%d is after the actual end (%d) for match #%d; using the actual end",
			a.End, a.Scope, a.Count, a.Match,
		)
	default:
		return "unknown scope anomaly"
	}
}

// EffectiveBounds reconciles a declared [start, end) range with the number
// of matches actually found under one parent.
//
// A start at or past the end, or at or past count, becomes 0. An end past
// count becomes count. The returned flags report which clamps applied; a
// start clamp is reported even when the declared start was already 0.
func EffectiveBounds(start int, end Bound, count int) (s, e int, startClamped, endClamped bool) {
	s = start
	e = end.Resolve(count)
	if s >= e || s >= count {
		startClamped = true
		s = 0
	}
	if e > count {
		endClamped = true
		e = count
	}
	return s, e, startClamped, endClamped
}

// FindAll returns every descendant element of n matching t, in document
// order. n itself is never included.
func FindAll(n *html.Node, t Term) []*html.Node {
	return goquery.NewDocumentFromNode(n).
		Find("*").
		FilterFunction(func(_ int, s *goquery.Selection) bool {
			return t.Matches(s.Get(0))
		}).
		Nodes
}

// Resolve descends through terms one scope level at a time starting from
// roots.
//
// Every level except the last queries all matches under each node carried
// into it, slices them with the level's effective bounds (evaluated per
// parent), and carries the slice into the next level. The last level is not
// sliced: all of its matches under every carried node are concatenated.
//
// Results keep document order within each parent and parents are visited in
// the order they were accumulated; nothing is re-sorted or de-duplicated.
// With no terms the roots are returned unchanged.
func Resolve(roots []*html.Node, terms []Term) ([]*html.Node, []Anomaly) {
	if len(terms) == 0 {
		return append([]*html.Node(nil), roots...), nil
	}

	var anomalies []Anomaly
	current := roots

	for depth, t := range terms[:len(terms)-1] {
		var next []*html.Node
		for i, parent := range current {
			matches := FindAll(parent, t)
			s, e, startClamped, endClamped := EffectiveBounds(t.Start, t.End, len(matches))

			declared := Anomaly{
				Scope: depth + 1,
				Match: i + 1,
				Start: t.Start + 1,
				End:   t.End.Resolve(len(matches)),
				Count: len(matches),
			}
			if startClamped {
				a := declared
				a.Kind = StartClamped
				anomalies = append(anomalies, a)
			}
			if endClamped {
				a := declared
				a.Kind = EndClamped
				anomalies = append(anomalies, a)
			}

			next = append(next, matches[s:e]...)
		}
		current = next
	}

	last := terms[len(terms)-1]
	var out []*html.Node
	for _, parent := range current {
		out = append(out, FindAll(parent, last)...)
	}
	return out, anomalies
}

// ResolveSelection is Resolve for a goquery selection root.
func ResolveSelection(root *goquery.Selection, terms []Term) ([]*html.Node, []Anomaly) {
	return Resolve(root.Nodes, terms)
}
