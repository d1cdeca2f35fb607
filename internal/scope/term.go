package scope

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
	"golang.org/x/net/html"

	"feedinput/internal/rematch"
)

// Bound is a declared exclusive end index: either a fixed value or bound to
// the number of matches found under each parent at resolve time.
type Bound struct {
	value     int
	unbounded bool
}

// Fixed returns a Bound with a fixed 0-based exclusive end.
func Fixed(n int) Bound { return Bound{value: n} }

// Unbounded returns a Bound that resolves to the runtime match count.
func Unbounded() Bound { return Bound{unbounded: true} }

// IsUnbounded reports whether b binds to the runtime match count.
func (b Bound) IsUnbounded() bool { return b.unbounded }

// Resolve returns the end index for a parent with count matches.
func (b Bound) Resolve(count int) int {
	if b.unbounded {
		return count
	}
	return b.value
}

func (b Bound) String() string {
	if b.unbounded {
		return "len"
	}
	return fmt.Sprint(b.value)
}

// Term is a compiled rule: a name pattern, attribute patterns, and a
// 0-based [Start, End) slice applied to each parent's matches.
type Term struct {
	// Name matches the full tag name; nil accepts any element.
	Name *regexp2.Regexp
	// Attrs maps attribute names to full-value patterns; empty means no
	// attribute constraint.
	Attrs map[string]*regexp2.Regexp
	Start int
	End   Bound

	source Rule
}

// Rule returns the rule the term was compiled from.
func (t Term) Rule() Rule { return t.source }

// Compile turns rules into search terms, preserving order. The first rule is
// the outermost scope.
func Compile(rules []Rule) ([]Term, error) {
	terms := make([]Term, 0, len(rules))
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("scope[%d]: %w", i, err)
		}
		t, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("scope[%d]: %w", i, err)
		}
		terms = append(terms, t)
	}
	return terms, nil
}

func compileRule(r Rule) (Term, error) {
	if r.Kind == ByName {
		name, err := anchored(r.Name)
		if err != nil {
			return Term{}, err
		}
		return Term{Name: name, Start: 0, End: Unbounded(), source: r}, nil
	}

	t := Term{Start: r.Start - 1, End: Fixed(r.End), source: r}
	if r.End == UnboundedEnd {
		t.End = Unbounded()
	}

	if r.ElementName != "" {
		name, err := anchored(r.ElementName)
		if err != nil {
			return Term{}, err
		}
		t.Name = name
	}

	if r.AttributeName != "" {
		value := r.AttributeValue
		if value == "" {
			value = ".*"
		}
		re, err := anchored(value)
		if err != nil {
			return Term{}, err
		}
		t.Attrs = map[string]*regexp2.Regexp{r.AttributeName: re}
	}
	return t, nil
}

func anchored(pattern string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile("^(?:"+pattern+")$", regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	re.MatchTimeout = rematch.DefaultMatchTimeout
	return re, nil
}

// multiValued lists attributes whose values are whitespace separated token
// lists. A pattern matches such an attribute when it matches any single
// token or the whole value.
var multiValued = map[string]bool{
	"class":          true,
	"rel":            true,
	"rev":            true,
	"accept-charset": true,
	"headers":        true,
	"accesskey":      true,
	"dropzone":       true,
}

// Matches reports whether n is an element satisfying the name and
// attribute constraints.
func (t Term) Matches(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if t.Name != nil && !matchString(t.Name, n.Data) {
		return false
	}
	for name, re := range t.Attrs {
		val, ok := attr(n, name)
		if !ok {
			return false
		}
		if !matchAttr(name, re, val) {
			return false
		}
	}
	return true
}

func matchAttr(name string, re *regexp2.Regexp, val string) bool {
	if matchString(re, val) {
		return true
	}
	if !multiValued[strings.ToLower(name)] {
		return false
	}
	for _, tok := range strings.Fields(val) {
		if matchString(re, tok) {
			return true
		}
	}
	return false
}

func matchString(re *regexp2.Regexp, s string) bool {
	ok, err := re.MatchString(s)
	return err == nil && ok
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}
