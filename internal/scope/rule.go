// Package scope compiles scope-limiter rules and applies them to a parsed
// document, carving it into the nodes that later stages extract from.
package scope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnboundedEnd is the declared end value that means "every match".
const UnboundedEnd = 31415

// Kind distinguishes the two accepted rule shapes.
type Kind int

const (
	// ByName is the bare-string shorthand: an element name, no attribute
	// constraint, every match.
	ByName Kind = iota
	// ByAttributes is the structured form.
	ByAttributes
)

// Rule is one scope-limiter rule, either a bare element name or a
// structured element/attribute/position constraint. Start and End are
// 1-based as configured.
type Rule struct {
	Kind Kind

	// Name is set for ByName rules.
	Name string

	ElementName    string
	AttributeName  string
	AttributeValue string
	Start          int
	End            int
}

// Named returns the bare-string form of a rule.
func Named(name string) Rule {
	return Rule{Kind: ByName, Name: name}
}

// Element returns a structured rule with the default (unbounded) range.
func Element(element, attrName, attrValue string) Rule {
	return Rule{
		Kind:           ByAttributes,
		ElementName:    element,
		AttributeName:  attrName,
		AttributeValue: attrValue,
		Start:          1,
		End:            UnboundedEnd,
	}
}

// Between returns r with a declared 1-based [start, end] range.
func (r Rule) Between(start, end int) Rule {
	r.Kind = ByAttributes
	if r.Name != "" && r.ElementName == "" {
		r.ElementName = r.Name
		r.Name = ""
	}
	r.Start = start
	r.End = end
	return r
}

var (
	ErrEmptyRule          = errors.New("scope rule needs element_name, attribute_name or attribute_value")
	ErrValueWithoutName   = errors.New("attribute_value requires attribute_name")
	ErrBadRange           = errors.New("start and end must be >= 1")
	ErrEmptyName          = errors.New("element name must not be empty")
	errUnknownRuleField   = errors.New("unknown scope rule field")
	errUnsupportedRuleDoc = errors.New("scope rule must be a string or a mapping")
)

// Validate checks the rule invariants.
func (r Rule) Validate() error {
	if r.Kind == ByName {
		if strings.TrimSpace(r.Name) == "" {
			return ErrEmptyName
		}
		return nil
	}
	if r.ElementName == "" && r.AttributeName == "" && r.AttributeValue == "" {
		return ErrEmptyRule
	}
	if r.AttributeValue != "" && r.AttributeName == "" {
		return ErrValueWithoutName
	}
	if r.Start < 1 || r.End < 1 {
		return ErrBadRange
	}
	return nil
}

// ValidateRules validates every rule, annotating errors with the index.
func ValidateRules(rules []Rule) error {
	var errs []error
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// ruleObject is the wire shape of the structured form.
type ruleObject struct {
	ElementName    string `json:"element_name,omitempty" yaml:"element_name,omitempty"`
	AttributeName  string `json:"attribute_name,omitempty" yaml:"attribute_name,omitempty"`
	AttributeValue string `json:"attribute_value,omitempty" yaml:"attribute_value,omitempty"`
	Start          *int   `json:"start,omitempty" yaml:"start,omitempty"`
	End            *int   `json:"end,omitempty" yaml:"end,omitempty"`
}

func (o ruleObject) rule() Rule {
	r := Rule{
		Kind:           ByAttributes,
		ElementName:    o.ElementName,
		AttributeName:  o.AttributeName,
		AttributeValue: o.AttributeValue,
		Start:          1,
		End:            UnboundedEnd,
	}
	if o.Start != nil {
		r.Start = *o.Start
	}
	if o.End != nil {
		r.End = *o.End
	}
	return r
}

func (r Rule) object() ruleObject {
	o := ruleObject{
		ElementName:    r.ElementName,
		AttributeName:  r.AttributeName,
		AttributeValue: r.AttributeValue,
	}
	if r.Start != 1 {
		start := r.Start
		o.Start = &start
	}
	if r.End != UnboundedEnd {
		end := r.End
		o.End = &end
	}
	return o
}

// UnmarshalYAML accepts a scalar element name or the structured mapping.
// Unknown mapping keys are rejected.
func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var name string
		if err := node.Decode(&name); err != nil {
			return err
		}
		*r = Named(name)
		return nil

	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			switch key := node.Content[i].Value; key {
			case "element_name", "attribute_name", "attribute_value", "start", "end":
			default:
				return fmt.Errorf("line %d: %w %q", node.Content[i].Line, errUnknownRuleField, key)
			}
		}
		var o ruleObject
		if err := node.Decode(&o); err != nil {
			return err
		}
		*r = o.rule()
		return nil

	default:
		return fmt.Errorf("line %d: %w", node.Line, errUnsupportedRuleDoc)
	}
}

// MarshalYAML writes the bare string form when possible.
func (r Rule) MarshalYAML() (any, error) {
	if r.Kind == ByName {
		return r.Name, nil
	}
	return r.object(), nil
}

// UnmarshalJSON accepts a JSON string or the structured object.
func (r *Rule) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, `"`) {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*r = Named(name)
		return nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return errUnsupportedRuleDoc
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()
	var o ruleObject
	if err := dec.Decode(&o); err != nil {
		return fmt.Errorf("scope rule: %w", err)
	}
	*r = o.rule()
	return nil
}

// MarshalJSON writes the bare string form when possible.
func (r Rule) MarshalJSON() ([]byte, error) {
	if r.Kind == ByName {
		return json.Marshal(r.Name)
	}
	return json.Marshal(r.object())
}

func (r Rule) String() string {
	if r.Kind == ByName {
		return r.Name
	}
	var b strings.Builder
	b.WriteString(r.ElementName)
	if r.AttributeName != "" {
		b.WriteString("[")
		b.WriteString(r.AttributeName)
		if r.AttributeValue != "" {
			b.WriteString("=")
			b.WriteString(r.AttributeValue)
		}
		b.WriteString("]")
	}
	if r.Start != 1 || r.End != UnboundedEnd {
		end := "*"
		if r.End != UnboundedEnd {
			end = fmt.Sprint(r.End)
		}
		fmt.Fprintf(&b, "{%d:%s}", r.Start, end)
	}
	return b.String()
}
