package soupparse

import "fmt"

// Reason says why a field was left unset.
type Reason string

const (
	ReasonNone Reason = ""
	// ReasonSubScopeNotFound: the field's section rules matched nothing
	// inside the current section.
	ReasonSubScopeNotFound Reason = "sub_scope_not_found"
	// ReasonNoText: the working node has no non-empty text node.
	ReasonNoText Reason = "no_text"
	// ReasonNoHref: no href where the location pointed.
	ReasonNoHref Reason = "no_href"
	// ReasonIndexOutOfRange: {text: N} or {url: N} past the last candidate.
	ReasonIndexOutOfRange Reason = "index_out_of_range"
	// ReasonEmptyValue: the location produced an empty string.
	ReasonEmptyValue Reason = "empty_value"
	// ReasonNoRegexMatch: no configured pattern matched the candidate.
	ReasonNoRegexMatch Reason = "no_regex_match"
)

// Warn reports whether the reason is logged as a warning. Empty values and
// regex misses are ordinary and stay quiet.
func (r Reason) Warn() bool {
	switch r {
	case ReasonSubScopeNotFound, ReasonNoText, ReasonNoHref, ReasonIndexOutOfRange:
		return true
	default:
		return false
	}
}

// FieldOutcome is the result of resolving one field in one section.
type FieldOutcome struct {
	Field string
	// Section is 1-based.
	Section int
	Value   string
	Set     bool
	Reason  Reason
	// Pattern is the index of the regex that matched, -1 when none did.
	Pattern int
}

func (o FieldOutcome) String() string {
	if o.Set {
		return fmt.Sprintf("section #%d %s=%q", o.Section, o.Field, o.Value)
	}
	return fmt.Sprintf("section #%d %s unset (%s)", o.Section, o.Field, o.Reason)
}

// message renders a skip in the wording users of the plugin know.
func (o FieldOutcome) message() string {
	switch o.Reason {
	case ReasonSubScopeNotFound:
		return fmt.Sprintf("the specified 'section' for key '%s' was not found inside its parent tag in section #%d; skipping to next key", o.Field, o.Section)
	case ReasonIndexOutOfRange:
		return fmt.Sprintf("the specified location for key '%s' was out of range in section #%d; skipping to next key", o.Field, o.Section)
	case ReasonNoText:
		return fmt.Sprintf("there was no text found at any location for key '%s' in section #%d; skipping to next key", o.Field, o.Section)
	case ReasonNoHref:
		return fmt.Sprintf("there were no urls found for key '%s' in section #%d; skipping to next key", o.Field, o.Section)
	default:
		return o.String()
	}
}
