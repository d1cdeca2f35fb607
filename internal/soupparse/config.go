// Package soupparse turns an HTML page into feed entries. A configuration
// carves the document into repeating sections with scope rules, then fills
// each configured field from a sub-scope, a location and an ordered list of
// regular expressions.
package soupparse

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"feedinput/internal/fetch"
	"feedinput/internal/rematch"
	"feedinput/internal/scope"
)

// Mandatory fields every kept entry carries.
const (
	FieldTitle = "title"
	FieldURL   = "url"
)

// Config is one soup_parse invocation.
type Config struct {
	// Source is a local path or an http(s) URL.
	Source string `yaml:"source" json:"source"`
	// Encoding overrides the document encoding.
	Encoding string `yaml:"encoding,omitempty" json:"encoding,omitempty"`
	// Sections splits the document into repeating units. Empty means the
	// whole document is the single section.
	Sections []scope.Rule `yaml:"sections,omitempty" json:"sections,omitempty"`
	// Keys maps entry field names to their extraction rule.
	Keys map[string]FieldRule `yaml:"keys" json:"keys"`
}

// FieldRule resolves one entry field within a section.
type FieldRule struct {
	// Section narrows the section to its first node matching these rules.
	Section []scope.Rule `yaml:"section,omitempty" json:"section,omitempty"`
	// Encoding is accepted for compatibility and has no effect; the
	// document is decoded once with the top-level encoding.
	Encoding string `yaml:"encoding,omitempty" json:"encoding,omitempty"`
	// Location defaults to the first text.
	Location *Location   `yaml:"location,omitempty" json:"location,omitempty"`
	Required bool        `yaml:"required,omitempty" json:"required,omitempty"`
	Regexps  []RegexRule `yaml:"regexps,omitempty" json:"regexps,omitempty"`
}

// RegexRule is one pattern with comma separated flag names.
type RegexRule struct {
	Regexp string `yaml:"regexp" json:"regexp"`
	Flags  string `yaml:"flags,omitempty" json:"flags,omitempty"`
}

// ConfigError is a configuration problem found before any fetch.
type ConfigError struct {
	// Path locates the problem, e.g. "keys.datetime.regexps[1]".
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "soup_parse config: " + e.Err.Error()
	}
	return fmt.Sprintf("soup_parse config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

var (
	ErrMissingSource = errors.New("source is required")
	ErrMissingKey    = errors.New("required key is not configured")
	ErrMissingRegexp = errors.New("regexp is required")
)

// Validate reports every configuration problem, joined. It compiles all
// patterns and rules, so a nil result means Run will not fail on config.
func (c *Config) Validate() error {
	_, err := compilePlan(c)
	return err
}

// RequiredFields returns the sorted set of fields an entry must carry:
// title, url and every key marked required.
func (c *Config) RequiredFields() []string {
	set := map[string]struct{}{FieldTitle: {}, FieldURL: {}}
	for name, rule := range c.Keys {
		if rule.Required {
			set[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FetchSource is the fetch request for this config.
func (c *Config) FetchSource() fetch.Source {
	return fetch.Source{Location: c.Source, Encoding: c.Encoding}
}

// Fingerprint is a stable hex SHA-256 of the canonical JSON form. Equal
// configs have equal fingerprints regardless of map order.
func (c *Config) Fingerprint() string {
	b, err := json.Marshal(c)
	if err != nil {
		// Every field marshals; keep a usable key anyway.
		b = []byte(fmt.Sprintf("%#v", *c))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (r RegexRule) rule() rematch.Rule {
	return rematch.Rule{Pattern: r.Regexp, Flags: r.Flags}
}

// ParseYAML decodes a config strictly: unknown keys fail.
func ParseYAML(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var c Config
	if err := dec.Decode(&c); err != nil {
		return nil, &ConfigError{Err: err}
	}
	return &c, nil
}

// ParseJSON decodes a config strictly: unknown keys fail.
func ParseJSON(data []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var c Config
	if err := dec.Decode(&c); err != nil {
		return nil, &ConfigError{Err: err}
	}
	return &c, nil
}

func keyPath(name, rest string) string {
	if rest == "" {
		return "keys." + name
	}
	return "keys." + name + "." + rest
}

func trimmed(s string) string { return strings.TrimSpace(s) }
