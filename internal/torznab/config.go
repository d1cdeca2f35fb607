// Package torznab negotiates capabilities with a torznab indexer and builds
// search URLs for it.
package torznab

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

// Searcher kinds accepted in config.
const (
	SearcherSearch   = "search"
	SearcherTV       = "tv"
	SearcherTVSearch = "tvsearch"
	SearcherMovie    = "movie"
)

var (
	ErrMissingWebsite = errors.New("website is required")
	ErrMissingAPIKey  = errors.New("apikey is required")
	ErrBadWebsite     = errors.New("website must be an absolute http or https URL")
	ErrBadSearcher    = errors.New("searcher must be one of movie, tv, tvsearch, search")
)

// Config is the torznab input configuration.
type Config struct {
	Website    string `json:"website" yaml:"website"`
	APIKey     string `json:"apikey" yaml:"apikey"`
	Categories []int  `json:"categories,omitempty" yaml:"categories,omitempty"`
	Searcher   string `json:"searcher,omitempty" yaml:"searcher,omitempty"`
}

// Normalized returns a copy with defaults applied and "tv" mapped to
// "tvsearch".
func (c Config) Normalized() Config {
	c.Website = strings.TrimSpace(c.Website)
	c.Searcher = strings.ToLower(strings.TrimSpace(c.Searcher))
	switch c.Searcher {
	case "":
		c.Searcher = SearcherSearch
	case SearcherTV:
		c.Searcher = SearcherTVSearch
	}
	c.Categories = append([]int(nil), c.Categories...)
	return c
}

// Validate checks a normalized config.
func (c Config) Validate() error {
	var errs []error
	if c.Website == "" {
		errs = append(errs, ErrMissingWebsite)
	} else if u, err := url.Parse(c.Website); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("%w: %q", ErrBadWebsite, c.Website))
	}
	if strings.TrimSpace(c.APIKey) == "" {
		errs = append(errs, ErrMissingAPIKey)
	}
	if _, ok := searcherAliases[c.Searcher]; !ok {
		errs = append(errs, fmt.Errorf("%w (got %q)", ErrBadSearcher, c.Searcher))
	}
	return errors.Join(errs...)
}

// ParseYAML decodes a torznab config, rejecting unknown keys.
func ParseYAML(data []byte) (Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var c Config
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("torznab config: %w", err)
	}
	c = c.Normalized()
	return c, c.Validate()
}
