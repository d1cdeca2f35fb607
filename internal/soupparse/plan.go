package soupparse

import (
	"errors"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"feedinput/internal/fetch"
	"feedinput/internal/rematch"
	"feedinput/internal/scope"
)

// plan is a compiled config. It is immutable and safe to share between
// concurrent runs.
type plan struct {
	sections []scope.Term
	fields   []fieldPlan
}

type fieldPlan struct {
	name     string
	scope    []scope.Term
	location Location
	regexps  rematch.List
}

// planCacheSize bounds the number of distinct configs kept compiled.
const planCacheSize = 256

type planCache struct {
	lru *lru.Cache[string, *plan]
}

func newPlanCache() *planCache {
	c, err := lru.New[string, *plan](planCacheSize)
	if err != nil {
		// Only a non-positive size fails.
		panic(err)
	}
	return &planCache{lru: c}
}

// get returns the compiled plan for cfg, compiling on a miss.
func (pc *planCache) get(cfg *Config) (*plan, error) {
	key := cfg.Fingerprint()
	if p, ok := pc.lru.Get(key); ok {
		return p, nil
	}
	p, err := compilePlan(cfg)
	if err != nil {
		return nil, err
	}
	pc.lru.Add(key, p)
	return p, nil
}

func compilePlan(c *Config) (*plan, error) {
	if c == nil {
		return nil, &ConfigError{Err: errors.New("nil config")}
	}

	var errs []error
	fail := func(path string, err error) {
		errs = append(errs, &ConfigError{Path: path, Err: err})
	}

	if trimmed(c.Source) == "" {
		fail("source", ErrMissingSource)
	}
	if c.Encoding != "" {
		if _, err := fetch.LookupEncoding(c.Encoding); err != nil {
			fail("encoding", err)
		}
	}

	p := &plan{}
	if len(c.Sections) > 0 {
		terms, err := scope.Compile(c.Sections)
		if err != nil {
			fail("sections", err)
		}
		p.sections = terms
	}

	for _, name := range []string{FieldTitle, FieldURL} {
		if _, ok := c.Keys[name]; !ok {
			fail(keyPath(name, ""), ErrMissingKey)
		}
	}

	names := make([]string, 0, len(c.Keys))
	for name := range c.Keys {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rule := c.Keys[name]
		fp := fieldPlan{name: name}

		if len(rule.Section) > 0 {
			terms, err := scope.Compile(rule.Section)
			if err != nil {
				fail(keyPath(name, "section"), err)
			}
			fp.scope = terms
		}

		if rule.Location != nil {
			if rule.Location.Index < 0 {
				fail(keyPath(name, "location"), ErrBadLocationIndex)
			}
			fp.location = *rule.Location
		}

		rules := rematch.Wildcard
		if len(rule.Regexps) > 0 {
			rules = make([]rematch.Rule, 0, len(rule.Regexps))
			for i, r := range rule.Regexps {
				if r.Regexp == "" {
					fail(keyPath(name, fmt.Sprintf("regexps[%d]", i)), ErrMissingRegexp)
				}
				rules = append(rules, r.rule())
			}
		}
		list, err := rematch.Compile(rules)
		if err != nil {
			fail(keyPath(name, ""), err)
		}
		fp.regexps = list

		p.fields = append(p.fields, fp)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return p, nil
}
