package soupparse

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"feedinput/internal/fetch"
	"feedinput/internal/logger"
	"feedinput/internal/metrics"
	"feedinput/internal/scope"
)

// Fetcher loads the document a config names.
type Fetcher interface {
	Load(ctx context.Context, src fetch.Source) (*fetch.Page, error)
}

// Extractor runs soup_parse configs. It holds no per-run state and is safe
// for concurrent use.
type Extractor struct {
	fetcher Fetcher
	log     logger.Logger
	plans   *planCache
}

// New returns an Extractor. A nil log discards.
func New(f Fetcher, log logger.Logger) *Extractor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Extractor{fetcher: f, log: log, plans: newPlanCache()}
}

// ScopeAnomaly is a bounds clamp seen while resolving sections (Field empty)
// or a field's own section rules.
type ScopeAnomaly struct {
	Field   string
	Section int
	scope.Anomaly
}

// Result is everything one run produced.
type Result struct {
	// Entries are the kept records in section order.
	Entries []Entry
	// Sections is the number of sections the document was carved into.
	Sections int
	// Dropped counts sections rejected by validation.
	Dropped   int
	Outcomes  []FieldOutcome
	Anomalies []ScopeAnomaly
}

// Run validates cfg, loads its source and extracts entries.
//
// Config problems return a *ConfigError before anything is fetched. A
// failed load returns a *FetchError. Per-field problems never fail the run;
// they show up in Result.Outcomes and as warnings.
func (x *Extractor) Run(ctx context.Context, cfg *Config) (*Result, error) {
	p, err := x.plans.get(cfg)
	if err != nil {
		return nil, err
	}
	page, err := x.fetcher.Load(ctx, cfg.FetchSource())
	if err != nil {
		return nil, NewFetchError(cfg.Source, err)
	}
	return x.extract(cfg, p, page)
}

// ExtractPage extracts from an already loaded page.
func (x *Extractor) ExtractPage(cfg *Config, page *fetch.Page) (*Result, error) {
	p, err := x.plans.get(cfg)
	if err != nil {
		return nil, err
	}
	return x.extract(cfg, p, page)
}

func (x *Extractor) extract(cfg *Config, p *plan, page *fetch.Page) (*Result, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, NewFetchError(cfg.Source, err)
	}

	log := x.log.With(logger.String(logger.KeySource, RedactSource(cfg.Source)))
	required := cfg.RequiredFields()
	res := &Result{}

	sections := doc.Nodes
	if len(p.sections) > 0 {
		var anomalies []scope.Anomaly
		sections, anomalies = scope.Resolve(doc.Nodes, p.sections)
		for _, a := range anomalies {
			log.Warn(a.String())
			res.Anomalies = append(res.Anomalies, ScopeAnomaly{Anomaly: a})
		}
	}
	res.Sections = len(sections)
	metrics.RecordSections(len(sections))

	for i, section := range sections {
		secNum := i + 1
		entry := Entry{}

		for _, fp := range p.fields {
			o, anomalies := resolveField(section, fp, page, secNum)
			for _, a := range anomalies {
				log.Warn(a.String(), logger.String(logger.KeyField, fp.name), logger.Int(logger.KeySection, secNum))
				res.Anomalies = append(res.Anomalies, ScopeAnomaly{Field: fp.name, Section: secNum, Anomaly: a})
			}
			res.Outcomes = append(res.Outcomes, o)

			if o.Set {
				entry[fp.name] = o.Value
				continue
			}
			metrics.RecordFieldSkip(string(o.Reason))
			if o.Reason.Warn() {
				log.Warn(o.message(),
					logger.String(logger.KeyField, fp.name),
					logger.Int(logger.KeySection, secNum),
					logger.String(logger.KeyReason, string(o.Reason)),
				)
			}
		}

		if !entry.Valid(required) {
			res.Dropped++
			metrics.RecordEntry("dropped")
			continue
		}
		res.Entries = append(res.Entries, entry)
		metrics.RecordEntry("kept")
	}

	log.Debug("soup_parse done",
		logger.Int("sections", res.Sections),
		logger.Int("entries", len(res.Entries)),
		logger.Int("dropped", res.Dropped),
	)
	return res, nil
}

// resolveField fills one field from one section.
func resolveField(section *html.Node, fp fieldPlan, page *fetch.Page, secNum int) (FieldOutcome, []scope.Anomaly) {
	o := FieldOutcome{Field: fp.name, Section: secNum, Pattern: -1}

	node := section
	var anomalies []scope.Anomaly
	if len(fp.scope) > 0 {
		var nodes []*html.Node
		nodes, anomalies = scope.Resolve([]*html.Node{section}, fp.scope)
		if len(nodes) == 0 {
			o.Reason = ReasonSubScopeNotFound
			return o, anomalies
		}
		node = nodes[0]
	}

	candidate, reason := locate(node, fp.location, page)
	if reason != ReasonNone {
		o.Reason = reason
		return o, anomalies
	}
	if candidate == "" {
		o.Reason = ReasonEmptyValue
		return o, anomalies
	}

	// Match timeouts are treated as misses for that pattern.
	value, idx, _ := fp.regexps.FirstMatch(candidate)
	if idx < 0 {
		o.Reason = ReasonNoRegexMatch
		return o, anomalies
	}
	o.Value, o.Set, o.Pattern = value, true, idx
	return o, anomalies
}

// locate reads the candidate string a location points at.
func locate(n *html.Node, loc Location, page *fetch.Page) (string, Reason) {
	switch loc.Kind {
	case LocURL:
		if loc.Index == 0 {
			href, ok := hrefOf(n)
			if !ok {
				return "", ReasonNoHref
			}
			return page.ResolveHref(href), ReasonNone
		}
		anchors := goquery.NewDocumentFromNode(n).Find("a")
		if anchors.Length() == 0 {
			return "", ReasonNoHref
		}
		if loc.Index > anchors.Length() {
			return "", ReasonIndexOutOfRange
		}
		href, ok := anchors.Eq(loc.Index - 1).Attr("href")
		if !ok {
			return "", ReasonNoHref
		}
		return page.ResolveHref(href), ReasonNone

	default:
		texts := TextNodes(n)
		if len(texts) == 0 {
			return "", ReasonNoText
		}
		idx := 0
		if loc.Index > 0 {
			idx = loc.Index - 1
		}
		if idx >= len(texts) {
			return "", ReasonIndexOutOfRange
		}
		return texts[idx], ReasonNone
	}
}

func hrefOf(n *html.Node) (string, bool) {
	if n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, "href") {
			return a.Val, true
		}
	}
	return "", false
}

// TextNodes returns the trimmed, non-empty text nodes under n in document
// order.
func TextNodes(n *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				out = append(out, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}
