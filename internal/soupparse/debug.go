package soupparse

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"feedinput/internal/fetch"
	"feedinput/internal/scope"
)

// DebugSections prints what rules carve page into, one block per section:
// outer HTML, or trimmed text when textOnly is set. Clamp warnings go to w
// as comment lines first. It is the tool for tuning a sections list.
func DebugSections(w io.Writer, page *fetch.Page, rules []scope.Rule, textOnly bool) error {
	terms, err := scope.Compile(rules)
	if err != nil {
		return &ConfigError{Path: "sections", Err: err}
	}
	doc, err := page.Document()
	if err != nil {
		return err
	}

	nodes, anomalies := scope.ResolveSelection(doc.Selection, terms)
	for _, a := range anomalies {
		fmt.Fprintf(w, "<!-- %s -->\n", a)
	}

	for i, n := range nodes {
		fmt.Fprintf(w, "<!-- section #%d -->\n", i+1)
		s := goquery.NewDocumentFromNode(n).Selection
		if textOnly {
			fmt.Fprintln(w, strings.Join(TextNodes(n), " "))
			fmt.Fprintln(w)
			continue
		}
		out, err := goquery.OuterHtml(s)
		if err != nil {
			return fmt.Errorf("render section #%d: %w", i+1, err)
		}
		fmt.Fprintln(w, out)
		fmt.Fprintln(w)
	}
	return nil
}
