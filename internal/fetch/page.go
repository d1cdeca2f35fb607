package fetch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page is a loaded, UTF-8 decoded document.
type Page struct {
	// Location is the file path or request URL (without credentials).
	Location string
	// BaseURL is the URL relative links resolve against. It is nil for
	// local files.
	BaseURL *url.URL
	// Local is set when the page was read from disk.
	Local bool

	HTML        string
	ContentType string
}

// Document parses the page.
func (p *Page) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", p.Location, err)
	}
	return doc, nil
}

// ResolveHref turns a scraped href into the value an entry should carry.
//
// An href that already has a scheme (http:, magnet:, ...) is returned as is.
// Otherwise it is resolved against BaseURL; pages without a base (local
// files) and unparseable hrefs keep the raw value. A blank href stays
// blank.
func (p *Page) ResolveHref(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if u.Scheme != "" || p == nil || p.BaseURL == nil {
		return href
	}
	return p.BaseURL.ResolveReference(u).String()
}
