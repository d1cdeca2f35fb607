package torznab

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"
)

// searcherAliases maps config searcher kinds to caps element names.
var searcherAliases = map[string]string{
	SearcherMovie:    "movie-search",
	SearcherSearch:   "search",
	SearcherTVSearch: "tv-search",
}

// SearcherCaps is one <searching> child.
type SearcherCaps struct {
	Name            string
	Available       bool
	SupportedParams []string
}

// Usable reports whether the searcher can be selected.
func (s SearcherCaps) Usable() bool {
	return s.Available && len(s.SupportedParams) > 0
}

// Supports reports whether param is advertised.
func (s SearcherCaps) Supports(param string) bool {
	for _, p := range s.SupportedParams {
		if strings.EqualFold(p, param) {
			return true
		}
	}
	return false
}

// Category is an advertised category with its subcategories.
type Category struct {
	ID      int
	Name    string
	Subcats []Category
}

// Caps is a decoded t=caps response.
type Caps struct {
	Searchers  map[string]SearcherCaps
	Categories []Category
}

// CategoryIDs returns every advertised id, subcategories included, sorted.
func (c *Caps) CategoryIDs() []int {
	var ids []int
	var walk func([]Category)
	walk = func(cs []Category) {
		for _, cat := range cs {
			ids = append(ids, cat.ID)
			walk(cat.Subcats)
		}
	}
	walk(c.Categories)
	sort.Ints(ids)
	return ids
}

// HasCategory reports whether id is advertised.
func (c *Caps) HasCategory(id int) bool {
	ids := c.CategoryIDs()
	i := sort.SearchInts(ids, id)
	return i < len(ids) && ids[i] == id
}

// APIError is the <error code=".." description=".."/> document an indexer
// returns instead of caps.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("torznab error %d: %s", e.Code, e.Description)
}

// rawElement keeps every attribute; indexers disagree on attribute case.
type rawElement struct {
	XMLName  xml.Name
	Attrs    []xml.Attr   `xml:",any,attr"`
	Children []rawElement `xml:",any"`
}

func (e rawElement) attr(name string) string {
	for _, a := range e.Attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func (e rawElement) child(name string) (rawElement, bool) {
	for _, c := range e.Children {
		if strings.EqualFold(c.XMLName.Local, name) {
			return c, true
		}
	}
	return rawElement{}, false
}

// ParseCaps decodes a caps document.
func ParseCaps(data []byte) (*Caps, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false

	var root rawElement
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode caps: %w", err)
	}

	switch strings.ToLower(root.XMLName.Local) {
	case "caps":
	case "error":
		code, _ := strconv.Atoi(root.attr("code"))
		return nil, &APIError{Code: code, Description: root.attr("description")}
	default:
		return nil, fmt.Errorf("decode caps: unexpected root element <%s>", root.XMLName.Local)
	}

	caps := &Caps{Searchers: map[string]SearcherCaps{}}
	if searching, ok := root.child("searching"); ok {
		for _, s := range searching.Children {
			name := strings.ToLower(s.XMLName.Local)
			caps.Searchers[name] = SearcherCaps{
				Name:            name,
				Available:       strings.EqualFold(s.attr("available"), "yes"),
				SupportedParams: splitParams(s.attr("supportedParams")),
			}
		}
	}
	if cats, ok := root.child("categories"); ok {
		caps.Categories = parseCategories(cats.Children, "category")
	}
	return caps, nil
}

func parseCategories(elems []rawElement, tag string) []Category {
	var out []Category
	for _, e := range elems {
		if !strings.EqualFold(e.XMLName.Local, tag) {
			continue
		}
		id, err := strconv.Atoi(e.attr("id"))
		if err != nil {
			continue
		}
		out = append(out, Category{
			ID:      id,
			Name:    e.attr("name"),
			Subcats: parseCategories(e.Children, "subcat"),
		})
	}
	return out
}

func splitParams(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
