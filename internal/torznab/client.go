package torznab

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"feedinput/internal/logger"
	"feedinput/internal/metrics"
	"feedinput/internal/soupparse"
)

const (
	// DefaultTimeout bounds one indexer request.
	DefaultTimeout = 30 * time.Second
	// UserAgent is sent by the default client.
	UserAgent = "feedinput/1.0"

	snippetLimit = 512
)

// ErrNoSearcher means neither the requested searcher nor the generic
// search is usable on the indexer.
var ErrNoSearcher = errors.New("no searcher available")

// HTTPError is a non-2xx caps response.
type HTTPError struct {
	Status  int
	Snippet string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("torznab caps: HTTP %d: %s", e.Status, e.Snippet)
}

// searchParams are the query parameters a searcher may advertise.
var searchParams = []string{"season", "ep", "imdbid", "tvdbid", "rid"}

// SearchQuery is one search request. Empty fields are not sent.
type SearchQuery struct {
	Query  string
	Season string
	Ep     string
	IMDBID string
	TVDBID string
	RID    string
}

func (q SearchQuery) param(name string) string {
	switch name {
	case "season":
		return q.Season
	case "ep":
		return q.Ep
	case "imdbid":
		return q.IMDBID
	case "tvdbid":
		return q.TVDBID
	case "rid":
		return q.RID
	}
	return ""
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the resty client.
func WithHTTPClient(rc *resty.Client) Option {
	return func(c *Client) { c.http = rc }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// Client talks to one indexer. Setup runs once; a failed Setup is retried
// on the next call.
type Client struct {
	cfg     Config
	baseURL string
	http    *resty.Client
	log     logger.Logger

	mu        sync.Mutex
	ready     bool
	caps      *Caps
	searcher  SearcherCaps
	kind      string
	cats      []int
	baseQuery url.Values
}

// New validates cfg and returns a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.Website, "/"),
		log:     logger.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = resty.New().
			SetTimeout(DefaultTimeout).
			SetHeader("User-Agent", UserAgent)
	}
	c.log = c.log.With(logger.String(logger.KeySource, c.baseURL))
	return c, nil
}

func (c *Client) params() url.Values {
	v := url.Values{}
	v.Set("apikey", c.cfg.APIKey)
	v.Set("extended", "1")
	return v
}

// BuildURL renders <website>/api? with the base params and extra merged
// over them.
func (c *Client) BuildURL(extra url.Values) string {
	v := c.params()
	for k, vals := range extra {
		v[k] = append([]string(nil), vals...)
	}
	return c.baseURL + "/api?" + v.Encode()
}

// Setup fetches caps and selects the searcher and categories.
func (c *Client) Setup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}

	caps, err := c.fetchCaps(ctx)
	if err != nil {
		return err
	}
	if err := c.selectSearcher(caps); err != nil {
		return err
	}
	c.cats = c.selectCategories(caps)
	c.caps = caps
	c.ready = true
	return nil
}

func (c *Client) fetchCaps(ctx context.Context) (*Caps, error) {
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		Get(c.BuildURL(url.Values{"t": {"caps"}}))
	if err != nil {
		metrics.RecordFetch("error", time.Since(start))
		return nil, fmt.Errorf("torznab caps: %w", err)
	}
	if resp.IsError() {
		metrics.RecordFetch(strconv.Itoa(resp.StatusCode()), time.Since(start))
		body := resp.String()
		if len(body) > snippetLimit {
			body = body[:snippetLimit]
		}
		return nil, &HTTPError{Status: resp.StatusCode(), Snippet: body}
	}
	metrics.RecordFetch("ok", time.Since(start))
	c.log.Debug("torznab caps response", logger.Int("bytes", len(resp.Body())))

	return ParseCaps(resp.Body())
}

func (c *Client) selectSearcher(caps *Caps) error {
	want := c.cfg.Searcher
	if s, ok := caps.Searchers[searcherAliases[want]]; ok && s.Usable() {
		c.searcher, c.kind = s, want
	} else if want != SearcherSearch {
		s, ok := caps.Searchers[searcherAliases[SearcherSearch]]
		if !ok || !s.Usable() {
			return fmt.Errorf("%w on %s", ErrNoSearcher, c.baseURL)
		}
		c.log.Warn(fmt.Sprintf("'%s' searcher not available, falling back to 'search'", searcherAliases[want]))
		c.searcher, c.kind = s, SearcherSearch
	} else {
		return fmt.Errorf("%w on %s", ErrNoSearcher, c.baseURL)
	}

	c.baseQuery = url.Values{"t": {c.kind}}
	c.log.Debug("torznab searcher set up",
		logger.String("searcher", c.searcher.Name),
		logger.Strings("supported_params", c.searcher.SupportedParams),
	)
	return nil
}

func (c *Client) selectCategories(caps *Caps) []int {
	if len(c.cfg.Categories) == 0 {
		return nil
	}
	var kept []int
	for _, id := range c.cfg.Categories {
		if caps.HasCategory(id) {
			kept = append(kept, id)
			continue
		}
		c.log.Warn("category not advertised by indexer, dropping", logger.Int("category", id))
	}
	sort.Ints(kept)
	return kept
}

// Searcher returns the selected searcher kind ("search", "tvsearch" or
// "movie") and its caps. Empty before Setup.
func (c *Client) Searcher() (string, SearcherCaps) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind, c.searcher
}

// Caps returns the decoded caps, nil before Setup.
func (c *Client) Caps() *Caps {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// Categories returns the configured categories the indexer advertises.
func (c *Client) Categories() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.cats...)
}

// SearchURL sets up the client if needed and renders the URL for q.
// Parameters the selected searcher does not support are dropped.
func (c *Client) SearchURL(ctx context.Context, q SearchQuery) (string, error) {
	if err := c.Setup(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	v := url.Values{}
	for k, vals := range c.baseQuery {
		v[k] = vals
	}
	if q.Query != "" {
		v.Set("q", q.Query)
	}
	if len(c.cats) > 0 {
		ids := make([]string, len(c.cats))
		for i, id := range c.cats {
			ids[i] = strconv.Itoa(id)
		}
		v.Set("cat", strings.Join(ids, ","))
	}
	for _, p := range searchParams {
		val := q.param(p)
		if val == "" {
			continue
		}
		if !c.searcher.Supports(p) {
			c.log.Debug("dropping unsupported search param", logger.String("param", p))
			continue
		}
		v.Set(p, val)
	}
	return c.BuildURL(v), nil
}

// Search sets up the client and returns no entries; result parsing is not
// implemented.
func (c *Client) Search(ctx context.Context, _ soupparse.Entry) ([]soupparse.Entry, error) {
	if err := c.Setup(ctx); err != nil {
		return nil, err
	}
	return nil, nil
}
