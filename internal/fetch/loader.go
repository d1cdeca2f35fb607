// Package fetch loads the HTML a soup_parse run extracts from: a local file
// when the source names one, otherwise an HTTP GET.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"feedinput/internal/logger"
	"feedinput/internal/metrics"
)

// DefaultTimeout bounds one remote fetch.
const DefaultTimeout = 30 * time.Second

const userAgent = "feedinput/1.0"

// ErrUnknownEncoding is returned when an encoding override names no known
// encoding.
var ErrUnknownEncoding = errors.New("unknown encoding")

// Source says where a document comes from.
type Source struct {
	// Location is a local path (~ is expanded) or an http(s) URL.
	Location string
	// Encoding overrides charset detection. Empty means UTF-8 for files and
	// Content-Type/meta sniffing for responses.
	Encoding string
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Snippet string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Snippet)
}

// Loader fetches or reads HTML with a consistent timeout policy.
type Loader struct {
	client  *http.Client
	timeout time.Duration
	log     logger.Logger
	now     func() time.Time
}

// NewLoader creates a Loader. A nil client means http.DefaultClient, a
// non-positive timeout means DefaultTimeout and a nil log discards.
func NewLoader(client *http.Client, timeout time.Duration, log logger.Logger) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Loader{client: client, timeout: timeout, log: log, now: time.Now}
}

// Load returns the decoded document for src.
//
// An existing local path is read from disk without touching the network.
// Anything else is fetched with GET. Non-2xx responses return a
// *StatusError carrying up to 4KB of the body.
func (l *Loader) Load(ctx context.Context, src Source) (*Page, error) {
	loc := strings.TrimSpace(src.Location)
	if loc == "" {
		return nil, errors.New("empty source")
	}

	if path, ok := localPath(loc); ok {
		return l.loadFile(path, src.Encoding)
	}
	return l.loadURL(ctx, loc, src.Encoding)
}

// localPath reports whether loc names an existing regular file, after
// expanding a leading ~.
func localPath(loc string) (string, bool) {
	path := ExpandHome(loc)
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return "", false
	}
	return path, true
}

// ExpandHome replaces a leading "~" or "~/" with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func (l *Loader) loadFile(path, enc string) (*Page, error) {
	start := l.now()
	raw, err := os.ReadFile(path)
	if err != nil {
		metrics.RecordFetch("error", l.now().Sub(start))
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if enc == "" {
		enc = "utf-8"
	}
	body, err := decodeNamed(raw, enc)
	if err != nil {
		metrics.RecordFetch("error", l.now().Sub(start))
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	metrics.RecordFetch("local", l.now().Sub(start))
	l.log.Debug("read local source", logger.String(logger.KeySource, path), logger.Int("bytes", len(raw)))
	return &Page{Location: path, HTML: body, Local: true}, nil
}

func (l *Loader) loadURL(ctx context.Context, loc, enc string) (*Page, error) {
	u, err := url.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("source %q is neither an existing file nor an http(s) url", loc)
	}

	var user *url.Userinfo
	if u.User != nil {
		user = u.User
		u = stripUserinfo(u)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if user != nil {
		pass, _ := user.Password()
		req.SetBasicAuth(user.Username(), pass)
	}

	start := l.now()
	resp, err := l.client.Do(req)
	if err != nil {
		metrics.RecordFetch("error", l.now().Sub(start))
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordFetch(strconv.Itoa(resp.StatusCode), l.now().Sub(start))
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Snippet: strings.TrimSpace(string(snippet))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordFetch("error", l.now().Sub(start))
		return nil, fmt.Errorf("read body: %w", err)
	}

	ct := resp.Header.Get("Content-Type")
	var body string
	if enc != "" {
		body, err = decodeNamed(raw, enc)
	} else {
		body, err = decodeSniffed(raw, ct)
	}
	if err != nil {
		metrics.RecordFetch("error", l.now().Sub(start))
		return nil, fmt.Errorf("decode %s: %w", u.Redacted(), err)
	}

	elapsed := l.now().Sub(start)
	metrics.RecordFetch("ok", elapsed)
	l.log.Debug("fetched source",
		logger.String(logger.KeyURL, u.Redacted()),
		logger.Int(logger.KeyStatus, resp.StatusCode),
		logger.Int("bytes", len(raw)),
		logger.Duration("elapsed", elapsed),
	)

	// Links resolve against the configured source, not a redirect target.
	return &Page{Location: u.String(), BaseURL: u, HTML: body, ContentType: ct}, nil
}

func stripUserinfo(u *url.URL) *url.URL {
	cp := *u
	cp.User = nil
	return &cp
}

// LookupEncoding resolves an encoding label the way HTML documents name
// them ("utf-8", "latin1", "windows-1252", "shift_jis", ...).
func LookupEncoding(name string) (encoding.Encoding, error) {
	e, err := htmlindex.Get(strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownEncoding, name)
	}
	return e, nil
}

func decodeNamed(raw []byte, name string) (string, error) {
	e, err := LookupEncoding(name)
	if err != nil {
		return "", err
	}
	out, _, err := transform.Bytes(e.NewDecoder(), raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func decodeSniffed(raw []byte, contentType string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
