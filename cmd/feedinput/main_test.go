package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const listingHTML = `<html><body>
<div class="item"><a href="/show/1">First</a><span class="size">1.2 GB</span></div>
<div class="item"><a href="/show/2">Second</a></div>
<div class="ad"><a href="/buy">Buy now</a></div>
</body></html>`

const capsXML = `<caps><searching>
<search available="yes" supportedParams="q"/>
<tv-search available="yes" supportedParams="q,season,ep"/>
</searching><categories><category id="5000" name="TV"><subcat id="5040" name="TV/HD"/></category></categories></caps>`

func serve(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/api") {
			w.Header().Set("Content-Type", "application/xml")
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func soupConfig(source string) string {
	return `soup_parse:
  source: ` + source + `
  sections:
    - element_name: div
      attribute_name: class
      attribute_value: item
  keys:
    title:
      section: [a]
    url:
      section: [a]
      location: url
    size:
      section:
        - element_name: span
          attribute_name: class
          attribute_value: size
log:
  level: error
`
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr, http.DefaultClient)
	return code, stdout.String(), stderr.String()
}

func TestRun_SoupParseRemote(t *testing.T) {
	t.Parallel()

	srv := serve(t, listingHTML)
	cfg := writeConfig(t, "feedinput.yaml", soupConfig(srv.URL+"/list"))

	code, out, errOut := execute(t, "soup-parse", "--config", cfg)
	if code != 0 {
		t.Fatalf("exit %d; stderr=%s", code, errOut)
	}

	var got []map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("stdout is not a JSON array: %v; out=%s", err, out)
	}
	// The second item has no size; the key must be absent, not empty.
	want := []map[string]string{
		{"title": "First", "url": srv.URL + "/show/1", "size": "1.2 GB"},
		{"title": "Second", "url": srv.URL + "/show/2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_SoupParseLocalFileJSON5(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	page := filepath.Join(dir, "page.html")
	if err := os.WriteFile(page, []byte(listingHTML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := writeConfig(t, "feedinput.json5", `{
  // local source, relative hrefs stay as written
  soup_parse: {
    source: '`+filepath.ToSlash(page)+`',
    sections: [{element_name: 'div', attribute_name: 'class', attribute_value: 'item'}],
    keys: {title: {section: ['a']}, url: {section: ['a'], location: 'url'}},
  },
  log: {level: 'error'},
}`)

	code, out, errOut := execute(t, "soup-parse", "-c", cfg, "--no-cache")
	if code != 0 {
		t.Fatalf("exit %d; stderr=%s", code, errOut)
	}
	if !strings.Contains(out, `"url": "/show/2"`) {
		t.Fatalf("expected unjoined href in output: %s", out)
	}
}

func TestRun_ExitCodes(t *testing.T) {
	t.Parallel()

	badRegex := writeConfig(t, "bad.yaml", `soup_parse:
  source: http://127.0.0.1:1/
  keys:
    title: {regexps: [{regexp: "(unclosed"}]}
    url: {}
`)
	noURLKey := writeConfig(t, "nourl.yaml", "soup_parse:\n  source: x\n  keys:\n    title: {}\n")
	unknownKey := writeConfig(t, "unknown.yaml", "soup_parse:\n  source: x\n  sorce: y\n")
	unreachable := writeConfig(t, "down.yaml", soupConfig("http://127.0.0.1:1/list"))
	noSection := writeConfig(t, "empty.yaml", "log:\n  level: error\n")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "bad_regex", args: []string{"soup-parse", "--config", badRegex}, want: 2},
		{name: "missing_url_key", args: []string{"validate", "--config", noURLKey}, want: 2},
		{name: "unknown_config_key", args: []string{"soup-parse", "--config", unknownKey}, want: 2},
		{name: "missing_file", args: []string{"soup-parse", "--config", filepath.Join(t.TempDir(), "nope.yaml")}, want: 2},
		{name: "unknown_flag", args: []string{"soup-parse", "--bogus"}, want: 2},
		{name: "no_soup_parse_section", args: []string{"soup-parse", "--config", noSection}, want: 2},
		{name: "fetch_failure", args: []string{"soup-parse", "--config", unreachable}, want: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, _, errOut := execute(t, tc.args...)
			if code != tc.want {
				t.Fatalf("exit %d, want %d; stderr=%s", code, tc.want, errOut)
			}
		})
	}
}

func TestRun_Validate(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "ok.yaml", soupConfig("http://example.com/")+`torznab:
  website: https://ix.example
  apikey: k
  searcher: tv
`)
	code, out, errOut := execute(t, "validate", "--config", cfg)
	if code != 0 {
		t.Fatalf("exit %d; stderr=%s", code, errOut)
	}
	if !strings.Contains(out, "config is valid") {
		t.Fatalf("unexpected output: %s", out)
	}

	bad := writeConfig(t, "badtz.yaml", "torznab:\n  website: ix\n  apikey: k\n")
	if code, _, _ := execute(t, "validate", "--config", bad); code != 2 {
		t.Fatalf("invalid torznab config: exit %d, want 2", code)
	}
}

func TestRun_DebugSectionsText(t *testing.T) {
	t.Parallel()

	srv := serve(t, listingHTML)
	cfg := writeConfig(t, "feedinput.yaml", soupConfig(srv.URL))

	code, out, errOut := execute(t, "debug-sections", "--config", cfg, "--text")
	if code != 0 {
		t.Fatalf("exit %d; stderr=%s", code, errOut)
	}
	if !strings.Contains(out, "<!-- section #2 -->") || strings.Contains(out, "Buy now") {
		t.Fatalf("unexpected sections output:\n%s", out)
	}
}

func TestRun_SQLiteCacheFallback(t *testing.T) {
	t.Parallel()

	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(listingHTML))
	}))
	defer srv.Close()

	db := filepath.Join(t.TempDir(), "cache.db")
	cfg := writeConfig(t, "feedinput.yaml", soupConfig(srv.URL)+`cache:
  kind: sqlite
  dsn: `+db+`
  persist: 1h
`)

	code, first, errOut := execute(t, "soup-parse", "--config", cfg)
	if code != 0 {
		t.Fatalf("first run exit %d; stderr=%s", code, errOut)
	}

	down.Store(true)
	code, second, errOut := execute(t, "soup-parse", "--config", cfg)
	if code != 0 {
		t.Fatalf("fallback run exit %d; stderr=%s", code, errOut)
	}
	if first != second {
		t.Fatalf("fallback output differs:\nfirst=%s\nsecond=%s", first, second)
	}
}

func TestRun_TorznabURLAndCaps(t *testing.T) {
	t.Parallel()

	srv := serve(t, capsXML)
	cfg := writeConfig(t, "feedinput.yaml", `torznab:
  website: `+srv.URL+`/
  apikey: secret
  searcher: tv
  categories: [5040, 1234]
log:
  level: error
`)

	code, out, errOut := execute(t, "torznab", "url", "--config", cfg, "-q", "some show", "--season", "3", "--imdbid", "tt1")
	if code != 0 {
		t.Fatalf("exit %d; stderr=%s", code, errOut)
	}
	u, err := url.Parse(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("bad url %q: %v", out, err)
	}
	q := u.Query()
	if q.Get("t") != "tvsearch" || q.Get("season") != "3" || q.Get("imdbid") != "" || q.Get("cat") != "5040" {
		t.Fatalf("unexpected query: %v", q)
	}

	code, out, errOut = execute(t, "torznab", "caps", "--config", cfg)
	if code != 0 {
		t.Fatalf("caps exit %d; stderr=%s", code, errOut)
	}
	var report capsReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("caps output: %v; out=%s", err, out)
	}
	if report.Element != "tv-search" || len(report.Advertised) != 2 {
		t.Fatalf("unexpected caps report: %+v", report)
	}

	if code, _, _ := execute(t, "torznab", "url", "--config", cfg); code != 2 {
		t.Fatalf("missing --query: exit %d, want 2", code)
	}
}
