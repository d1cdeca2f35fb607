package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// TestLoader_LocalFile verifies an existing path is read from disk and has
// no join base.
func TestLoader_LocalFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "page.html", []byte(`<a href="/x">x</a>`))
	l := NewLoader(nil, time.Second, nil)

	p, err := l.Load(context.Background(), Source{Location: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !p.Local || p.BaseURL != nil {
		t.Fatalf("expected local page without base, got %+v", p)
	}
	if p.HTML != `<a href="/x">x</a>` {
		t.Fatalf("unexpected html: %q", p.HTML)
	}
	if got := p.ResolveHref("/x"); got != "/x" {
		t.Fatalf("local href resolved to %q", got)
	}
}

func TestLoader_LocalFileEncoding(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "latin1.html", []byte("<p>caf\xe9</p>"))
	l := NewLoader(nil, time.Second, nil)

	p, err := l.Load(context.Background(), Source{Location: path, Encoding: "latin1"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.HTML != "<p>café</p>" {
		t.Fatalf("unexpected html: %q", p.HTML)
	}

	_, err = l.Load(context.Background(), Source{Location: path, Encoding: "klingon"})
	if !errors.Is(err, ErrUnknownEncoding) {
		t.Fatalf("expected ErrUnknownEncoding, got %v", err)
	}
}

// TestLoader_URL_Non2xx verifies we include status code and a body snippet.
func TestLoader_URL_Non2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	l := NewLoader(&http.Client{Timeout: 2 * time.Second}, 2*time.Second, nil)
	_, err := l.Load(context.Background(), Source{Location: srv.URL})

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.Code != http.StatusForbidden || se.Snippet != "nope" {
		t.Fatalf("unexpected status error: %+v", se)
	}
	if !strings.Contains(err.Error(), "http status 403") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestLoader_URL_CharsetAndBase(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old/list", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new/list", http.StatusFound)
	})
	mux.HandleFunc("/new/list", func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("user agent=%q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<p>caf\xe9</p>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	l := NewLoader(srv.Client(), 2*time.Second, nil)
	p, err := l.Load(context.Background(), Source{Location: srv.URL + "/old/list"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.HTML != "<p>café</p>" {
		t.Fatalf("charset not applied: %q", p.HTML)
	}
	if p.Local {
		t.Fatalf("remote page marked local")
	}
	if got, want := p.ResolveHref("item?id=1"), srv.URL+"/old/item?id=1"; got != want {
		t.Fatalf("ResolveHref=%q, want %q", got, want)
	}
}

// TestLoader_URL_BasicAuth verifies credentials in the source URL are sent
// as basic auth and kept out of the join base.
func TestLoader_URL_BasicAuth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "s3cret" {
			http.Error(w, "auth", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("<p>ok</p>"))
	}))
	t.Cleanup(srv.Close)

	u, _ := url.Parse(srv.URL + "/feed")
	u.User = url.UserPassword("alice", "s3cret")

	l := NewLoader(srv.Client(), 2*time.Second, nil)
	p, err := l.Load(context.Background(), Source{Location: u.String()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.BaseURL.User != nil || strings.Contains(p.Location, "s3cret") {
		t.Fatalf("credentials leaked into page: %+v", p)
	}
}

func TestLoader_Override(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<p>caf\xe9</p>"))
	}))
	t.Cleanup(srv.Close)

	l := NewLoader(srv.Client(), 2*time.Second, nil)
	p, err := l.Load(context.Background(), Source{Location: srv.URL, Encoding: "windows-1252"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.HTML != "<p>café</p>" {
		t.Fatalf("override not applied: %q", p.HTML)
	}
}

func TestLoader_NeitherFileNorURL(t *testing.T) {
	t.Parallel()

	l := NewLoader(nil, time.Second, nil)
	for _, loc := range []string{"", "no/such/file.html", "ftp://example.com/x"} {
		if _, err := l.Load(context.Background(), Source{Location: loc}); err == nil {
			t.Fatalf("Load(%q): expected error", loc)
		}
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if got := ExpandHome("~/pages/a.html"); got != filepath.Join(home, "pages/a.html") {
		t.Fatalf("ExpandHome=%q", got)
	}
	if got := ExpandHome("~"); got != home {
		t.Fatalf("ExpandHome(~)=%q", got)
	}
	if got := ExpandHome("/abs/~/x"); got != "/abs/~/x" {
		t.Fatalf("ExpandHome changed non-home path: %q", got)
	}

	path := filepath.Join(home, "p.html")
	if err := os.WriteFile(path, []byte("<b>home</b>"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := NewLoader(nil, time.Second, nil).Load(context.Background(), Source{Location: "~/p.html"})
	if err != nil || !p.Local {
		t.Fatalf("Load(~/p.html)=%+v, %v", p, err)
	}
}

// TestResolveHref verifies only scheme-less hrefs are joined.
func TestResolveHref(t *testing.T) {
	t.Parallel()

	base, _ := url.Parse("https://tracker.example/browse/page/2")
	p := &Page{BaseURL: base}

	tests := []struct {
		in, want string
	}{
		{"/torrent/9", "https://tracker.example/torrent/9"},
		{"dl?id=3", "https://tracker.example/browse/page/dl?id=3"},
		{"//cdn.example/a", "https://cdn.example/a"},
		{"http://other.example/x", "http://other.example/x"},
		{"magnet:?xt=urn:btih:abc", "magnet:?xt=urn:btih:abc"},
		{"  /padded ", "https://tracker.example/padded"},
		{"  ", ""},
	}
	for _, tc := range tests {
		if got := p.ResolveHref(tc.in); got != tc.want {
			t.Fatalf("ResolveHref(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}

	var nilPage *Page
	if got := nilPage.ResolveHref("/x"); got != "/x" {
		t.Fatalf("nil page resolved to %q", got)
	}
}

func TestPage_Document(t *testing.T) {
	t.Parallel()

	doc, err := (&Page{HTML: "<ul><li>a</li><li>b</li></ul>"}).Document()
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if n := doc.Find("li").Length(); n != 2 {
		t.Fatalf("li count=%d", n)
	}
}
