package torznab

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"feedinput/internal/logger"
)

const fullCaps = `<?xml version="1.0" encoding="UTF-8"?>
<caps>
  <server title="Test"/>
  <searching>
    <search available="yes" supportedParams="q"/>
    <tv-search available="yes" supportedParams="q,season,ep,tvdbid"/>
    <movie-search available="no" supportedParams="q,imdbid"/>
  </searching>
  <categories>
    <category id="2000" name="Movies">
      <subcat id="2040" name="Movies/HD"/>
    </category>
    <category id="5000" name="TV">
      <subcat id="5030" name="TV/SD"/>
      <subcat id="5040" name="TV/HD"/>
    </category>
  </categories>
</caps>`

type indexer struct {
	srv   *httptest.Server
	calls atomic.Int32
	last  atomic.Value
}

func newIndexer(t *testing.T, status int, body string) *indexer {
	t.Helper()
	ix := &indexer{}
	ix.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ix.calls.Add(1)
		ix.last.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ix.srv.Close)
	return ix
}

func mustClient(t *testing.T, cfg Config, opts ...Option) *Client {
	t.Helper()
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c
}

func queryOf(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query()
}

func TestConfig_NormalizeAndValidate(t *testing.T) {
	t.Parallel()

	c := Config{Website: "http://ix/", APIKey: "k", Searcher: "TV"}.Normalized()
	assert.Equal(t, SearcherTVSearch, c.Searcher)
	require.NoError(t, c.Validate())

	c = Config{Website: "http://ix", APIKey: "k"}.Normalized()
	assert.Equal(t, SearcherSearch, c.Searcher)

	err := Config{Website: "ix.local", Searcher: "music"}.Normalized().Validate()
	require.ErrorIs(t, err, ErrBadWebsite)
	require.ErrorIs(t, err, ErrMissingAPIKey)
	require.ErrorIs(t, err, ErrBadSearcher)

	require.ErrorIs(t, Config{APIKey: "k"}.Validate(), ErrMissingWebsite)
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	c, err := ParseYAML([]byte("website: https://ix.example\napikey: abc\ncategories: [5000, 5030]\nsearcher: tv\n"))
	require.NoError(t, err)
	assert.Equal(t, SearcherTVSearch, c.Searcher)
	assert.Equal(t, []int{5000, 5030}, c.Categories)

	_, err = ParseYAML([]byte("website: https://ix\napikey: abc\nindexer: x\n"))
	require.Error(t, err)
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	c := mustClient(t, Config{Website: "https://ix.example/sub/", APIKey: "a b"})
	got := c.BuildURL(url.Values{"t": {"caps"}})
	assert.True(t, strings.HasPrefix(got, "https://ix.example/sub/api?"), got)
	q := queryOf(t, got)
	assert.Equal(t, "a b", q.Get("apikey"))
	assert.Equal(t, "1", q.Get("extended"))
	assert.Equal(t, "caps", q.Get("t"))
}

func TestParseCaps(t *testing.T) {
	t.Parallel()

	caps, err := ParseCaps([]byte(fullCaps))
	require.NoError(t, err)

	assert.True(t, caps.Searchers["search"].Usable())
	assert.True(t, caps.Searchers["tv-search"].Supports("TVDBID"))
	assert.False(t, caps.Searchers["movie-search"].Usable())
	assert.Equal(t, []int{2000, 2040, 5000, 5030, 5040}, caps.CategoryIDs())
	assert.True(t, caps.HasCategory(5040))
	assert.False(t, caps.HasCategory(7000))
	require.Len(t, caps.Categories, 2)
	assert.Equal(t, "TV/HD", caps.Categories[1].Subcats[1].Name)
}

func TestParseCaps_LowercaseAttributes(t *testing.T) {
	t.Parallel()

	caps, err := ParseCaps([]byte(`<caps><searching><search available="YES" supportedparams="q, imdbid"/></searching></caps>`))
	require.NoError(t, err)
	s := caps.Searchers["search"]
	assert.True(t, s.Usable())
	assert.Equal(t, []string{"q", "imdbid"}, s.SupportedParams)
}

func TestParseCaps_Errors(t *testing.T) {
	t.Parallel()

	_, err := ParseCaps([]byte(`<error code="100" description="Incorrect user credentials"/>`))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 100, apiErr.Code)

	_, err = ParseCaps([]byte(`<rss/>`))
	require.Error(t, err)

	_, err = ParseCaps([]byte(`not xml`))
	require.Error(t, err)
}

func TestSetup_RequestedSearcher(t *testing.T) {
	t.Parallel()

	ix := newIndexer(t, http.StatusOK, fullCaps)
	c := mustClient(t, Config{Website: ix.srv.URL, APIKey: "k", Searcher: "tv"})

	require.NoError(t, c.Setup(context.Background()))
	q := ix.last.Load().(url.Values)
	assert.Equal(t, "caps", q.Get("t"))
	assert.Equal(t, "k", q.Get("apikey"))

	kind, s := c.Searcher()
	assert.Equal(t, SearcherTVSearch, kind)
	assert.Equal(t, []string{"q", "season", "ep", "tvdbid"}, s.SupportedParams)

	// Set up once.
	require.NoError(t, c.Setup(context.Background()))
	assert.EqualValues(t, 1, ix.calls.Load())
}

func TestSetup_FallbackToSearchWarns(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	ix := newIndexer(t, http.StatusOK, fullCaps)
	c := mustClient(t, Config{Website: ix.srv.URL, APIKey: "k", Searcher: "movie"},
		WithLogger(logger.FromZap(zap.New(core))))

	require.NoError(t, c.Setup(context.Background()))
	kind, _ := c.Searcher()
	assert.Equal(t, SearcherSearch, kind)
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "'movie-search' searcher not available")
}

func TestSetup_NoSearcher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		searcher string
		caps     string
	}{
		{name: "empty_searching", searcher: "search", caps: `<caps><searching/></caps>`},
		{name: "search_unavailable", searcher: "search", caps: `<caps><searching><search available="no" supportedParams="q"/></searching></caps>`},
		{name: "no_params", searcher: "tv", caps: `<caps><searching><search available="yes" supportedParams=""/></searching></caps>`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ix := newIndexer(t, http.StatusOK, tc.caps)
			c := mustClient(t, Config{Website: ix.srv.URL, APIKey: "k", Searcher: tc.searcher})
			require.ErrorIs(t, c.Setup(context.Background()), ErrNoSearcher)
		})
	}
}

func TestSetup_HTTPErrorIsRetried(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(fullCaps))
	}))
	defer srv.Close()

	c := mustClient(t, Config{Website: srv.URL, APIKey: "k"})
	err := c.Setup(context.Background())
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Status)
	assert.Nil(t, c.Caps())

	fail.Store(false)
	require.NoError(t, c.Setup(context.Background()))
	assert.NotNil(t, c.Caps())
}

func TestSearchURL_ParamsAndCategories(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	ix := newIndexer(t, http.StatusOK, fullCaps)
	c := mustClient(t,
		Config{Website: ix.srv.URL, APIKey: "k", Searcher: "tvsearch", Categories: []int{5040, 9999, 5030}},
		WithLogger(logger.FromZap(zap.New(core))),
	)

	raw, err := c.SearchURL(context.Background(), SearchQuery{
		Query:  "show name",
		Season: "2",
		Ep:     "5",
		IMDBID: "tt123",
	})
	require.NoError(t, err)

	q := queryOf(t, raw)
	assert.Equal(t, "tvsearch", q.Get("t"))
	assert.Equal(t, "show name", q.Get("q"))
	assert.Equal(t, "2", q.Get("season"))
	assert.Equal(t, "5", q.Get("ep"))
	assert.Empty(t, q.Get("imdbid"), "tv-search does not advertise imdbid")
	assert.Equal(t, "5030,5040", q.Get("cat"))
	assert.Equal(t, "1", q.Get("extended"))

	assert.Equal(t, []int{5030, 5040}, c.Categories())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, int64(9999), logs.All()[0].ContextMap()["category"])
}

func TestSearch_ReturnsNoEntries(t *testing.T) {
	t.Parallel()

	ix := newIndexer(t, http.StatusOK, fullCaps)
	c := mustClient(t, Config{Website: ix.srv.URL, APIKey: "k"})
	got, err := c.Search(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	bad := mustClient(t, Config{Website: newIndexer(t, http.StatusOK, `<caps/>`).srv.URL, APIKey: "k"})
	_, err = bad.Search(context.Background(), nil)
	require.True(t, errors.Is(err, ErrNoSearcher))
}

func TestSetup_Concurrent(t *testing.T) {
	t.Parallel()

	ix := newIndexer(t, http.StatusOK, fullCaps)
	c := mustClient(t, Config{Website: ix.srv.URL, APIKey: "k"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.SearchURL(context.Background(), SearchQuery{Query: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ix.calls.Load())
}
