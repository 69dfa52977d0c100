package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"rssss/internal/config"
	"rssss/internal/feeds"
	"rssss/internal/storage"
)

const testRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Relay Test</title>
<link>https://example.com/</link>
<description>desc</description>
<item><title>One</title><link>https://example.com/1</link></item>
<item><title>Two</title><link>https://example.com/2</link></item>
</channel></rss>`

// upstream is a fake feed origin that counts the requests it receives.
type upstream struct {
	*httptest.Server
	hits atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testRSS)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/feed.xml", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/chain", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/moved", http.StatusFound)
	})
	mux.HandleFunc("/no-location", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSeeOther)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream detail", http.StatusGone)
	})
	mux.HandleFunc("/html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>secret upstream page</body></html>")
	})
	mux.HandleFunc("/huge", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 1048577))
	})
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

type testEnv struct {
	server   *Server
	handler  http.Handler
	registry *prometheus.Registry
	db       *sql.DB
}

func newTestEnv(t *testing.T, withJournal bool) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	var db *sql.DB
	if withJournal {
		var err error
		db, err = storage.InitDB(filepath.Join(t.TempDir(), "fetches.db"))
		if err != nil {
			t.Fatalf("init db: %v", err)
		}
		t.Cleanup(func() { db.Close() })
	}

	resolver := feeds.NewResolver(config.DefaultConfig().Fetch, feeds.NewDecoder(), logger)
	registry := prometheus.NewRegistry()
	s := NewServer(resolver, db, registry, logger)
	return &testEnv{server: s, handler: s.Routes(), registry: registry, db: db}
}

func (e *testEnv) get(target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func feedPath(target string) string {
	return "/feed?url=" + url.QueryEscape(target)
}

func TestHandleFeedSuccess(t *testing.T) {
	up := newUpstream(t)
	env := newTestEnv(t, false)

	rec := env.get(feedPath(up.URL+"/feed.xml"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}

	var doc feeds.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if doc.Title != "Relay Test" || len(doc.Items) != 2 {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if got := testutil.ToFloat64(env.server.metrics.OutcomesTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("success counter = %v", got)
	}
}

func TestHandleFeedRedirectEquivalence(t *testing.T) {
	up := newUpstream(t)
	env := newTestEnv(t, false)

	direct := env.get(feedPath(up.URL+"/feed.xml"), nil)
	redirected := env.get(feedPath(up.URL+"/moved"), nil)

	if redirected.Code != http.StatusOK {
		t.Fatalf("status = %d", redirected.Code)
	}
	if redirected.Body.String() != direct.Body.String() {
		t.Fatalf("redirected body differs:\n%s\n%s", redirected.Body, direct.Body)
	}
	if got := testutil.ToFloat64(env.server.metrics.RedirectsTotal); got != 1 {
		t.Fatalf("redirect counter = %v", got)
	}
}

func TestHandleFeedTwoRedirectsPassesThroughStatus(t *testing.T) {
	up := newUpstream(t)
	env := newTestEnv(t, false)

	rec := env.get(feedPath(up.URL+"/chain"), nil)
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301 from the second hop", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("body should be empty, got %q", rec.Body)
	}
	if loc := rec.Header().Get("Location"); loc != "" {
		t.Fatalf("upstream headers relayed: Location = %q", loc)
	}
}

func TestHandleFeedErrorsAreOpaque(t *testing.T) {
	up := newUpstream(t)
	env := newTestEnv(t, false)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"redirect without location", "/no-location", http.StatusInternalServerError},
		{"upstream status", "/gone", http.StatusGone},
		{"malformed feed", "/html", http.StatusInternalServerError},
		{"body over limit", "/huge", http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.get(feedPath(up.URL+tc.path), nil)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			if rec.Body.Len() != 0 {
				t.Fatalf("body should be empty, got %q", rec.Body)
			}
		})
	}
}

func TestHandleFeedTransportFailure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	target := dead.URL
	dead.Close()

	env := newTestEnv(t, false)
	rec := env.get(feedPath(target), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("body should be empty, got %q", rec.Body)
	}
}

func TestHandleFeedMissingURL(t *testing.T) {
	up := newUpstream(t)
	env := newTestEnv(t, false)

	for _, path := range []string{"/feed", "/feed?url=", "/feed?other=" + url.QueryEscape(up.URL)} {
		rec := env.get(path, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
	}
	if hits := up.hits.Load(); hits != 0 {
		t.Fatalf("upstream received %d requests", hits)
	}
	if got := testutil.ToFloat64(env.server.metrics.MissingURLsTotal); got != 3 {
		t.Fatalf("missing url counter = %v", got)
	}
}

type countingResolver struct {
	calls atomic.Int32
}

func (c *countingResolver) Resolve(ctx context.Context, rawURL string) feeds.Outcome {
	c.calls.Add(1)
	return feeds.Outcome{Kind: feeds.KindUpstreamStatus, URL: rawURL, Status: http.StatusNotFound}
}

func TestHandleFeedMissingURLSkipsResolver(t *testing.T) {
	resolver := &countingResolver{}
	s := NewServer(resolver, nil, prometheus.NewRegistry(), zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if resolver.calls.Load() != 0 {
		t.Fatal("resolver was called")
	}

	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feed?url=http://example.invalid/", nil))
	if rec.Code != http.StatusNotFound || resolver.calls.Load() != 1 {
		t.Fatalf("status = %d calls = %d", rec.Code, resolver.calls.Load())
	}
}

func TestCORS(t *testing.T) {
	up := newUpstream(t)
	env := newTestEnv(t, false)

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/feed", nil)
		req.Header.Set("Origin", "https://reader.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("allow origin = %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodGet) {
			t.Fatalf("allow methods = %q", got)
		}
		if hits := up.hits.Load(); hits != 0 {
			t.Fatalf("preflight reached upstream %d times", hits)
		}
	})

	t.Run("actual request", func(t *testing.T) {
		rec := env.get(feedPath(up.URL+"/feed.xml"), http.Header{"Origin": {"https://other.example"}})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("allow origin = %q", got)
		}
	})
}

func TestHandleFetchesJournal(t *testing.T) {
	up := newUpstream(t)
	env := newTestEnv(t, true)

	env.get(feedPath(up.URL+"/moved"), nil)
	env.get(feedPath(up.URL+"/gone"), nil)

	rec := env.get("/fetches?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var records []storage.FetchRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d", len(records))
	}

	byOutcome := map[string]storage.FetchRecord{}
	for _, r := range records {
		byOutcome[r.Outcome] = r
	}
	success, ok := byOutcome["success"]
	if !ok {
		t.Fatalf("no success record: %+v", records)
	}
	if success.Hops != 1 || success.FinalURL != up.URL+"/feed.xml" || success.ResponseStatus != http.StatusOK {
		t.Fatalf("unexpected success record: %+v", success)
	}
	gone := byOutcome["upstream_status"]
	if gone.UpstreamStatus != http.StatusGone || gone.ResponseStatus != http.StatusGone {
		t.Fatalf("unexpected status record: %+v", gone)
	}
}

func TestHandleFetchesValidation(t *testing.T) {
	disabled := newTestEnv(t, false)
	if rec := disabled.get("/fetches", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled journal: status = %d", rec.Code)
	}

	enabled := newTestEnv(t, true)
	for _, limit := range []string{"0", "-3", "abc"} {
		if rec := enabled.get("/fetches?limit="+limit, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("limit %s: status = %d", limit, rec.Code)
		}
	}
	if rec := enabled.get("/fetches?limit=100000", nil); rec.Code != http.StatusOK {
		t.Fatalf("large limit: status = %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	for _, withJournal := range []bool{false, true} {
		env := newTestEnv(t, withJournal)
		rec := env.get("/healthz", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("journal=%v: status = %d", withJournal, rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		want := "disabled"
		if withJournal {
			want = "healthy"
		}
		if body["journal"] != want {
			t.Fatalf("journal = %q, want %q", body["journal"], want)
		}
		if withJournal && body["journal_records"] != "0" {
			t.Fatalf("journal records = %q", body["journal_records"])
		}
	}
}

func TestHandleFetchesHidesCausesAndQueries(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	target := dead.URL + "/private?token=s3cret#frag"
	dead.Close()

	env := newTestEnv(t, true)
	if rec := env.get(feedPath(target), nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("feed status = %d", rec.Code)
	}

	stored, err := storage.ListRecentFetches(env.db, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Error == "" {
		t.Fatalf("cause should be kept in the journal: %+v", stored)
	}

	rec := env.get("/fetches", http.Header{"Origin": {"https://evil.example"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, leak := range []string{"s3cret", "token", "connection refused", "dial tcp", `"error"`} {
		if strings.Contains(body, leak) {
			t.Fatalf("listing contains %q: %s", leak, body)
		}
	}
	if !strings.Contains(body, dead.URL+"/private") {
		t.Fatalf("listing lost the url path: %s", body)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("fetches allow origin = %q", got)
	}
}

func TestCORSOnlyOnFeed(t *testing.T) {
	env := newTestEnv(t, true)
	origin := http.Header{"Origin": {"https://evil.example"}}

	for _, path := range []string{"/fetches", "/metrics", "/healthz"} {
		rec := env.get(path, origin)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Fatalf("%s: allow origin = %q", path, got)
		}

		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "https://evil.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		pre := httptest.NewRecorder()
		env.handler.ServeHTTP(pre, req)
		if got := pre.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Fatalf("%s preflight: allow origin = %q", path, got)
		}
	}
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://user:pw@example.com/feed?token=x#top", "https://example.com/feed"},
		{"http://example.com/rss", "http://example.com/rss"},
		{"http://example.com/rss?", "http://example.com/rss"},
		{"://bad", ""},
	}
	for _, tc := range tests {
		if got := redactURL(tc.in); got != tc.want {
			t.Fatalf("redactURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	up := newUpstream(t)
	env := newTestEnv(t, false)
	env.get(feedPath(up.URL+"/feed.xml"), nil)

	rec := env.get("/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `rssss_fetch_outcomes_total{outcome="success"} 1`) {
		t.Fatalf("metrics output missing outcome counter:\n%s", rec.Body)
	}
}
