package crawler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knobase/knobase/internal/progress"
)

func newTestCrawler() (*Crawler, *progress.Broadcaster) {
	b := progress.NewBroadcaster()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(&http.Client{}, b, log, 0, 1000)
	return c, b
}

func testSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body>
			<p>Home page text.</p>
			<a href="/about">About</a>
			<a href="/about?utm=1">About again</a>
			<a href="/contact#form">Contact</a>
			<a href="#top">Top</a>
			<a href="mailto:x@example.com">Mail</a>
			<a href="javascript:void(0)">JS</a>
			<a href="https://other.example.com/">External</a>
		</body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body><p>About page text.</p><a href="/team">Team</a></body></html>`)
	})
	mux.HandleFunc("/contact", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body><p>Contact page text.</p></body></html>`)
	})
	mux.HandleFunc("/team", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body><p>Team page text.</p></body></html>`)
	})
	return httptest.NewServer(mux)
}

func TestCrawlMaxDepthZeroFetchesOnlySeed(t *testing.T) {
	srv := testSite(t)
	defer srv.Close()
	c, _ := newTestCrawler()

	res, err := c.Crawl(context.Background(), Options{
		URL:           srv.URL + "/",
		CrawlSubpages: true,
		MaxDepth:      0,
		SessionID:     "s1",
	})
	require.NoError(t, err)
	assert.Len(t, res.CrawledURLs, 1)
	assert.Contains(t, res.Content, "--- Content from "+srv.URL+"/ ---")
	assert.Contains(t, res.Content, "Home page text.")
	assert.NotContains(t, res.Content, "About page text.")
}

func TestCrawlDepthOneDiscoversAndDeduplicates(t *testing.T) {
	srv := testSite(t)
	defer srv.Close()
	c, _ := newTestCrawler()

	res, err := c.Crawl(context.Background(), Options{
		URL:           srv.URL + "/",
		CrawlSubpages: true,
		MaxDepth:      1,
		SessionID:     "s1",
	})
	require.NoError(t, err)

	// Seed + about + contact; query and fragment variants collapse,
	// external/mailto/javascript links are skipped, /team is depth 2.
	assert.ElementsMatch(t, []string{
		srv.URL + "/",
		srv.URL + "/about",
		srv.URL + "/contact",
	}, res.CrawledURLs)
	assert.Contains(t, res.Content, "About page text.")
	assert.Contains(t, res.Content, "Contact page text.")
	assert.NotContains(t, res.Content, "Team page text.")
}

func TestCrawlProgressMonotonicAndTerminal(t *testing.T) {
	srv := testSite(t)
	defer srv.Close()
	c, b := newTestCrawler()

	ch, cancel := b.Subscribe("s-progress")
	defer cancel()

	events := make([]progress.Event, 0, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			events = append(events, ev)
		}
	}()

	_, err := c.Crawl(context.Background(), Options{
		URL:           srv.URL + "/",
		CrawlSubpages: true,
		MaxDepth:      2,
		SessionID:     "s-progress",
	})
	require.NoError(t, err)
	cancel()
	<-done

	require.NotEmpty(t, events)
	last := 0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Progress, last, "progress must not decrease")
		last = ev.Progress
	}
	assert.Equal(t, 100, events[len(events)-1].Progress)
	assert.Equal(t, "Crawl completed", events[len(events)-1].CurrentAction)
}

func TestCrawlDNSFailure(t *testing.T) {
	c, _ := newTestCrawler()

	_, err := c.Crawl(context.Background(), Options{
		URL:       "http://definitely-not-a-real-host.invalid/",
		SessionID: "s1",
	})
	var ce *CrawlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusNotFound, ce.Status)
	assert.Contains(t, ce.Message, "Website not found")
}

func TestCrawlSeedHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	c, _ := newTestCrawler()

	_, err := c.Crawl(context.Background(), Options{URL: srv.URL, SessionID: "s1"})
	var ce *CrawlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusNotFound, ce.Status)
}

func TestCrawlNonHTMLSeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, "%PDF-")
	}))
	defer srv.Close()
	c, _ := newTestCrawler()

	_, err := c.Crawl(context.Background(), Options{URL: srv.URL, SessionID: "s1"})
	var ce *CrawlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusUnsupportedMediaType, ce.Status)
}

func TestCrawlRobotsDisallowedSeed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body><p>secret</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c, _ := newTestCrawler()

	_, err := c.Crawl(context.Background(), Options{
		URL:           srv.URL + "/private",
		RespectRobots: true,
		SessionID:     "s1",
	})
	var ce *CrawlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusForbidden, ce.Status)
	assert.Contains(t, ce.Message, "robots.txt")
}

func TestCrawlRobotsDisallowedSubpageSkipped(t *testing.T) {
	var privateHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body>
			<p>Start page text.</p>
			<a href="/public">Public</a>
			<a href="/private">Private</a>
		</body></html>`)
	})
	mux.HandleFunc("/public", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body><p>Public page text.</p></body></html>`)
	})
	mux.HandleFunc("/private", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&privateHits, 1)
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body><p>Secret page text.</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c, _ := newTestCrawler()

	res, err := c.Crawl(context.Background(), Options{
		URL:           srv.URL + "/start",
		CrawlSubpages: true,
		MaxDepth:      1,
		RespectRobots: true,
		SessionID:     "s1",
	})
	require.NoError(t, err)

	assert.EqualValues(t, 0, atomic.LoadInt32(&privateHits), "disallowed page must never be fetched")
	assert.NotContains(t, res.Content, "Secret page text.")
	assert.NotContains(t, res.CrawledURLs, srv.URL+"/private")
	assert.Contains(t, res.CrawledURLs, srv.URL+"/public")
	assert.Contains(t, res.Content, "Public page text.")
}

func TestCrawlDeadAndNonHTMLLinksExcluded(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body>
			<p>Home page text.</p>
			<a href="/ok">OK</a>
			<a href="/missing">Missing</a>
			<a href="/report.pdf">Report</a>
		</body></html>`)
	})
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body><p>OK page text.</p></body></html>`)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/report.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, "%PDF-")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c, _ := newTestCrawler()

	res, err := c.Crawl(context.Background(), Options{
		URL:           srv.URL + "/",
		CrawlSubpages: true,
		MaxDepth:      1,
		SessionID:     "s1",
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		srv.URL + "/",
		srv.URL + "/ok",
	}, res.CrawledURLs)
}

func TestCrawlRobotsFetchFailureAllows(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body><p>open content</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c, _ := newTestCrawler()

	res, err := c.Crawl(context.Background(), Options{
		URL:           srv.URL + "/",
		RespectRobots: true,
		SessionID:     "s1",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "open content")
}

func TestCrawlEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body><script>render()</script></body></html>`)
	}))
	defer srv.Close()
	c, _ := newTestCrawler()

	_, err := c.Crawl(context.Background(), Options{URL: srv.URL, SessionID: "s1"})
	var ce *CrawlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusBadRequest, ce.Status)
	assert.Contains(t, ce.Message, "No content could be extracted")
}

func TestCrawlCancellation(t *testing.T) {
	srv := testSite(t)
	defer srv.Close()
	c, _ := newTestCrawler()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Crawl(ctx, Options{URL: srv.URL + "/", SessionID: "s1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCrawlExcludeNavigation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<html><body>
			<nav><a href="/x">NavLink</a></nav>
			<p>Real body text.</p>
		</body></html>`)
	}))
	defer srv.Close()
	c, _ := newTestCrawler()

	res, err := c.Crawl(context.Background(), Options{
		URL:               srv.URL,
		ExcludeNavigation: true,
		SessionID:         "s1",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "Real body text.")
	assert.False(t, strings.Contains(res.Content, "NavLink"))
}
