// Package crawler fetches a website into a single text corpus. A crawl
// runs in two passes: a breadth-first discovery pass that collects the
// same-host URL set up to a depth bound, then a sequential processing
// pass that re-fetches each page and extracts its text. Progress is
// published per session through the broadcaster.
package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/knobase/knobase/internal/extractor"
	"github.com/knobase/knobase/internal/progress"
)

const userAgent = "Knobase Crawler/1.0"

// Options configures one crawl session.
type Options struct {
	URL               string
	CrawlSubpages     bool
	MaxDepth          int
	ExcludeNavigation bool
	RespectRobots     bool
	SessionID         string
}

// Result is the outcome of a successful crawl.
type Result struct {
	Content     string
	CrawledURLs []string
	BaseURL     *url.URL
}

// Crawler runs crawl sessions. Safe for concurrent use; each session
// owns its own frontier, visited set and robots cache.
type Crawler struct {
	client      *http.Client
	broadcaster *progress.Broadcaster
	log         *slog.Logger
	fetchLimit  int64
	ratePerSec  float64
	maxDepth    int
}

func New(client *http.Client, broadcaster *progress.Broadcaster, log *slog.Logger, fetchLimit int64, ratePerSec float64) *Crawler {
	if fetchLimit <= 0 {
		fetchLimit = 5 << 20
	}
	if ratePerSec <= 0 {
		ratePerSec = 4
	}
	return &Crawler{
		client:      client,
		broadcaster: broadcaster,
		log:         log,
		fetchLimit:  fetchLimit,
		ratePerSec:  ratePerSec,
		maxDepth:    10,
	}
}

type frontierItem struct {
	url   string
	depth int
}

// session is the per-crawl state. Nothing here is shared between
// concurrent crawls.
type session struct {
	c           *Crawler
	opts        Options
	seed        *url.URL
	robots      *robotsCache
	limiter     *rate.Limiter
	order       []string
	lastPercent int
}

// Crawl runs a full session. Seed failures return a *CrawlError with
// the status the API relays; sub-page failures are logged and skipped.
func (c *Crawler) Crawl(ctx context.Context, opts Options) (*Result, error) {
	if opts.MaxDepth < 0 {
		opts.MaxDepth = 0
	}
	if opts.MaxDepth > c.maxDepth {
		opts.MaxDepth = c.maxDepth
	}

	seed, err := url.Parse(opts.URL)
	if err != nil || (seed.Scheme != "http" && seed.Scheme != "https") || seed.Host == "" {
		return nil, newCrawlError(http.StatusBadRequest, "Invalid URL: %s", opts.URL)
	}

	s := &session{
		c:       c,
		opts:    opts,
		seed:    seed,
		robots:  newRobotsCache(c.client),
		limiter: rate.NewLimiter(rate.Limit(c.ratePerSec), 1),
	}

	s.publish("", 0, 0, "Starting crawl", 0)

	if err := s.preflight(ctx); err != nil {
		return nil, err
	}

	if err := s.discover(ctx); err != nil {
		return nil, err
	}

	content, err := s.process(ctx)
	if err != nil {
		return nil, err
	}

	s.publish(opts.URL, len(s.order), len(s.order), "Crawl completed", 100)

	if strings.TrimSpace(content) == "" {
		return nil, newCrawlError(http.StatusBadRequest,
			"No content could be extracted from the provided URL. The page might be empty or require JavaScript to load content.")
	}

	return &Result{
		Content:     content,
		CrawledURLs: s.order,
		BaseURL:     seed,
	}, nil
}

// preflight validates the seed with a HEAD request before any traversal.
func (s *session) preflight(ctx context.Context) error {
	s.publish(s.opts.URL, 0, 0, "Validating website", 0)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.opts.URL, nil)
	if err != nil {
		return newCrawlError(http.StatusBadRequest, "Invalid URL: %s", s.opts.URL)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return seedError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return seedStatusError(resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/html") {
		return newCrawlError(http.StatusUnsupportedMediaType, "The URL does not point to an HTML page.")
	}

	if s.opts.RespectRobots && s.robots.disallowed(ctx, s.seed) {
		return newCrawlError(http.StatusForbidden, "Access to %s is disallowed by robots.txt", s.opts.URL)
	}
	return nil
}

// discover walks the frontier breadth-first. A URL enters the crawl
// order only once its node is visited: robots-allowed and fetched as
// HTML. Links found on a page just extend the frontier, so disallowed
// or dead sub-pages never reach the processing pass or the result set.
func (s *session) discover(ctx context.Context) error {
	seedURL := normalizeURL(s.seed)
	seen := map[string]bool{seedURL: true}
	frontier := []frontierItem{{url: seedURL, depth: 0}}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := frontier[0]
		frontier = frontier[1:]

		if s.opts.RespectRobots {
			if u, err := url.Parse(item.url); err == nil && s.robots.disallowed(ctx, u) {
				continue
			}
		}

		body, ok := s.fetchHTML(ctx, item.url)
		if !ok {
			continue
		}

		s.order = append(s.order, item.url)
		s.publish(item.url, len(s.order), 0,
			fmt.Sprintf("Discovering links at depth %d", item.depth), s.discoveryPercent())

		if !s.opts.CrawlSubpages || item.depth >= s.opts.MaxDepth {
			continue
		}
		for _, link := range s.extractLinks(item.url, body) {
			if seen[link] {
				continue
			}
			seen[link] = true
			frontier = append(frontier, frontierItem{url: link, depth: item.depth + 1})
		}
	}
	return nil
}

// process re-fetches every discovered URL in order and accumulates
// page text behind per-page boundary markers.
func (s *session) process(ctx context.Context) (string, error) {
	total := len(s.order)
	if total == 0 {
		return "", nil
	}
	var buf strings.Builder

	for i, pageURL := range s.order {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return "", err
		}

		processed := i + 1
		percent := processed * 100 / total
		if percent > 95 {
			percent = 95
		}
		s.publish(pageURL, total, processed,
			fmt.Sprintf("Processing %d of %d", processed, total), percent)

		body, ok := s.fetchHTML(ctx, pageURL)
		if !ok {
			continue
		}
		text := extractor.HTMLText(strings.NewReader(body), s.opts.ExcludeNavigation)
		if strings.TrimSpace(text) == "" {
			continue
		}
		buf.WriteString("--- Content from " + pageURL + " ---\n")
		buf.WriteString(text)
		buf.WriteString("\n\n")
	}
	return buf.String(), nil
}

// fetchHTML fetches one page, returning ok=false for any failure,
// non-2xx status or non-HTML content type.
func (s *session) fetchHTML(ctx context.Context, pageURL string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.c.client.Do(req)
	if err != nil {
		s.c.log.Warn("page fetch failed", "url", pageURL, "error", err)
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.c.fetchLimit))
	if err != nil {
		s.c.log.Warn("page read failed", "url", pageURL, "error", err)
		return "", false
	}
	return string(body), true
}

// extractLinks parses anchor hrefs, keeping normalized same-host URLs.
func (s *session) extractLinks(pageURL, body string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		if resolved.Host != s.seed.Host {
			return
		}
		link := normalizeURL(resolved)
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})
	return links
}

// discoveryPercent keeps discovery events inside a small band below
// the processing range.
func (s *session) discoveryPercent() int {
	p := len(s.order)
	if p > 5 {
		p = 5
	}
	return p
}

// publish emits a progress event, clamped so percent never decreases
// within the session.
func (s *session) publish(currentURL string, discovered, processed int, action string, percent int) {
	if percent < s.lastPercent {
		percent = s.lastPercent
	}
	s.lastPercent = percent
	s.c.broadcaster.Publish(progress.Event{
		SessionID:       s.opts.SessionID,
		CurrentURL:      currentURL,
		DiscoveredCount: discovered,
		ProcessedCount:  processed,
		CurrentAction:   action,
		Progress:        percent,
	})
}

// normalizeURL strips query and fragment so URL identity is path-based.
func normalizeURL(u *url.URL) string {
	n := *u
	n.RawQuery = ""
	n.Fragment = ""
	if n.Path == "" {
		n.Path = "/"
	}
	return n.String()
}
