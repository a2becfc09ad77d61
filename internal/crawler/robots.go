package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// robotsCache holds one host's robots.txt for the life of a session.
// The check is a plain substring match on "Disallow: <path>"; a fetch
// failure means the crawl proceeds.
type robotsCache struct {
	client  *http.Client
	fetched map[string]string
}

func newRobotsCache(client *http.Client) *robotsCache {
	return &robotsCache{
		client:  client,
		fetched: make(map[string]string),
	}
}

// disallowed reports whether the robots.txt of u's host disallows u's path.
func (r *robotsCache) disallowed(ctx context.Context, u *url.URL) bool {
	body, ok := r.fetched[u.Host]
	if !ok {
		body = r.fetch(ctx, u)
		r.fetched[u.Host] = body
	}
	if body == "" {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return strings.Contains(body, "Disallow: "+path)
}

func (r *robotsCache) fetch(ctx context.Context, u *url.URL) string {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return ""
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return ""
	}
	return string(body)
}
