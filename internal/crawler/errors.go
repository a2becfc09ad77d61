package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// CrawlError is a crawl failure with the HTTP status the API should
// relay to the caller.
type CrawlError struct {
	Status  int
	Message string
}

func (e *CrawlError) Error() string {
	return e.Message
}

func newCrawlError(status int, format string, args ...any) *CrawlError {
	return &CrawlError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// seedError maps a seed preflight failure to a caller-facing status.
// Sub-page failures never reach here; they are logged and skipped.
func seedError(err error) *CrawlError {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return newCrawlError(http.StatusNotFound, "Website not found. Please check if the domain exists.")
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return newCrawlError(http.StatusGatewayTimeout, "Connection timed out. The website took too long to respond.")
		}
		return newCrawlError(http.StatusBadRequest, "Could not connect to the website. The server refused the connection.")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newCrawlError(http.StatusGatewayTimeout, "Connection timed out. The website took too long to respond.")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newCrawlError(http.StatusGatewayTimeout, "Connection timed out. The website took too long to respond.")
	}

	return newCrawlError(http.StatusBadRequest, "Network error: %v", err)
}

// seedStatusError maps a non-2xx seed response status.
func seedStatusError(status int) *CrawlError {
	switch status {
	case http.StatusNotFound:
		return newCrawlError(http.StatusNotFound, "The website could not be found (404).")
	case http.StatusUnauthorized:
		return newCrawlError(http.StatusUnauthorized, "The website requires authentication.")
	case http.StatusForbidden:
		return newCrawlError(http.StatusForbidden, "Access to this website is forbidden (403).")
	case http.StatusBadGateway:
		return newCrawlError(http.StatusBadGateway, "The website is currently unavailable (502).")
	case http.StatusServiceUnavailable:
		return newCrawlError(http.StatusServiceUnavailable, "The website is temporarily unavailable (503).")
	case http.StatusGatewayTimeout:
		return newCrawlError(http.StatusGatewayTimeout, "The website took too long to respond (504).")
	default:
		return newCrawlError(http.StatusBadRequest, "HTTP error: status %d", status)
	}
}
