// Package fetcher defines the request and response types shared by the page
// and download fetchers.
package fetcher

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"time"
)

// Request captures everything needed to fetch a URL.
type Request struct {
	URL     string
	Headers http.Header
	// UseHeadless asks for a rendered DOM rather than the raw response.
	UseHeadless bool
}

// Response is a fetched body plus metadata.
type Response struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// MediaType returns the response's media type without parameters.
func (r Response) MediaType() string {
	if r.Headers == nil {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(r.Headers.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mediaType
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request Request) (Response, error)
}

// HeadlessDetector decides whether a probe response should be re-fetched
// with a headless browser.
type HeadlessDetector interface {
	ShouldPromote(probe Response) bool
}

// StatusError reports a response with a 4xx or 5xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}
