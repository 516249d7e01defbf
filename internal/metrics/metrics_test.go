package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if ripperItemsTotal == nil || ripperDispatchTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveItemLabelsBySite(t *testing.T) {
	before := testutil.ToFloat64(ripperItemsTotal.WithLabelValues("img.example.org", "errored"))
	ObserveItem("https://IMG.example.org/a/1.jpg", "errored")
	after := testutil.ToFloat64(ripperItemsTotal.WithLabelValues("img.example.org", "errored"))
	if after-before != 1 {
		t.Errorf("expected errored counter to grow by 1, got %f", after-before)
	}
}

func TestObserveBytesIgnoresEmptyWrites(t *testing.T) {
	ObserveBytes("https://bytes.example.org/x", 0)
	ObserveBytes("https://bytes.example.org/x", 10)
	if val := testutil.ToFloat64(ripperBytesTotal.WithLabelValues("bytes.example.org")); val != 10 {
		t.Errorf("expected 10 bytes, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
