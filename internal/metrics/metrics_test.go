package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://www.Instagram.com/explore/tags/me/", "www.instagram.com"},
		{"cdn host", "https://scontent.cdninstagram.com/a.jpg", "scontent.cdninstagram.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitAndObserve(t *testing.T) {
	Init()
	Init()

	if upstreamRequestsTotal == nil || commitDurationSeconds == nil || activeWorkers == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	before := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("page", "ok"))
	ObserveUpstream("page", "ok", 512)
	if val := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("page", "ok")); val != before+1 {
		t.Errorf("expected upstream counter to increment, got %f", val)
	}

	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(activeWorkers); val < 1 {
		t.Errorf("expected at least one active worker, got %f", val)
	}
	DecActiveWorkers()

	ObserveCommit("created", 5*time.Millisecond)
	ObserveStage("detect", 10*time.Millisecond)
	ObserveRateLimitDelay("www.instagram.com", time.Second)
	if val := testutil.CollectAndCount(commitDurationSeconds); val <= 0 {
		t.Errorf("expected commit histogram to be observed, got %d", val)
	}
}

func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"http://example.com", "https://instagram.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
