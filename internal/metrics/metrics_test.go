package metrics

import (
	"testing"
	"time"

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

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchTotal == nil || imagesTotal == nil || chaptersTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveDomainCounters(t *testing.T) {
	ObserveFetch("solver", "ok", 150*time.Millisecond)
	ObserveFallback()
	ObserveImage("https://img.example.com/p1.jpg", "uploaded", 2048)
	ObserveImage("https://img.example.com/p2.jpg", "too_small", 0)
	ObserveChapter("materialized")
	ObserveJob("chapter", "succeeded")

	if val := testutil.ToFloat64(fetchTotal.WithLabelValues("solver", "ok")); val < 1 {
		t.Errorf("expected solver fetch to be counted, got %f", val)
	}
	if val := testutil.ToFloat64(fetchFallbackTotal); val < 1 {
		t.Errorf("expected fallback to be counted, got %f", val)
	}
	if val := testutil.ToFloat64(imageBytesTotal.WithLabelValues("img.example.com")); val < 2048 {
		t.Errorf("expected image bytes to be counted, got %f", val)
	}
	if val := testutil.ToFloat64(imagesTotal.WithLabelValues("too_small")); val < 1 {
		t.Errorf("expected too_small image to be counted, got %f", val)
	}
	if val := testutil.ToFloat64(chaptersTotal.WithLabelValues("materialized")); val < 1 {
		t.Errorf("expected chapter to be counted, got %f", val)
	}
	if val := testutil.ToFloat64(jobsTotal.WithLabelValues("chapter", "succeeded")); val < 1 {
		t.Errorf("expected job to be counted, got %f", val)
	}
}

func TestActiveWorkersGauge(t *testing.T) {
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(activeWorkers); val != 1 {
		t.Errorf("expected one active worker, got %f", val)
	}
	DecActiveWorkers()
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
