//go:build integration

package integration

import (
	"net/http"
	"strings"
	"testing"
)

func TestHealth(t *testing.T) {
	resp := env.GET(t, "/health")
	requireStatus(t, resp, http.StatusOK)
	result := decodeJSON[struct {
		Status string `json:"status"`
	}](t, resp)
	requireField(t, result.Status, "ok", "status")
}

func TestMetrics(t *testing.T) {
	resp := env.GET(t, "/metrics")
	requireStatus(t, resp, http.StatusOK)
	defer resp.Body.Close()
}

func TestBundleServed(t *testing.T) {
	resp := env.GET(t, "/ext/boot.js")
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestUnknownTab(t *testing.T) {
	resp := env.GET(t, "/api/v1/tabs/does-not-exist")
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestOpenNeedsURL(t *testing.T) {
	resp := env.POST(t, "/api/v1/open", map[string]any{"url": ""})
	requireStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()
}

func TestEventStreamHeaders(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, env.BaseURL+"/api/v1/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	// Only the headers are read; the stream stays open otherwise.
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatalf("GET /api/v1/events: %v", err)
	}
	defer resp.Body.Close()
	requireStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type = %q; want text/event-stream", ct)
	}
}
