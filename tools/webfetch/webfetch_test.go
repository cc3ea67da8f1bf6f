package webfetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const articleHTML = `<html><head><title>Battery Recycling</title></head><body>
<article><h1>Battery Recycling</h1>
<p>Lithium-ion battery recycling capacity has grown substantially in recent years,
driven by demand for recovered cobalt, nickel and lithium.</p>
<p>Hydrometallurgical processes now recover over ninety percent of the critical
metals contained in spent cells.</p>
</article></body></html>`

func TestNewWebFetcherRejectsUnknownType(t *testing.T) {
	if _, err := NewWebFetcher("gopher", 0, 0); err != ErrUnsupportedFetcher {
		t.Fatalf("expected ErrUnsupportedFetcher, got %v", err)
	}
}

// A zero timeout must fall back to a usable deadline, not one that
// expires before the request leaves the client.
func TestDefaultTimeoutAllowsSlowPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	f, err := NewWebFetcher(HTTPFetcherType, 0, 0)
	if err != nil {
		t.Fatalf("NewWebFetcher: %v", err)
	}
	res, err := f.Exec(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Status)
	}
	if res.Text == "" {
		t.Fatal("expected extracted article text")
	}
}

func TestShortTimeoutDegradesToUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, articleHTML)
	}))
	defer srv.Close()

	f, err := NewWebFetcher(HTTPFetcherType, 10*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("NewWebFetcher: %v", err)
	}
	res, err := f.Exec(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Status != 599 {
		t.Fatalf("expected 599 on timeout, got %d", res.Status)
	}
}
