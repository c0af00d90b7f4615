package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"threatwatch/internal/config"
	"threatwatch/internal/fault"
)

func testClient(breaker bool) *Client {
	b := config.Default().Breaker
	b.Enabled = breaker
	b.MinRequests = 2
	b.FailureRatio = 1
	b.Timeout = time.Minute
	return New("threatwatch-test", b)
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "threatwatch-test" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		if r.URL.Query().Get("format") != "geojson" {
			t.Errorf("query = %v", r.URL.Query())
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"ok","count":3}`))
	}))
	defer srv.Close()

	var out struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	err := testClient(true).GetJSON(context.Background(), Request{URL: srv.URL, Query: map[string]string{"format": "geojson"}}, &out)
	if err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if out.Name != "ok" || out.Count != 3 {
		t.Errorf("decoded %+v", out)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }, fault.ErrUpstream},
		{"not found", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }, fault.ErrUpstream},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"name":`)) }, fault.ErrParse},
		{"slow", func(w http.ResponseWriter, r *http.Request) { time.Sleep(200 * time.Millisecond) }, fault.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			var out map[string]any
			err := testClient(false).GetJSON(context.Background(), Request{URL: srv.URL, Timeout: 50 * time.Millisecond}, &out)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want kind %v", err, tt.want)
			}
		})
	}
}

func TestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testClient(false).GetText(context.Background(), Request{URL: url})
	if !errors.Is(err, fault.ErrConnection) {
		t.Errorf("error = %v, want connection", err)
	}
}

func TestBreakerOpensPerHost(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(true)
	for i := 0; i < 2; i++ {
		if _, err := c.GetText(context.Background(), Request{URL: srv.URL}); !errors.Is(err, fault.ErrUpstream) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	_, err := c.GetText(context.Background(), Request{URL: srv.URL})
	if !errors.Is(err, fault.ErrUpstream) {
		t.Fatalf("open breaker error = %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("open breaker let a request through: hits = %d", hits.Load())
	}

	states := c.BreakerStates()
	if len(states) != 1 {
		t.Fatalf("states = %v", states)
	}
	for _, s := range states {
		if s != "open" {
			t.Errorf("state = %s, want open", s)
		}
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := testClient(true)
	for i := 0; i < 4; i++ {
		_, _ = c.GetText(context.Background(), Request{URL: srv.URL})
	}
	for _, s := range c.BreakerStates() {
		if s != "closed" {
			t.Errorf("4xx responses opened the breaker: %s", s)
		}
	}
}
