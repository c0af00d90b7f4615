package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/threat", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"missing authorization header","request_id":"abc"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"threat":{"level":"HIGH","reasons":["Front door motion","Weather alerts","Local violent crime"],"degraded":["hazard"]},"motion":{"state":"active","message":"MOTION DETECTED 12 seconds ago!"}}`))
	})
	mux.HandleFunc("/api/v1/sources/crime", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"domain":"crime","severe":false,"summary":["data unavailable: upstream timed out"],"failure":{"kind":"timeout","message":"upstream timed out"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunThreat(t *testing.T) {
	srv := fakeServer(t)
	c := newClient(srv.URL, 5*time.Second, false)
	c.http.SetBasicAuth("operator", "hunter2")

	var out bytes.Buffer
	if err := run(c, &out, "threat", nil, false, "", ""); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Threat level: HIGH", "  - Local violent crime", "Unavailable: hazard", "Motion: MOTION DETECTED"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunReportsAPIError(t *testing.T) {
	srv := fakeServer(t)
	c := newClient(srv.URL, 5*time.Second, false)

	err := run(c, &bytes.Buffer{}, "threat", nil, false, "", "")
	if err == nil || !strings.Contains(err.Error(), "missing authorization header") || !strings.Contains(err.Error(), "[abc]") {
		t.Errorf("err = %v", err)
	}
}

func TestRunSourceUnavailable(t *testing.T) {
	srv := fakeServer(t)
	c := newClient(srv.URL, 5*time.Second, false)

	var out bytes.Buffer
	if err := run(c, &out, "sources", []string{"crime"}, false, "", ""); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "[crime] unavailable\n  data unavailable: upstream timed out") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	c := newClient("http://127.0.0.1:1", time.Second, false)
	if err := run(c, &bytes.Buffer{}, "panic", nil, false, "", ""); err == nil {
		t.Error("unknown command accepted")
	}
}
