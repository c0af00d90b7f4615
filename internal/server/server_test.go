package server

import (
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"threatwatch/internal/auth"
	"threatwatch/internal/camera"
	"threatwatch/internal/config"
	"threatwatch/internal/events"
	"threatwatch/internal/motion"
	"threatwatch/internal/sources"
	"threatwatch/internal/threat"
	"threatwatch/internal/ws"
)

type doorSampler struct{ squares int }

func (d doorSampler) Sample(ctx context.Context) (*camera.Frame, *camera.Frame, error) {
	a := image.NewRGBA(image.Rect(0, 0, 320, 240))
	b := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for i := 0; i < len(a.Pix); i += 4 {
		a.Pix[i+3], b.Pix[i+3] = 255, 255
	}
	for i := 0; i < d.squares; i++ {
		x := 35 + i*110
		for y := 105; y < 135; y++ {
			for xx := x; xx < x+30; xx++ {
				b.Set(xx, y, color.RGBA{255, 255, 255, 255})
			}
		}
	}
	now := time.Now()
	return &camera.Frame{Image: a, CapturedAt: now}, &camera.Frame{Image: b, CapturedAt: now}, nil
}

type staticSource struct{ res sources.Result }

func (s staticSource) Domain() sources.Domain { return s.res.Domain }

func (s staticSource) Fetch(ctx context.Context) sources.Result {
	r := s.res
	r.FetchedAt = time.Now()
	return r
}

type fixture struct {
	srv   *Server
	bus   *events.Bus
	state *motion.State
}

func newFixture(t *testing.T, authEnabled bool, squares int) *fixture {
	t.Helper()

	state := motion.NewState()
	store := motion.NewFileStore(t.TempDir())
	classifier := motion.NewClassifier(doorSampler{squares: squares}, store, state, motion.DefaultParams())

	var srcs []sources.Source
	for _, d := range sources.Domains {
		srcs = append(srcs, staticSource{sources.Result{Domain: d, Severe: d == sources.Weather, Summary: []string{"ok"}}})
	}
	agg := threat.NewAggregator(classifier, sources.NewSet(srcs...), 5*time.Minute, 5*time.Second)

	authn, err := auth.NewAuthenticator(config.AuthConfig{
		Enabled:   authEnabled,
		Username:  "operator",
		Password:  "hunter2",
		JWTSecret: "test",
		JWTExpiry: time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}

	bus := events.NewBus()
	srv := New(config.Default().Server, Deps{
		Aggregator: agg,
		Motion:     state,
		Snapshots:  store,
		Auth:       authn,
		Bus:        bus,
		Hub:        ws.NewHub(),
		Home:       config.Default().Home,
		Breakers:   func() map[string]string { return map[string]string{"wsdot.wa.gov": "closed"} },
		Version:    "test",
	})
	return &fixture{srv: srv, bus: bus, state: state}
}

func (f *fixture) do(t *testing.T, method, target, body string, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return m
}

func basic(r *http.Request) { r.SetBasicAuth("operator", "hunter2") }

func TestPublicEndpoints(t *testing.T) {
	f := newFixture(t, true, 0)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if rec := f.do(t, "GET", path, "", nil); rec.Code != http.StatusOK {
			t.Errorf("%s = %d", path, rec.Code)
		}
	}
	if rec := f.do(t, "GET", "/metrics", "", nil); !strings.Contains(rec.Body.String(), "threatwatch_") {
		t.Error("metrics missing threatwatch collectors")
	}
}

func TestThreatRequiresAuth(t *testing.T) {
	f := newFixture(t, true, 3)
	if rec := f.do(t, "GET", "/api/v1/threat", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d", rec.Code)
	}

	ch, unsub := f.bus.SubscribeChannel(events.TopicThreat, 1)
	defer unsub()

	rec := f.do(t, "GET", "/api/v1/threat", "", basic)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("content type = %q", ct)
	}
	st := decode(t, rec)["threat"].(map[string]any)
	if st["level"] != "ELEVATED" {
		t.Errorf("level = %v", st["level"])
	}
	reasons := st["reasons"].([]any)
	if len(reasons) != 2 || reasons[0] != "Front door motion" || reasons[1] != "Weather alerts" {
		t.Errorf("reasons = %v", reasons)
	}

	select {
	case e := <-ch:
		if _, ok := e.Payload.(threat.Evaluation); !ok {
			t.Errorf("payload = %T", e.Payload)
		}
	default:
		t.Error("evaluation not published")
	}
}

func TestLoginIssuesBearerToken(t *testing.T) {
	f := newFixture(t, true, 0)

	if rec := f.do(t, "POST", "/api/v1/auth/login", `{"username":"operator","password":"nope"}`, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password = %d", rec.Code)
	}
	if rec := f.do(t, "POST", "/api/v1/auth/login", `{not json`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body = %d", rec.Code)
	}

	rec := f.do(t, "POST", "/api/v1/auth/login", `{"username":"operator","password":"hunter2"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}
	token, _ := decode(t, rec)["token"].(string)
	if token == "" {
		t.Fatal("no token")
	}

	rec = f.do(t, "GET", "/api/v1/system", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("system = %d", rec.Code)
	}
	sys := decode(t, rec)
	if sys["version"] != "test" || sys["auth_enabled"] != true {
		t.Errorf("system = %v", sys)
	}
	if b := sys["breakers"].(map[string]any); b["wsdot.wa.gov"] != "closed" {
		t.Errorf("breakers = %v", b)
	}
}

func TestSourceEndpoints(t *testing.T) {
	f := newFixture(t, false, 0)

	rec := f.do(t, "GET", "/api/v1/sources/weather", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if res := decode(t, rec); res["domain"] != "weather" || res["severe"] != true {
		t.Errorf("weather = %v", res)
	}

	if rec := f.do(t, "GET", "/api/v1/sources/lottery", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown domain = %d", rec.Code)
	}

	rec = f.do(t, "GET", "/api/v1/sources", "", nil)
	var all []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil || len(all) != len(sources.Domains) {
		t.Fatalf("sources = %s (%v)", rec.Body.String(), err)
	}
	if all[0]["domain"] != "traffic" || all[5]["domain"] != "geopolitical" {
		t.Errorf("order = %v, %v", all[0]["domain"], all[5]["domain"])
	}
}

func TestMotionAndSnapshot(t *testing.T) {
	f := newFixture(t, false, 0)
	if rec := f.do(t, "GET", "/api/v1/motion/snapshot", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("snapshot before motion = %d", rec.Code)
	}

	f = newFixture(t, false, 3)
	rec := f.do(t, "GET", "/api/v1/motion", "", nil)
	st := decode(t, rec)
	if st["state"] != motion.StatusActive || !strings.HasPrefix(st["message"].(string), "MOTION DETECTED") {
		t.Errorf("motion = %v", st)
	}

	rec = f.do(t, "GET", "/api/v1/motion/snapshot", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}
}

func TestReadyzReportsTotalBlackout(t *testing.T) {
	f := newFixture(t, false, 0)
	st := threat.Reduce(threat.Flags{}, time.Now())
	st.Degraded = []string{"motion"}
	for _, d := range sources.Domains {
		st.Degraded = append(st.Degraded, string(d))
	}
	f.bus.Publish(events.Event{Topic: events.TopicThreat, Payload: threat.Evaluation{State: st}})

	if rec := f.do(t, "GET", "/readyz", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d", rec.Code)
	}
}
