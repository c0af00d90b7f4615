package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	goahttp "goa.design/goa/v3/http"
	"golang.org/x/sync/errgroup"

	"threatwatch/internal/auth"
	"threatwatch/internal/events"
	"threatwatch/internal/motion"
	"threatwatch/internal/sources"
)

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz fails only when the last evaluation could read no input at all.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	st := s.lastState()
	if st != nil && len(st.Degraded) > len(sources.Domains) {
		s.respond(w, r, http.StatusServiceUnavailable, map[string]any{
			"status":   "degraded",
			"degraded": st.Degraded,
		})
		return
	}
	s.respond(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := goahttp.RequestDecoder(r).Decode(&req); err != nil {
		s.fail(w, r, http.StatusBadRequest, "invalid login body")
		return
	}
	tok, err := s.deps.Auth.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrAuthDisabled):
		s.fail(w, r, http.StatusUnauthorized, "authentication is disabled")
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.fail(w, r, http.StatusUnauthorized, "invalid username or password")
	case err != nil:
		s.internal(w, r, err)
	default:
		s.respond(w, r, http.StatusOK, tok)
	}
}

func (s *Server) threat(w http.ResponseWriter, r *http.Request) {
	ev := s.deps.Aggregator.Evaluate(r.Context())
	s.deps.Bus.Publish(events.Event{Topic: events.TopicThreat, At: ev.State.ComputedAt, Payload: ev})
	s.respond(w, r, http.StatusOK, ev)
}

func (s *Server) motion(w http.ResponseWriter, r *http.Request) {
	st := s.checkMotion(r.Context())
	s.deps.Bus.Publish(events.Event{Topic: events.TopicMotion, At: st.CheckedAt, Payload: st})
	s.respond(w, r, http.StatusOK, st)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.deps.Motion.Last()
	if !ok || ev.Snapshot == "" {
		s.fail(w, r, http.StatusNotFound, "no motion snapshot yet")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, s.deps.Snapshots.PathFor(ev.Snapshot))
}

func (s *Server) sources(w http.ResponseWriter, r *http.Request) {
	srcs := s.deps.Aggregator.Sources().All()
	results := make([]sources.Result, len(srcs))

	var g errgroup.Group
	for i, src := range srcs {
		g.Go(func() error {
			results[i] = src.Fetch(r.Context())
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		s.publishResult(res)
	}
	s.respond(w, r, http.StatusOK, results)
}

func (s *Server) source(w http.ResponseWriter, r *http.Request) {
	d, ok := sources.ParseDomain(s.mux.Vars(r)["domain"])
	if !ok {
		s.fail(w, r, http.StatusNotFound, "unknown source domain")
		return
	}
	src, ok := s.deps.Aggregator.Sources().Get(d)
	if !ok {
		s.fail(w, r, http.StatusNotFound, "source not configured")
		return
	}
	res := src.Fetch(r.Context())
	s.publishResult(res)
	s.respond(w, r, http.StatusOK, res)
}

// SystemStatus describes the running process.
type SystemStatus struct {
	Version          string            `json:"version"`
	StartedAt        time.Time         `json:"started_at"`
	UptimeSeconds    int64             `json:"uptime_seconds"`
	AuthEnabled      bool              `json:"auth_enabled"`
	MotionEvents     uint64            `json:"motion_events"`
	LastMotion       *time.Time        `json:"last_motion,omitempty"`
	Domains          []sources.Domain  `json:"domains"`
	WebsocketClients int               `json:"websocket_clients"`
	WatchedTopics    []string          `json:"watched_topics"`
	Breakers         map[string]string `json:"breakers"`
	LastLevel        string            `json:"last_level,omitempty"`
	Degraded         []string          `json:"degraded"`
	Home             homeLocation      `json:"home"`
}

type homeLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
}

func (s *Server) system(w http.ResponseWriter, r *http.Request) {
	st := SystemStatus{
		Version:          s.deps.Version,
		StartedAt:        s.started,
		UptimeSeconds:    int64(time.Since(s.started).Seconds()),
		AuthEnabled:      s.deps.Auth.Enabled(),
		MotionEvents:     s.deps.Motion.Count(),
		WebsocketClients: s.deps.Hub.ClientCount(),
		WatchedTopics:    s.deps.Hub.Topics(),
		Breakers:         map[string]string{},
		Degraded:         []string{},
		Home: homeLocation{
			Latitude:  s.deps.Home.Latitude,
			Longitude: s.deps.Home.Longitude,
			Timezone:  s.deps.Home.Timezone,
		},
	}
	for _, src := range s.deps.Aggregator.Sources().All() {
		st.Domains = append(st.Domains, src.Domain())
	}
	if ev, ok := s.deps.Motion.Last(); ok {
		at := ev.OccurredAt
		st.LastMotion = &at
	}
	if s.deps.Breakers != nil {
		st.Breakers = s.deps.Breakers()
	}
	if last := s.lastState(); last != nil {
		st.LastLevel = last.Level.String()
		st.Degraded = last.Degraded
	}
	s.respond(w, r, http.StatusOK, st)
}

func (s *Server) checkMotion(ctx context.Context) motion.Status {
	res, err := s.deps.Aggregator.CheckMotion(ctx)
	return motion.Describe(res, err, time.Now(), s.deps.Aggregator.Window())
}

func (s *Server) publishResult(res sources.Result) {
	s.deps.Bus.Publish(events.Event{Topic: events.Topic(res.Domain), At: res.FetchedAt, Payload: res})
}
