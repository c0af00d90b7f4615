// Package server is the JSON API and websocket endpoint, served on the goa
// HTTP runtime.
package server

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"

	"threatwatch/internal/auth"
	"threatwatch/internal/config"
	"threatwatch/internal/events"
	"threatwatch/internal/logging"
	"threatwatch/internal/middleware"
	"threatwatch/internal/motion"
	"threatwatch/internal/sources"
	"threatwatch/internal/threat"
	"threatwatch/internal/ws"
)

// Deps are the components the handlers read from.
type Deps struct {
	Aggregator *threat.Aggregator
	Motion     *motion.State
	Snapshots  motion.SnapshotStore
	Auth       *auth.Authenticator
	Bus        *events.Bus
	Hub        *ws.Hub
	Home       config.HomeConfig
	// Breakers reports upstream circuit breaker states by host.
	Breakers func() map[string]string
	Version  string
}

type Server struct {
	cfg     config.ServerConfig
	deps    Deps
	mux     goahttp.Muxer
	handler http.Handler
	started time.Time

	mu   sync.RWMutex
	last *threat.State
}

type route struct {
	method, pattern string
	public          bool
	handler         http.HandlerFunc
}

func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		mux:     goahttp.NewMuxer(),
		started: time.Now(),
	}
	deps.Bus.SubscribeTopic(events.TopicThreat, events.HandlerFunc(s.observe))

	hub := ws.NewHandler(deps.Hub, validTopic)
	protect := middleware.RequireOperator(deps.Auth)

	routes := []route{
		{"GET", "/healthz", true, s.healthz},
		{"GET", "/readyz", true, s.readyz},
		{"GET", "/metrics", true, promhttp.Handler().ServeHTTP},
		{"POST", "/api/v1/auth/login", true, s.login},
		{"GET", "/api/v1/threat", false, s.threat},
		{"GET", "/api/v1/motion", false, s.motion},
		{"GET", "/api/v1/motion/snapshot", false, s.snapshot},
		{"GET", "/api/v1/sources", false, s.sources},
		{"GET", "/api/v1/sources/{domain}", false, s.source},
		{"GET", "/api/v1/system", false, s.system},
		{"GET", "/ws/{topic}", false, hub.ServeHTTP},
	}
	for _, rt := range routes {
		h := rt.handler
		if !rt.public {
			h = protect(h).ServeHTTP
		}
		s.mux.Handle(rt.method, rt.pattern, h)
		logging.Debug().Str("method", rt.method).Str("pattern", rt.pattern).Msg("HTTP route mounted")
	}

	var handler http.Handler = s.mux
	if cfg.Debug {
		handler = httpmdlwr.Debug(s.mux, os.Stdout)(handler)
	}
	handler = httpmdlwr.Log(logging.NewGoaAdapter())(handler)
	handler = httpmdlwr.RequestID()(handler)
	s.handler = handler
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

// HTTPServer returns an *http.Server bound to the configured address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}
}

func (s *Server) observe(e events.Event) {
	ev, ok := e.Payload.(threat.Evaluation)
	if !ok {
		return
	}
	s.mu.Lock()
	s.last = &ev.State
	s.mu.Unlock()
}

func (s *Server) lastState() *threat.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func validTopic(topic string) bool {
	if topic == string(events.TopicThreat) || topic == string(events.TopicMotion) {
		return true
	}
	_, ok := sources.ParseDomain(topic)
	return ok
}
