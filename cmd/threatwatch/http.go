package main

import (
	"threatwatch/internal/auth"
	"threatwatch/internal/config"
	"threatwatch/internal/events"
	"threatwatch/internal/logging"
	"threatwatch/internal/motion"
	"threatwatch/internal/server"
	"threatwatch/internal/supervisor"
	"threatwatch/internal/threat"
	"threatwatch/internal/upstream"
	"threatwatch/internal/ws"
)

type httpDeps struct {
	aggregator *threat.Aggregator
	state      *motion.State
	store      motion.SnapshotStore
	auth       *auth.Authenticator
	bus        *events.Bus
	hub        *ws.Hub
	client     *upstream.Client
}

// newHTTPService builds the API server and wraps it for the supervisor.
func newHTTPService(cfg *config.Config, d httpDeps) *supervisor.HTTPServerService {
	srv := server.New(cfg.Server, server.Deps{
		Aggregator: d.aggregator,
		Motion:     d.state,
		Snapshots:  d.store,
		Auth:       d.auth,
		Bus:        d.bus,
		Hub:        d.hub,
		Home:       cfg.Home,
		Breakers:   d.client.BreakerStates,
		Version:    Version,
	})

	httpSrv := srv.HTTPServer()
	logging.Info().Str("addr", httpSrv.Addr).Msg("HTTP server listening")
	return supervisor.NewHTTPServerService(httpSrv, cfg.Server.ShutdownTimeout)
}
