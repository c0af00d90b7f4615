// Package supervisor runs threatwatch's long-lived goroutines under a suture
// tree so a crashing service is restarted with backoff instead of taking the
// process down.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration. Zero values take suture's
// defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is organized into three layers:
//   - sensing: the motion worker that owns the camera
//   - push: the push scheduler and the gRPC health server
//   - api: the HTTP server
type Tree struct {
	root    *suture.Supervisor
	sensing *suture.Supervisor
	push    *suture.Supervisor
	api     *suture.Supervisor
}

func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	// MustHook has a pointer receiver.
	handler := &sutureslog.Handler{Logger: logger}

	spec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = handler.MustHook()

	t := &Tree{
		root:    suture.New("threatwatch", rootSpec),
		sensing: suture.New("sensing", spec),
		push:    suture.New("push", spec),
		api:     suture.New("api", spec),
	}
	t.root.Add(t.sensing)
	t.root.Add(t.push)
	t.root.Add(t.api)
	return t
}

func (t *Tree) AddSensingService(svc suture.Service) suture.ServiceToken { return t.sensing.Add(svc) }

func (t *Tree) AddPushService(svc suture.Service) suture.ServiceToken { return t.push.Add(svc) }

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken { return t.api.Add(svc) }

// Serve blocks until ctx is cancelled.
func (t *Tree) Serve(ctx context.Context) error { return t.root.Serve(ctx) }

func (t *Tree) ServeBackground(ctx context.Context) <-chan error { return t.root.ServeBackground(ctx) }

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
