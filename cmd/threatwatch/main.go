package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	_ "time/tzdata"

	"threatwatch/internal/auth"
	"threatwatch/internal/camera"
	"threatwatch/internal/config"
	"threatwatch/internal/events"
	"threatwatch/internal/grpcapi"
	"threatwatch/internal/logging"
	"threatwatch/internal/motion"
	"threatwatch/internal/push"
	"threatwatch/internal/sources"
	"threatwatch/internal/supervisor"
	"threatwatch/internal/threat"
	"threatwatch/internal/upstream"
	"threatwatch/internal/ws"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	var (
		configF = flag.String("config", "", "Path to the YAML config file (default $"+config.PathEnvVar+")")
		dbgF    = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	cfg, err := config.Load(*configF)
	if err != nil {
		fmt.Fprintf(os.Stderr, "threatwatch: %v\n", err)
		os.Exit(1)
	}
	if *dbgF {
		cfg.Server.Debug = true
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logging.Info().Str("version", Version).Interface("config", cfg.LogSafe()).Msg("configuration loaded")

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("threatwatch stopped with error")
		os.Exit(1)
	}
	logging.Info().Msg("exited")
}

func run(cfg *config.Config) error {
	// Motion: camera -> sampler -> classifier, owned by the worker goroutine.
	video := camera.NewSource(cfg.Camera.Transport, cfg.Camera.FFmpegPath, cfg.Camera.ReadTimeout, cfg.Camera.MaxWidth)
	sampler := camera.NewSampler(video, cfg.Camera.URI, cfg.Camera.FrameGap, cfg.Camera.ConnectTimeout)
	state := motion.NewState()
	store := motion.NewFileStore(cfg.Camera.SnapshotDir)
	classifier := motion.NewClassifier(sampler, store, state, motionParams(cfg.Motion))
	worker := motion.NewWorker(classifier, cfg.Threat.Timeout)

	client := upstream.New(cfg.Sources.UserAgent, cfg.Breaker)
	set := sources.Build(cfg, client, sources.NewFirstLoad())
	agg := threat.NewAggregator(worker, set, cfg.Threat.MotionWindow, cfg.Threat.Timeout)

	authn, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	bus := events.NewBus()
	defer bus.Close()
	hub := ws.NewHub()
	defer hub.Close()
	bus.Subscribe(hub)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddSensingService(worker)

	if cfg.GRPC.Enabled {
		health := grpcapi.NewHealth(sources.Domains)
		bus.Subscribe(health)
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.GRPC.Port))
		tree.AddPushService(grpcapi.NewServer(addr, health))
	}
	if cfg.Schedule.Enabled {
		tree.AddPushService(push.NewScheduler(cfg.Schedule, agg, hub, bus))
	}

	tree.AddAPIService(newHTTPService(cfg, httpDeps{
		aggregator: agg,
		state:      state,
		store:      store,
		auth:       authn,
		bus:        bus,
		hub:        hub,
		client:     client,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("camera", cfg.Camera.URI).
		Int("sources", len(set.All())).
		Bool("auth", authn.Enabled()).
		Msg("threatwatch starting")

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("services did not stop within the shutdown timeout")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func motionParams(c config.MotionConfig) motion.Params {
	return motion.Params{
		BlurKernel:           c.BlurKernel,
		Threshold:            c.Threshold,
		DilateIterations:     c.DilateIterations,
		SensitivityThreshold: c.SensitivityThreshold,
		MinContours:          c.MinContours,
	}
}
