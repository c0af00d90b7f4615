package grpcapi

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"threatwatch/internal/logging"
)

// Server serves the health service and reflection. It implements
// suture.Service; every Serve call builds a fresh grpc.Server so the
// supervisor can restart it.
type Server struct {
	addr   string
	health *Health
	ready  chan net.Addr
}

func NewServer(addr string, h *Health) *Server {
	return &Server{addr: addr, health: h, ready: make(chan net.Addr, 1)}
}

func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, s.health.Server())
	reflection.Register(gs)

	select {
	case s.ready <- lis.Addr():
	default:
	}
	logging.Info().Str("addr", lis.Addr().String()).Msg("grpc health server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- gs.Serve(lis) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("grpc server failed: %w", err)
	case <-ctx.Done():
		gs.GracefulStop()
		<-errCh
		return ctx.Err()
	}
}

// Ready yields the bound address once Serve is listening.
func (s *Server) Ready() <-chan net.Addr { return s.ready }

func (s *Server) String() string { return "grpc-server" }
