package grpcapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"threatwatch/internal/events"
	"threatwatch/internal/fault"
	"threatwatch/internal/motion"
	"threatwatch/internal/sources"
	"threatwatch/internal/threat"
)

func status(t *testing.T, h *Health, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("check %s: %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealthFollowsEvents(t *testing.T) {
	h := NewHealth(sources.Domains)
	if got := status(t, h, ServiceFor("traffic")); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("initial traffic = %v", got)
	}

	failed := sources.Unavailable(sources.Traffic, fault.New(fault.Timeout, "traffic", context.DeadlineExceeded), time.Now())
	h.OnEvent(events.Event{Topic: "traffic", Payload: failed})
	if got := status(t, h, ServiceFor("traffic")); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("traffic after failure = %v", got)
	}

	h.OnEvent(events.Event{Topic: events.TopicMotion, Payload: motion.Status{State: motion.StatusError}})
	if got := status(t, h, ServiceFor("motion")); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("motion = %v", got)
	}

	st := threat.Reduce(threat.Flags{}, time.Now())
	st.Degraded = []string{"weather"}
	h.OnEvent(events.Event{Topic: events.TopicThreat, Payload: threat.Evaluation{State: st}})
	for service, want := range map[string]healthpb.HealthCheckResponse_ServingStatus{
		ServiceName:           healthpb.HealthCheckResponse_SERVING,
		ServiceFor("motion"):  healthpb.HealthCheckResponse_SERVING,
		ServiceFor("traffic"): healthpb.HealthCheckResponse_SERVING,
		ServiceFor("weather"): healthpb.HealthCheckResponse_NOT_SERVING,
	} {
		if got := status(t, h, service); got != want {
			t.Errorf("%s = %v, want %v", service, got, want)
		}
	}
}

func TestHealthTotalBlackout(t *testing.T) {
	h := NewHealth(sources.Domains)
	st := threat.Reduce(threat.Flags{}, time.Now())
	st.Degraded = []string{"motion"}
	for _, d := range sources.Domains {
		st.Degraded = append(st.Degraded, string(d))
	}
	h.OnEvent(events.Event{Topic: events.TopicThreat, Payload: threat.Evaluation{State: st}})
	if got := status(t, h, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("overall = %v", got)
	}
}

func TestServerServesHealthOverNetwork(t *testing.T) {
	h := NewHealth(sources.Domains)
	srv := NewServer("127.0.0.1:0", h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	var addr string
	select {
	case a := <-srv.Ready():
		addr = a.String()
	case err := <-done:
		t.Fatalf("serve: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server not ready")
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("check = %v, %v", resp, err)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
