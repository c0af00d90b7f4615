package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"threatwatch/internal/logging"
)

type fakeHTTPServer struct {
	stop     chan struct{}
	failWith error
	shutdown atomic.Bool
}

func newFakeHTTPServer() *fakeHTTPServer { return &fakeHTTPServer{stop: make(chan struct{})} }

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.failWith != nil {
		return f.failWith
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(ctx context.Context) error {
	f.shutdown.Store(true)
	close(f.stop)
	return nil
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	fake := newFakeHTTPServer()
	svc := NewHTTPServerService(fake, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	if !fake.shutdown.Load() {
		t.Error("Shutdown not called")
	}
}

func TestHTTPServerServiceStartFailure(t *testing.T) {
	fake := newFakeHTTPServer()
	fake.failWith = errors.New("address already in use")

	err := NewHTTPServerService(fake, time.Second).Serve(context.Background())
	if err == nil || !errors.Is(err, fake.failWith) {
		t.Errorf("Serve() = %v", err)
	}
}

type countingService struct{ starts atomic.Int32 }

func (c *countingService) Serve(ctx context.Context) error {
	if c.starts.Add(1) == 1 {
		return errors.New("first run fails")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeRestartsFailedService(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})
	svc := &countingService{}
	tree.AddPushService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for svc.starts.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("service was not restarted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-errCh
}
