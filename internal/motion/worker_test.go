package motion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"threatwatch/internal/fault"
)

func TestWorkerRunsChecksOnItsGoroutine(t *testing.T) {
	sampler := &fakeSampler{squares: 3, delay: 50 * time.Millisecond}
	c := NewClassifier(sampler, &countingStore{}, NewState(), DefaultParams())
	w := NewWorker(c, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Serve(ctx) }()

	var wg sync.WaitGroup
	results := make([]CheckResult, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = w.Check(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
		if !results[i].Detected {
			t.Errorf("caller %d: expected detection", i)
		}
	}

	sampler.mu.Lock()
	calls := sampler.calls
	sampler.mu.Unlock()
	if calls >= 4 {
		t.Errorf("concurrent callers should share in-flight checks, sampler called %d times", calls)
	}
}

func TestWorkerCallerCancellation(t *testing.T) {
	sampler := &fakeSampler{delay: 200 * time.Millisecond}
	w := NewWorker(NewClassifier(sampler, &countingStore{}, NewState(), DefaultParams()), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Serve(ctx) }()

	callCtx, callCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer callCancel()

	_, err := w.Check(callCtx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected caller deadline, got %v", err)
	}
}

func TestWorkerNotServing(t *testing.T) {
	w := NewWorker(NewClassifier(&fakeSampler{}, &countingStore{}, NewState(), DefaultParams()), 20*time.Millisecond)

	_, err := w.Check(context.Background())
	if !errors.Is(err, ErrWorkerStopped) || !errors.Is(err, fault.ErrConnection) {
		t.Fatalf("expected stopped worker error, got %v", err)
	}
}

func TestWorkerServeStopsOnCancel(t *testing.T) {
	w := NewWorker(NewClassifier(&fakeSampler{}, &countingStore{}, NewState(), DefaultParams()), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return")
	}
	if w.String() != "motion-worker" {
		t.Errorf("String() = %q", w.String())
	}
}

func TestDescribe(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 5 * time.Minute

	tests := []struct {
		name    string
		res     CheckResult
		err     error
		state   string
		message string
	}{
		{"never", CheckResult{}, nil, StatusNone, "No recent motion detected"},
		{"active", CheckResult{Last: &Event{OccurredAt: now.Add(-42 * time.Second)}}, nil, StatusActive, "MOTION DETECTED 42 seconds ago!"},
		{"recent", CheckResult{Last: &Event{OccurredAt: now.Add(-17 * time.Minute)}}, nil, StatusRecent, "Last motion: 17 minutes ago"},
		{"connection", CheckResult{}, fault.New(fault.Connection, "c", errors.New("x")), StatusError, "Camera connection failed"},
		{"read", CheckResult{}, fault.New(fault.Read, "r", errors.New("x")), StatusError, "Failed to read frame"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Describe(tt.res, tt.err, now, window)
			if st.State != tt.state || st.Message != tt.message {
				t.Errorf("got %s %q, want %s %q", st.State, st.Message, tt.state, tt.message)
			}
		})
	}
}
