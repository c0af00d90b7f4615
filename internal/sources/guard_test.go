package sources

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"threatwatch/internal/fault"
)

func TestGuardTimeoutNeverSevere(t *testing.T) {
	start := time.Now()
	res := guard(context.Background(), Weather, 30*time.Millisecond, 0, func(ctx context.Context, _ *Recorder) (Result, error) {
		time.Sleep(time.Second) // ignores ctx on purpose
		return Result{Severe: true}, nil
	})

	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("guard waited for a fetch past its deadline")
	}
	if !res.Failed() || res.Severe {
		t.Fatalf("timed out fetch: %+v", res)
	}
	if res.Failure.Kind != fault.Timeout {
		t.Errorf("kind = %s, want timeout", res.Failure.Kind)
	}
	if res.Summary[0] != "data unavailable: upstream timed out" {
		t.Errorf("summary = %v", res.Summary)
	}
}

func TestGuardRecoversPanic(t *testing.T) {
	res := guard(context.Background(), Crime, time.Second, 0, func(ctx context.Context, _ *Recorder) (Result, error) {
		var m map[string]int
		m["boom"]++
		return Result{Severe: true}, nil
	})
	if !res.Failed() || res.Severe || res.Domain != Crime {
		t.Fatalf("panicking fetch: %+v", res)
	}
}

func TestGuardForcesNonSevereOnError(t *testing.T) {
	res := guard(context.Background(), Hazard, time.Second, 0, func(ctx context.Context, _ *Recorder) (Result, error) {
		return Result{Severe: true}, fault.New(fault.Parse, "page", errors.New("bad"))
	})
	if res.Severe || res.Status() != "unavailable" || res.Failure.Kind != fault.Parse {
		t.Errorf("got %+v", res)
	}
}

func TestBestEffortPartialFailure(t *testing.T) {
	res := guard(context.Background(), Weather, time.Second, time.Second, func(ctx context.Context, rec *Recorder) (Result, error) {
		a := BestEffort(ctx, rec, "a", "fallback", func(context.Context) (string, error) {
			return "", fault.New(fault.Connection, "a", errors.New("refused"))
		})
		b := BestEffort(ctx, rec, "b", "fallback", func(context.Context) (string, error) {
			return "value", nil
		})
		return Result{Summary: []string{a, b}}, nil
	})

	if res.Failed() {
		t.Fatalf("one good sub-fetch must keep the domain alive: %+v", res)
	}
	if res.Summary[0] != "fallback" || res.Summary[1] != "value" {
		t.Errorf("summary = %v", res.Summary)
	}
	if len(res.Partial) != 1 || res.Partial[0].Name != "a" || res.Partial[0].Kind != fault.Connection {
		t.Errorf("partial = %+v", res.Partial)
	}
}

func TestBestEffortAllFailed(t *testing.T) {
	res := guard(context.Background(), Geopolitical, time.Second, time.Second, func(ctx context.Context, rec *Recorder) (Result, error) {
		BestEffort(ctx, rec, "ntas", 0, func(context.Context) (int, error) {
			return 0, fault.New(fault.Upstream, "ntas", errors.New("status 503"))
		})
		BestEffort(ctx, rec, "cap", 0, func(context.Context) (int, error) {
			panic("bad feed")
		})
		return Result{Severe: true}, nil
	})

	if !res.Failed() || res.Severe {
		t.Fatalf("all sub-fetches failed: %+v", res)
	}
	if res.Failure.Kind != fault.Upstream {
		t.Errorf("kind = %s, want first sub-failure kind", res.Failure.Kind)
	}
	if len(res.Partial) != 2 {
		t.Errorf("partial = %+v", res.Partial)
	}
}

func TestOptionalFailuresKeepDomain(t *testing.T) {
	res := guard(context.Background(), Earthquake, time.Second, 0, func(ctx context.Context, rec *Recorder) (Result, error) {
		Optional(ctx, rec, "detail", false, func(context.Context) (bool, error) {
			return false, errors.New("nope")
		})
		return Result{}, nil
	})
	if res.Failed() || len(res.Partial) != 1 {
		t.Errorf("got %+v", res)
	}
}

func TestBestEffortSubTimeout(t *testing.T) {
	rec := newRecorder(Hazard, 20*time.Millisecond)
	got := BestEffort(context.Background(), rec, "slow", "placeholder", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "late", ctx.Err()
	})
	if got != "placeholder" {
		t.Errorf("got %q", got)
	}
	if p := rec.failures(); len(p) != 1 || p[0].Kind != fault.Timeout {
		t.Errorf("failures = %+v", p)
	}
}

func TestHaversine(t *testing.T) {
	points := [][2]float64{
		{47.8554, -121.971},
		{47.6062, -122.3321},
		{0, 0},
		{-33.8688, 151.2093},
	}
	for _, p := range points {
		if d := Haversine(p[0], p[1], p[0], p[1]); d != 0 {
			t.Errorf("Haversine(p, p) = %v", d)
		}
	}
	for _, a := range points {
		for _, b := range points {
			if Haversine(a[0], a[1], b[0], b[1]) != Haversine(b[0], b[1], a[0], a[1]) {
				t.Errorf("asymmetric distance between %v and %v", a, b)
			}
		}
	}

	// Monroe to Seattle is roughly 24 miles.
	if d := Haversine(47.8554, -121.971, 47.6062, -122.3321); math.Abs(d-24) > 1 {
		t.Errorf("Monroe to Seattle = %.1f mi", d)
	}
}

func TestFirstLoad(t *testing.T) {
	f := NewFirstLoad()
	if !f.Active() {
		t.Fatal("first load must start active")
	}
	if !f.Complete() {
		t.Error("first Complete should perform the transition")
	}
	if f.Complete() || f.Active() {
		t.Error("first load must never reactivate")
	}
}

func TestParseDomain(t *testing.T) {
	for _, d := range Domains {
		if got, ok := ParseDomain(string(d)); !ok || got != d {
			t.Errorf("ParseDomain(%s) = %s, %v", d, got, ok)
		}
	}
	if _, ok := ParseDomain("motion"); ok {
		t.Error("motion is not a signal source domain")
	}
}
