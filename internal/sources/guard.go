package sources

import (
	"context"
	"sync"
	"time"

	"threatwatch/internal/fault"
	"threatwatch/internal/logging"
	"threatwatch/internal/metrics"
)

// Recorder collects sub-fetch outcomes for one domain fetch. It is safe
// for concurrent sub-fetches.
type Recorder struct {
	domain  Domain
	timeout time.Duration

	mu       sync.Mutex
	attempts int
	failed   int
	partial  []SubFailure
	first    error
}

func newRecorder(d Domain, subTimeout time.Duration) *Recorder {
	return &Recorder{domain: d, timeout: subTimeout}
}

func (r *Recorder) record(name string, primary bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if primary {
		r.attempts++
	}
	if err == nil {
		return
	}
	if primary {
		r.failed++
		if r.first == nil {
			r.first = err
		}
	}
	kind := fault.KindOf(err)
	r.partial = append(r.partial, SubFailure{Name: name, Kind: kind, Message: err.Error()})
	metrics.SubFetchFailures.WithLabelValues(string(r.domain), name, string(kind)).Inc()
	logging.Debug().
		Str("domain", string(r.domain)).
		Str("subfetch", name).
		Err(err).
		Msg("sub-fetch fell back to placeholder")
}

// allFailed reports whether there were primary sub-fetches and none of
// them succeeded.
func (r *Recorder) allFailed() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts > 0 && r.failed == r.attempts, r.first
}

func (r *Recorder) failures() []SubFailure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SubFailure(nil), r.partial...)
}

// BestEffort runs one sub-fetch under the recorder's sub-timeout. On error
// or panic it records the failure and returns fallback. The domain fails as
// a whole only when every BestEffort sub-fetch failed.
func BestEffort[T any](ctx context.Context, rec *Recorder, name string, fallback T, fn func(context.Context) (T, error)) T {
	return attempt(ctx, rec, name, true, fallback, fn)
}

// Optional is BestEffort for enrichment fetches that never decide whether
// the domain as a whole failed.
func Optional[T any](ctx context.Context, rec *Recorder, name string, fallback T, fn func(context.Context) (T, error)) T {
	return attempt(ctx, rec, name, false, fallback, fn)
}

func attempt[T any](ctx context.Context, rec *Recorder, name string, primary bool, fallback T, fn func(context.Context) (T, error)) (out T) {
	if rec.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rec.timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			rec.record(name, primary, fault.Newf(fault.Upstream, name, "panic: %v", p))
			out = fallback
		}
	}()

	v, err := fn(ctx)
	if err != nil {
		rec.record(name, primary, fault.Wrap(name, err))
		return fallback
	}
	rec.record(name, primary, nil)
	return v
}

type fetchFunc func(ctx context.Context, rec *Recorder) (Result, error)

type outcome struct {
	res Result
	err error
}

// guard runs fn under the domain timeout and turns every failure into an
// unavailable Result. fn runs on its own goroutine so a fetch that ignores
// its context still cannot hold the caller past the deadline.
func guard(ctx context.Context, d Domain, timeout, subTimeout time.Duration, fn fetchFunc) Result {
	start := time.Now()
	op := "fetch " + string(d)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rec := newRecorder(d, subTimeout)
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fault.Newf(fault.Upstream, op, "panic: %v", p)}
			}
		}()
		res, err := fn(ctx, rec)
		done <- outcome{res: res, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		o.err = fault.Wrap(op, ctx.Err())
	}

	if o.err == nil {
		if all, first := rec.allFailed(); all {
			o.err = first
		}
	}

	now := time.Now()
	if o.err != nil {
		res := Unavailable(d, fault.Wrap(op, o.err), now)
		res.Partial = rec.failures()
		kind := string(res.Failure.Kind)
		metrics.RecordSourceFetch(string(d), "failed", now.Sub(start))
		metrics.SourceFailures.WithLabelValues(string(d), kind).Inc()
		metrics.SourceSevere.WithLabelValues(string(d)).Set(0)
		logging.Warn().
			Str("domain", string(d)).
			Str("kind", kind).
			Err(o.err).
			Dur("elapsed", now.Sub(start)).
			Msg("source fetch failed")
		return res
	}

	res := o.res
	res.Domain = d
	res.FetchedAt = now
	res.Failure = nil
	res.Partial = rec.failures()

	outcomeLabel := "ok"
	if res.Severe {
		outcomeLabel = "severe"
	}
	metrics.RecordSourceFetch(string(d), outcomeLabel, now.Sub(start))
	metrics.SourceSevere.WithLabelValues(string(d)).Set(metrics.BoolGauge(res.Severe))
	logging.Debug().
		Str("domain", string(d)).
		Bool("severe", res.Severe).
		Int("partial", len(res.Partial)).
		Dur("elapsed", now.Sub(start)).
		Msg("source fetched")
	return res
}
