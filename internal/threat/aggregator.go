package threat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"threatwatch/internal/fault"
	"threatwatch/internal/logging"
	"threatwatch/internal/metrics"
	"threatwatch/internal/motion"
	"threatwatch/internal/sources"
)

// MotionChecker runs a motion check. motion.Worker satisfies it.
type MotionChecker interface {
	Check(ctx context.Context) (motion.CheckResult, error)
}

// Evaluation is one aggregation cycle: the reduced state plus the inputs it
// was derived from.
type Evaluation struct {
	State   State            `json:"threat"`
	Motion  motion.Status    `json:"motion"`
	Sources []sources.Result `json:"sources"`
}

// Aggregator runs the motion check and every source concurrently and
// reduces their flags.
type Aggregator struct {
	motion  MotionChecker
	sources *sources.Set
	window  time.Duration
	timeout time.Duration
	now     func() time.Time
}

// NewAggregator creates an aggregator. window is how long a motion event
// keeps the motion flag raised; timeout bounds a whole evaluation.
func NewAggregator(m MotionChecker, set *sources.Set, window, timeout time.Duration) *Aggregator {
	return &Aggregator{
		motion:  m,
		sources: set,
		window:  window,
		timeout: timeout,
		now:     time.Now,
	}
}

// Evaluate runs one cycle. It never fails: every input that cannot be read
// counts as not severe and is listed in State.Degraded.
func (a *Aggregator) Evaluate(ctx context.Context) Evaluation {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var (
		motionRes motion.CheckResult
		motionErr error
	)
	motionDone := make(chan struct{})
	go func() {
		defer close(motionDone)
		motionRes, motionErr = a.CheckMotion(ctx)
	}()

	srcs := a.sources.All()
	results := make([]sources.Result, len(srcs))
	var g errgroup.Group
	for i, src := range srcs {
		g.Go(func() error {
			results[i] = src.Fetch(ctx)
			return nil
		})
	}
	_ = g.Wait()
	<-motionDone

	now := a.now()
	flags := FlagsFrom(a.motionActive(motionRes, motionErr, now), results)
	st := Reduce(flags, now)
	st.ID = uuid.NewString()

	if motionErr != nil {
		st.Degraded = append(st.Degraded, "motion")
	}
	for _, r := range results {
		if r.Failed() {
			st.Degraded = append(st.Degraded, string(r.Domain))
		}
	}

	metrics.ThreatLevel.Set(float64(st.Level))
	metrics.ThreatEvaluations.WithLabelValues(st.Level.String()).Inc()
	metrics.ThreatDegradedSources.Set(float64(len(st.Degraded)))

	logging.Info().
		Str("evaluation_id", st.ID).
		Str("level", st.Level.String()).
		Strs("reasons", st.Reasons).
		Strs("degraded", st.Degraded).
		Msg("threat level evaluated")

	return Evaluation{
		State:   st,
		Motion:  motion.Describe(motionRes, motionErr, now, a.window),
		Sources: results,
	}
}

// CheckMotion runs the motion check, recovering a panicking checker into a
// read failure.
func (a *Aggregator) CheckMotion(ctx context.Context) (res motion.CheckResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fault.Newf(fault.Read, "motion check", "panic: %v", p)
		}
	}()
	return a.motion.Check(ctx)
}

// Window is the motion freshness window.
func (a *Aggregator) Window() time.Duration { return a.window }

// Sources returns the configured source set.
func (a *Aggregator) Sources() *sources.Set { return a.sources }

func (a *Aggregator) motionActive(res motion.CheckResult, err error, now time.Time) bool {
	if err != nil || res.Last == nil {
		return false
	}
	return now.Sub(res.Last.OccurredAt) < a.window
}

// FlagsFrom builds reduction flags from a motion verdict and source results.
// Failed results are never severe.
func FlagsFrom(motionActive bool, results []sources.Result) Flags {
	f := Flags{Motion: motionActive}
	for _, r := range results {
		severe := r.Severe && !r.Failed()
		switch r.Domain {
		case sources.Traffic:
			f.Traffic = severe
		case sources.Weather:
			f.Weather = severe
		case sources.Earthquake:
			f.Earthquake = severe
		case sources.Crime:
			f.Crime = severe
		case sources.Hazard:
			f.Hazard = severe
		case sources.Geopolitical:
			f.Geopolitical = severe
		}
	}
	return f
}
