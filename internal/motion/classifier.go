package motion

import (
	"context"
	"time"

	"github.com/google/uuid"

	"threatwatch/internal/camera"
	"threatwatch/internal/fault"
	"threatwatch/internal/logging"
	"threatwatch/internal/metrics"
)

// FrameSampler yields two frames taken a short interval apart.
type FrameSampler interface {
	Sample(ctx context.Context) (first, second *camera.Frame, err error)
}

// CheckResult is the outcome of one motion check. Last is the most recent
// confirmed event, which is the new one when Detected is true.
type CheckResult struct {
	Last         *Event    `json:"last,omitempty"`
	Detected     bool      `json:"detected"`
	LargeRegions int       `json:"large_regions"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Classifier samples the camera and applies the motion rule.
type Classifier struct {
	sampler FrameSampler
	store   SnapshotStore
	state   *State
	params  Params
	now     func() time.Time
}

// NewClassifier wires a classifier. state is written only from here.
func NewClassifier(sampler FrameSampler, store SnapshotStore, state *State, params Params) *Classifier {
	return &Classifier{
		sampler: sampler,
		store:   store,
		state:   state,
		params:  params,
		now:     time.Now,
	}
}

// State returns the state this classifier writes.
func (c *Classifier) State() *State { return c.state }

// Store returns the snapshot store.
func (c *Classifier) Store() SnapshotStore { return c.store }

// Check samples two frames and classifies them. Camera failures return an
// error carrying fault.Connection or fault.Read and leave the state alone.
func (c *Classifier) Check(ctx context.Context) (CheckResult, error) {
	started := c.now()

	first, second, err := c.sampler.Sample(ctx)
	if err != nil {
		kind := fault.KindOf(err)
		metrics.RecordMotionCheck(string(kind), time.Since(started))
		logging.Warn().Err(err).Str("kind", string(kind)).Msg("motion check failed")
		return CheckResult{}, err
	}

	analysis, err := Analyze(first.Image, second.Image, c.params)
	if err != nil {
		metrics.RecordMotionCheck(string(fault.Read), time.Since(started))
		return CheckResult{}, fault.New(fault.Read, "motion analyze", err)
	}
	metrics.MotionLargeRegions.Set(float64(analysis.LargeRegions))

	res := CheckResult{LargeRegions: analysis.LargeRegions, CheckedAt: c.now()}

	if analysis.Motion {
		handle, err := c.store.Write(second.Image)
		if err != nil {
			// Without a snapshot the event is not recorded.
			metrics.RecordMotionCheck(string(fault.Read), time.Since(started))
			return CheckResult{}, fault.New(fault.Read, "motion snapshot", err)
		}
		ev := Event{
			ID:           uuid.NewString(),
			OccurredAt:   res.CheckedAt,
			Snapshot:     handle,
			LargeRegions: analysis.LargeRegions,
		}
		c.state.record(ev)
		res.Detected = true
		metrics.MotionLastEvent.Set(float64(ev.OccurredAt.Unix()))
		metrics.RecordMotionCheck("detected", time.Since(started))
		logging.Info().
			Str("event_id", ev.ID).
			Int("large_regions", analysis.LargeRegions).
			Int("regions", analysis.Regions).
			Msg("motion detected")
	} else {
		metrics.RecordMotionCheck("clear", time.Since(started))
		logging.Debug().
			Int("large_regions", analysis.LargeRegions).
			Int("regions", analysis.Regions).
			Msg("no motion")
	}

	if ev, ok := c.state.Last(); ok {
		res.Last = &ev
	}
	return res, nil
}
