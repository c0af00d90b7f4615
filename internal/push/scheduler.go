// Package push re-evaluates topics on their cadence while someone is
// watching and publishes the results on the event bus.
package push

import (
	"context"
	"sync"
	"time"

	"threatwatch/internal/config"
	"threatwatch/internal/events"
	"threatwatch/internal/logging"
	"threatwatch/internal/motion"
	"threatwatch/internal/sources"
	"threatwatch/internal/threat"
)

// Presence reports whether a topic has subscribers. ws.Hub satisfies it.
type Presence interface {
	HasClients(topic string) bool
}

type job struct {
	topic events.Topic
	every time.Duration
	run   func(ctx context.Context) any
}

// Scheduler is a suture.Service. A topic without subscribers is not polled;
// a job still running when its next turn comes is skipped.
type Scheduler struct {
	jobs     []job
	presence Presence
	bus      *events.Bus
	tick     time.Duration

	mu      sync.Mutex
	next    map[events.Topic]time.Time
	running map[events.Topic]bool
	wg      sync.WaitGroup
}

// NewScheduler builds one job per topic from the configured cadences.
func NewScheduler(cfg config.ScheduleConfig, agg *threat.Aggregator, presence Presence, bus *events.Bus) *Scheduler {
	s := &Scheduler{
		presence: presence,
		bus:      bus,
		tick:     time.Second,
		next:     make(map[events.Topic]time.Time),
		running:  make(map[events.Topic]bool),
	}

	s.jobs = append(s.jobs, job{
		topic: events.TopicMotion,
		every: cfg.Motion,
		run: func(ctx context.Context) any {
			res, err := agg.CheckMotion(ctx)
			return motion.Describe(res, err, time.Now(), agg.Window())
		},
	})
	for _, src := range agg.Sources().All() {
		s.jobs = append(s.jobs, job{
			topic: events.Topic(src.Domain()),
			every: Cadence(cfg, src.Domain()),
			run:   func(ctx context.Context) any { return src.Fetch(ctx) },
		})
	}
	s.jobs = append(s.jobs, job{
		topic: events.TopicThreat,
		every: cfg.Threat,
		run:   func(ctx context.Context) any { return agg.Evaluate(ctx) },
	})
	return s
}

// WithTick changes how often due jobs are looked for.
func (s *Scheduler) WithTick(d time.Duration) *Scheduler {
	s.tick = d
	return s
}

// Cadence returns the configured refresh interval of a source domain.
func Cadence(cfg config.ScheduleConfig, d sources.Domain) time.Duration {
	switch d {
	case sources.Traffic:
		return cfg.Traffic
	case sources.Weather:
		return cfg.Weather
	case sources.Earthquake:
		return cfg.Earthquake
	case sources.Crime:
		return cfg.Crime
	case sources.Hazard:
		return cfg.Hazard
	case sources.Geopolitical:
		return cfg.Geopolitical
	default:
		return cfg.Threat
	}
}

func (s *Scheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

func (s *Scheduler) String() string { return "push-scheduler" }

func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if !s.presence.HasClients(string(j.topic)) {
			// Refresh immediately when someone subscribes again.
			delete(s.next, j.topic)
			continue
		}
		if s.running[j.topic] || now.Before(s.next[j.topic]) {
			continue
		}
		s.running[j.topic] = true
		s.next[j.topic] = now.Add(j.every)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				if p := recover(); p != nil {
					logging.Error().Str("topic", string(j.topic)).Interface("panic", p).Msg("push job panicked")
				}
				s.mu.Lock()
				s.running[j.topic] = false
				s.mu.Unlock()
			}()

			payload := j.run(ctx)
			if ctx.Err() != nil {
				return
			}
			s.bus.Publish(events.Event{Topic: j.topic, At: time.Now(), Payload: payload})
		}()
	}
}
