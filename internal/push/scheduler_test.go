package push

import (
	"context"
	"errors"
	"testing"
	"time"

	"threatwatch/internal/config"
	"threatwatch/internal/events"
	"threatwatch/internal/motion"
	"threatwatch/internal/sources"
	"threatwatch/internal/threat"
)

type presence map[string]bool

func (p presence) HasClients(topic string) bool { return p[topic] }

type stubSource sources.Domain

func (s stubSource) Domain() sources.Domain { return sources.Domain(s) }

func (s stubSource) Fetch(ctx context.Context) sources.Result {
	return sources.Result{Domain: sources.Domain(s), Summary: []string{"ok"}, FetchedAt: time.Now()}
}

type stubMotion struct{}

func (stubMotion) Check(ctx context.Context) (motion.CheckResult, error) {
	return motion.CheckResult{}, nil
}

func newAggregator() *threat.Aggregator {
	var srcs []sources.Source
	for _, d := range sources.Domains {
		srcs = append(srcs, stubSource(d))
	}
	return threat.NewAggregator(stubMotion{}, sources.NewSet(srcs...), 5*time.Minute, time.Second)
}

func schedule(every, threatEvery time.Duration) config.ScheduleConfig {
	return config.ScheduleConfig{
		Enabled:      true,
		Motion:       every,
		Traffic:      every,
		Weather:      every,
		Earthquake:   every,
		Crime:        every,
		Hazard:       every,
		Geopolitical: every,
		Threat:       threatEvery,
	}
}

func TestSchedulerPollsWatchedTopicsOnly(t *testing.T) {
	bus := events.NewBus()
	ch, unsub := bus.SubscribeChannel("", 256)
	defer unsub()

	watching := presence{"threat": true, "traffic": true}
	s := NewScheduler(schedule(time.Hour, 20*time.Millisecond), newAggregator(), watching, bus).WithTick(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := s.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Serve() = %v", err)
	}

	counts := map[events.Topic]int{}
	for done := false; !done; {
		select {
		case e := <-ch:
			counts[e.Topic]++
			if e.Topic == events.TopicThreat {
				if _, ok := e.Payload.(threat.Evaluation); !ok {
					t.Errorf("threat payload = %T", e.Payload)
				}
			}
		default:
			done = true
		}
	}

	if counts[events.TopicThreat] < 2 {
		t.Errorf("threat published %d times, want at least 2", counts[events.TopicThreat])
	}
	if counts["traffic"] != 1 {
		t.Errorf("traffic published %d times, want 1", counts["traffic"])
	}
	if counts[events.TopicMotion] != 0 || counts["weather"] != 0 {
		t.Errorf("unwatched topics polled: %v", counts)
	}
}

func TestCadence(t *testing.T) {
	cfg := config.Default().Schedule
	tests := map[sources.Domain]time.Duration{
		sources.Traffic:      120 * time.Second,
		sources.Weather:      300 * time.Second,
		sources.Earthquake:   300 * time.Second,
		sources.Crime:        600 * time.Second,
		sources.Hazard:       600 * time.Second,
		sources.Geopolitical: 900 * time.Second,
	}
	for d, want := range tests {
		if got := Cadence(cfg, d); got != want {
			t.Errorf("Cadence(%s) = %s, want %s", d, got, want)
		}
	}
}
