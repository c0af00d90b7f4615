package sources

import (
	"time"

	"threatwatch/internal/config"
	"threatwatch/internal/logging"
	"threatwatch/internal/upstream"
)

// Set is the ordered collection of configured sources.
type Set struct {
	list     []Source
	byDomain map[Domain]Source
}

// NewSet indexes srcs by domain. A later source replaces an earlier one of
// the same domain.
func NewSet(srcs ...Source) *Set {
	s := &Set{byDomain: make(map[Domain]Source, len(srcs))}
	for _, src := range srcs {
		if _, dup := s.byDomain[src.Domain()]; !dup {
			s.list = append(s.list, src)
		} else {
			for i, old := range s.list {
				if old.Domain() == src.Domain() {
					s.list[i] = src
				}
			}
		}
		s.byDomain[src.Domain()] = src
	}
	return s
}

// Build creates the six sources from configuration. first is shared with
// the traffic source for the lifetime of the process.
func Build(cfg *config.Config, client *upstream.Client, first *FirstLoad) *Set {
	loc := location(cfg.Home.Timezone)
	sc := cfg.Sources
	return NewSet(
		NewTrafficSource(sc.Traffic, client, first, loc),
		NewWeatherSource(sc.Weather, cfg.Home, client),
		NewEarthquakeSource(sc.Earthquake, cfg.Home, client, loc),
		NewCrimeSource(sc.Crime, client),
		NewHazardSource(sc.Hazard, client),
		NewGeopoliticalSource(sc.Geopolitical, client),
	)
}

// All returns the sources in registration order.
func (s *Set) All() []Source { return s.list }

// Get returns the source for d.
func (s *Set) Get(d Domain) (Source, bool) {
	src, ok := s.byDomain[d]
	return src, ok
}

func location(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logging.Warn().Str("timezone", name).Err(err).Msg("unknown timezone, using local time")
		return time.Local
	}
	return loc
}
