// Package threat reduces the motion flag and the six source severity flags
// into one threat level.
package threat

import (
	"fmt"
	"strings"
	"time"
)

// Level is the overall threat level.
type Level int

const (
	Low Level = iota
	Elevated
	High
	Severe
)

func (l Level) String() string {
	switch l {
	case Low:
		return "LOW"
	case Elevated:
		return "ELEVATED"
	case High:
		return "HIGH"
	case Severe:
		return "SEVERE"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Color is the display color of the level.
func (l Level) Color() string {
	switch l {
	case Elevated:
		return "#ffcc00"
	case High:
		return "#ff8800"
	case Severe:
		return "#ff0000"
	default:
		return "#00ff00"
	}
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "LOW":
		*l = Low
	case "ELEVATED":
		*l = Elevated
	case "HIGH":
		*l = High
	case "SEVERE":
		*l = Severe
	default:
		return fmt.Errorf("unknown threat level %q", b)
	}
	return nil
}

// AllClear is the single reason reported at LOW.
const AllClear = "All clear"

// Flags are the seven inputs of a reduction.
type Flags struct {
	Motion       bool `json:"motion"`
	Traffic      bool `json:"traffic"`
	Weather      bool `json:"weather"`
	Earthquake   bool `json:"earthquake"`
	Crime        bool `json:"crime"`
	Hazard       bool `json:"hazard"`
	Geopolitical bool `json:"geopolitical"`
}

type flag struct {
	on    bool
	label string
}

func (f Flags) ordered() []flag {
	return []flag{
		{f.Motion, "Front door motion"},
		{f.Traffic, "Major traffic incident"},
		{f.Weather, "Weather alerts"},
		{f.Earthquake, "Major earthquake or tsunami"},
		{f.Crime, "Local violent crime"},
		{f.Hazard, "Major utility outage"},
		{f.Geopolitical, "Geopolitical threat"},
	}
}

// State is the result of one reduction.
type State struct {
	ID         string    `json:"id,omitempty"`
	Level      Level     `json:"level"`
	Color      string    `json:"color"`
	Reasons    []string  `json:"reasons"`
	ComputedAt time.Time `json:"computed_at"`
	Flags      Flags     `json:"flags"`
	// Degraded lists inputs that failed and were counted as not severe.
	Degraded []string `json:"degraded"`
}

// Reduce maps the flags to a level by counting the raised ones: none is
// LOW, one or two ELEVATED, three HIGH, four or more SEVERE. It performs no
// I/O.
func Reduce(f Flags, now time.Time) State {
	var reasons []string
	for _, fl := range f.ordered() {
		if fl.on {
			reasons = append(reasons, fl.label)
		}
	}

	var level Level
	switch n := len(reasons); {
	case n == 0:
		level = Low
		reasons = []string{AllClear}
	case n <= 2:
		level = Elevated
	case n == 3:
		level = High
	default:
		level = Severe
	}

	return State{
		Level:      level,
		Color:      level.Color(),
		Reasons:    reasons,
		ComputedAt: now,
		Flags:      f,
		Degraded:   []string{},
	}
}
