// Package sources implements the six signal sources polled by the threat
// aggregator. Every source returns a Result; failures are folded into the
// Result at the source boundary and never escape as errors or panics.
package sources

import (
	"context"
	"fmt"
	"time"

	"threatwatch/internal/fault"
)

// Domain tags a signal source.
type Domain string

const (
	Traffic      Domain = "traffic"
	Weather      Domain = "weather"
	Earthquake   Domain = "earthquake"
	Crime        Domain = "crime"
	Hazard       Domain = "hazard"
	Geopolitical Domain = "geopolitical"
)

// Domains lists every domain in reason order.
var Domains = []Domain{Traffic, Weather, Earthquake, Crime, Hazard, Geopolitical}

// ParseDomain validates a domain name.
func ParseDomain(s string) (Domain, bool) {
	for _, d := range Domains {
		if string(d) == s {
			return d, true
		}
	}
	return "", false
}

// Failure describes why a domain produced no data.
type Failure struct {
	Kind    fault.Kind `json:"kind"`
	Message string     `json:"message"`
}

// SubFailure is a sub-fetch that fell back to its placeholder.
type SubFailure struct {
	Name    string     `json:"name"`
	Kind    fault.Kind `json:"kind"`
	Message string     `json:"message"`
}

// Result is the normalized output of one fetch. When Failure is set,
// Severe is false and Summary holds only the unavailable marker.
type Result struct {
	Domain    Domain       `json:"domain"`
	Severe    bool         `json:"severe"`
	Summary   []string     `json:"summary"`
	FetchedAt time.Time    `json:"fetched_at"`
	Failure   *Failure     `json:"failure,omitempty"`
	Partial   []SubFailure `json:"partial,omitempty"`
	Details   any          `json:"details,omitempty"`
}

// Failed reports whether the fetch produced no usable data.
func (r Result) Failed() bool { return r.Failure != nil }

// Status is "unavailable", "severe" or "clear".
func (r Result) Status() string {
	switch {
	case r.Failed():
		return "unavailable"
	case r.Severe:
		return "severe"
	default:
		return "clear"
	}
}

// Unavailable builds the failure result for err.
func Unavailable(d Domain, err error, now time.Time) Result {
	kind := fault.KindOf(err)
	return Result{
		Domain:    d,
		FetchedAt: now,
		Failure:   &Failure{Kind: kind, Message: err.Error()},
		Summary:   []string{fmt.Sprintf("data unavailable: %s", reason(kind))},
	}
}

func reason(kind fault.Kind) string {
	switch kind {
	case fault.Connection:
		return "upstream unreachable"
	case fault.Timeout:
		return "upstream timed out"
	case fault.Parse:
		return "unexpected response format"
	case fault.Read:
		return "no data received"
	default:
		return "upstream error"
	}
}

// Source is one signal domain.
type Source interface {
	Domain() Domain
	// Fetch never returns an error; failures are carried in Result.Failure.
	Fetch(ctx context.Context) Result
}
