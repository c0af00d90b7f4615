package sources

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"threatwatch/internal/config"
	"threatwatch/internal/upstream"
)

// Incident is one highway alert.
type Incident struct {
	Headline  string    `json:"headline"`
	Category  string    `json:"category"`
	Priority  string    `json:"priority"`
	StartTime time.Time `json:"start_time"`
	Major     bool      `json:"major"`
}

// HighwayIncidents groups the incidents of one monitored highway.
type HighwayIncidents struct {
	Name      string     `json:"name"`
	Incidents []Incident `json:"incidents"`
}

// TrafficDetails is the Details payload of a traffic Result.
type TrafficDetails struct {
	Highways  []HighwayIncidents `json:"highways"`
	FirstLoad bool               `json:"first_load"`
}

type wsdotAlert struct {
	AlertID             int    `json:"AlertID"`
	HeadlineDescription string `json:"HeadlineDescription"`
	EventCategory       string `json:"EventCategory"`
	Priority            string `json:"Priority"`
	StartTime           string `json:"StartTime"`
}

// TrafficSource reads WSDOT highway alerts.
type TrafficSource struct {
	cfg    config.TrafficConfig
	client *upstream.Client
	first  *FirstLoad
	loc    *time.Location
	now    func() time.Time
}

func NewTrafficSource(cfg config.TrafficConfig, client *upstream.Client, first *FirstLoad, loc *time.Location) *TrafficSource {
	return &TrafficSource{cfg: cfg, client: client, first: first, loc: loc, now: time.Now}
}

func (s *TrafficSource) Domain() Domain { return Traffic }

func (s *TrafficSource) Fetch(ctx context.Context) Result {
	return guard(ctx, Traffic, s.cfg.Timeout, 0, s.fetch)
}

func (s *TrafficSource) fetch(ctx context.Context, _ *Recorder) (Result, error) {
	req := upstream.Request{URL: s.cfg.URL}
	if s.cfg.AccessCode != "" {
		req.Query = map[string]string{"AccessCode": s.cfg.AccessCode}
	}

	var alerts []wsdotAlert
	if err := s.client.GetJSON(ctx, req, &alerts); err != nil {
		return Result{}, err
	}

	now := s.now()
	firstLoad := s.first.Active()
	var cutoff time.Time
	if firstLoad && s.cfg.FirstLoadLookback > 0 {
		cutoff = now.Add(-s.cfg.FirstLoadLookback)
	}

	incidents := make([]Incident, 0, len(alerts))
	for _, a := range alerts {
		start, ok := parseWSDOTTime(a.StartTime)
		if !ok {
			start = now
		}
		if !cutoff.IsZero() && start.Before(cutoff) {
			continue
		}
		inc := Incident{
			Headline:  a.HeadlineDescription,
			Category:  a.EventCategory,
			Priority:  a.Priority,
			StartTime: start,
		}
		if inc.Headline == "" {
			inc.Headline = "Unknown incident"
		}
		inc.Major = isMajorIncident(inc, s.cfg.MajorKeywords)
		incidents = append(incidents, inc)
	}

	highways, severe := groupByHighway(incidents, s.cfg.Highways, s.cfg.Limit)
	if firstLoad {
		s.first.Complete()
	}

	return Result{
		Severe:  severe,
		Summary: trafficSummary(highways, s.loc),
		Details: TrafficDetails{Highways: highways, FirstLoad: firstLoad},
	}, nil
}

func isMajorIncident(inc Incident, keywords []string) bool {
	if inc.Priority == "High" || inc.Priority == "Highest" {
		return true
	}
	return containsAny(strings.ToLower(inc.Headline), keywords)
}

// groupByHighway keeps incidents whose headline references a monitored
// highway, newest first, at most limit per highway. An incident may belong
// to more than one highway. severe reports a major incident on any
// monitored highway, including incidents cut by limit.
func groupByHighway(incidents []Incident, highways []config.HighwayConfig, limit int) (out []HighwayIncidents, severe bool) {
	out = make([]HighwayIncidents, 0, len(highways))
	for _, hw := range highways {
		match := wordMatcher(hw.Keywords)
		group := HighwayIncidents{Name: hw.Name, Incidents: []Incident{}}
		for _, inc := range incidents {
			if match == nil || !match.MatchString(strings.ToLower(inc.Headline)) {
				continue
			}
			group.Incidents = append(group.Incidents, inc)
			severe = severe || inc.Major
		}
		sort.SliceStable(group.Incidents, func(i, j int) bool {
			return group.Incidents[i].StartTime.After(group.Incidents[j].StartTime)
		})
		if limit > 0 && len(group.Incidents) > limit {
			group.Incidents = group.Incidents[:limit]
		}
		out = append(out, group)
	}
	return out, severe
}

// wordMatcher matches any of words as whole words, so "sr 2" does not
// match "sr 20" or "sr 203". It returns nil when words is empty.
func wordMatcher(words []string) *regexp.Regexp {
	alts := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(strings.ToLower(w)); w != "" {
			alts = append(alts, regexp.QuoteMeta(w))
		}
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)\b`)
}

func trafficSummary(highways []HighwayIncidents, loc *time.Location) []string {
	var lines []string
	for _, hw := range highways {
		if len(hw.Incidents) == 0 {
			lines = append(lines, hw.Name+": no incidents")
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %d incident(s)", hw.Name, len(hw.Incidents)))
		for _, inc := range hw.Incidents {
			lines = append(lines, fmt.Sprintf("%s | %s | %s | %s",
				inc.StartTime.In(loc).Format("01/02 15:04"), inc.Priority, inc.Category, inc.Headline))
		}
	}
	return lines
}

var wsdotDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// parseWSDOTTime accepts the WCF "/Date(ms-0800)/" form and RFC 3339.
func parseWSDOTTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if m := wsdotDate.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, strings.ToLower(w)) {
			return true
		}
	}
	return false
}
