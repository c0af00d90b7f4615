package sources

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"threatwatch/internal/config"
	"threatwatch/internal/fault"
	"threatwatch/internal/upstream"
)

// CrimeIncident is one crime map marker.
type CrimeIncident struct {
	Date        string `json:"date"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Violent     bool   `json:"violent"`
}

// CrimeDetails is the Details payload of a crime Result.
type CrimeDetails struct {
	Incidents []CrimeIncident `json:"incidents"`
	Total     int             `json:"total"`
}

var crimeMarkers = regexp.MustCompile(`(?s)var markers = (\[.*?\]);`)

// CrimeSource scrapes the community crime map.
type CrimeSource struct {
	cfg    config.CrimeConfig
	client *upstream.Client
}

func NewCrimeSource(cfg config.CrimeConfig, client *upstream.Client) *CrimeSource {
	return &CrimeSource{cfg: cfg, client: client}
}

func (s *CrimeSource) Domain() Domain { return Crime }

func (s *CrimeSource) Fetch(ctx context.Context) Result {
	return guard(ctx, Crime, s.cfg.Timeout, 0, s.fetch)
}

func (s *CrimeSource) fetch(ctx context.Context, _ *Recorder) (Result, error) {
	page, err := s.client.GetText(ctx, upstream.Request{URL: s.cfg.URL, Accept: "text/html"})
	if err != nil {
		return Result{}, err
	}

	incidents, err := parseCrimeMarkers(page, s.cfg.Keywords)
	if err != nil {
		return Result{}, err
	}

	d := CrimeDetails{Total: len(incidents), Incidents: incidents}
	if len(d.Incidents) > s.cfg.Limit {
		d.Incidents = d.Incidents[:s.cfg.Limit]
	}
	return Result{
		Severe:  crimeSevere(incidents),
		Summary: crimeSummary(d),
		Details: d,
	}, nil
}

// parseCrimeMarkers extracts the embedded marker array. A page without one
// has no incidents to report.
func parseCrimeMarkers(page string, keywords []string) ([]CrimeIncident, error) {
	m := crimeMarkers.FindStringSubmatch(page)
	if m == nil {
		return []CrimeIncident{}, nil
	}

	var markers []struct {
		Description string `json:"description"`
		Date        string `json:"date"`
		Type        string `json:"type"`
	}
	if err := json.Unmarshal([]byte(m[1]), &markers); err != nil {
		return nil, fault.New(fault.Parse, "crime markers", err)
	}

	out := make([]CrimeIncident, 0, len(markers))
	for _, mk := range markers {
		inc := CrimeIncident{Date: mk.Date, Type: mk.Type, Description: mk.Description}
		if inc.Date == "" {
			inc.Date = "Unknown date"
		}
		if inc.Type == "" {
			inc.Type = "Unknown"
		}
		if inc.Description == "" {
			inc.Description = "Unknown incident"
		}
		inc.Violent = containsAny(strings.ToLower(inc.Type), keywords)
		out = append(out, inc)
	}
	return out, nil
}

func crimeSevere(incidents []CrimeIncident) bool {
	for _, inc := range incidents {
		if inc.Violent {
			return true
		}
	}
	return false
}

func crimeSummary(d CrimeDetails) []string {
	if len(d.Incidents) == 0 {
		return []string{"No recent incidents reported"}
	}
	lines := make([]string, 0, len(d.Incidents))
	for _, inc := range d.Incidents {
		lines = append(lines, fmt.Sprintf("%s | %s | %s", inc.Date, inc.Type, inc.Description))
	}
	return lines
}
