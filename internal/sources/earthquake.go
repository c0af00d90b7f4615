package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"threatwatch/internal/config"
	"threatwatch/internal/upstream"
)

// Quake is one catalog event.
type Quake struct {
	Time       time.Time `json:"time"`
	Magnitude  float64   `json:"magnitude"`
	Place      string    `json:"place"`
	DepthKm    float64   `json:"depth_km"`
	Miles      float64   `json:"miles"`
	Felt       int       `json:"felt"`
	Aftershock bool      `json:"aftershock_forecast"`
	Major      bool      `json:"major"`
	detailURL  string
}

// EarthquakeDetails is the Details payload of an earthquake Result.
type EarthquakeDetails struct {
	Quakes       []Quake `json:"quakes"`
	QuakesKnown  bool    `json:"quakes_known"`
	Tsunami      []Alert `json:"tsunami"`
	TsunamiKnown bool    `json:"tsunami_known"`
}

type usgsCollection struct {
	Features []struct {
		Properties struct {
			Mag    *float64 `json:"mag"`
			Place  string   `json:"place"`
			Time   int64    `json:"time"`
			Felt   *int     `json:"felt"`
			Detail string   `json:"detail"`
		} `json:"properties"`
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

type usgsDetail struct {
	Properties struct {
		Products map[string]json.RawMessage `json:"products"`
	} `json:"properties"`
}

// EarthquakeSource reads the USGS catalog around home and NWS tsunami
// alerts.
type EarthquakeSource struct {
	cfg    config.EarthquakeConfig
	home   config.HomeConfig
	client *upstream.Client
	loc    *time.Location
}

func NewEarthquakeSource(cfg config.EarthquakeConfig, home config.HomeConfig, client *upstream.Client, loc *time.Location) *EarthquakeSource {
	return &EarthquakeSource{cfg: cfg, home: home, client: client, loc: loc}
}

func (s *EarthquakeSource) Domain() Domain { return Earthquake }

func (s *EarthquakeSource) Fetch(ctx context.Context) Result {
	return guard(ctx, Earthquake, s.cfg.Timeout, 0, s.fetch)
}

func (s *EarthquakeSource) fetch(ctx context.Context, rec *Recorder) (Result, error) {
	var d EarthquakeDetails
	var g errgroup.Group

	g.Go(func() error {
		quakes := BestEffort(ctx, rec, "catalog", []Quake(nil), s.catalog)
		d.QuakesKnown = quakes != nil
		d.Quakes = s.enrich(ctx, rec, quakes)
		return nil
	})
	g.Go(func() error {
		alerts := BestEffort(ctx, rec, "tsunami", []Alert(nil), func(ctx context.Context) ([]Alert, error) {
			return fetchAlerts(ctx, s.client, s.cfg.AlertsURL)
		})
		d.TsunamiKnown = alerts != nil
		d.Tsunami = tsunamiAlerts(alerts)
		return nil
	})
	_ = g.Wait()

	return Result{
		Severe:  earthquakeSevere(d),
		Summary: earthquakeSummary(d, s.loc),
		Details: d,
	}, nil
}

func (s *EarthquakeSource) catalog(ctx context.Context) ([]Quake, error) {
	start := time.Now().UTC().Add(-s.cfg.Window)
	req := upstream.Request{
		URL: s.cfg.QueryURL,
		Query: map[string]string{
			"format":       "geojson",
			"starttime":    start.Format("2006-01-02T15:04:05"),
			"minmagnitude": strconv.FormatFloat(s.cfg.MinMagnitude, 'f', -1, 64),
			"latitude":     strconv.FormatFloat(s.home.Latitude, 'f', -1, 64),
			"longitude":    strconv.FormatFloat(s.home.Longitude, 'f', -1, 64),
			"maxradiuskm":  strconv.FormatFloat(s.cfg.RadiusKm, 'f', -1, 64),
			"orderby":      "time",
			"limit":        strconv.Itoa(s.cfg.Limit),
		},
		Accept: geoJSON,
	}

	var col usgsCollection
	if err := s.client.GetJSON(ctx, req, &col); err != nil {
		return nil, err
	}

	quakes := make([]Quake, 0, len(col.Features))
	for _, f := range col.Features {
		if len(quakes) == s.cfg.Limit {
			break
		}
		p := f.Properties
		q := Quake{
			Time:      time.UnixMilli(p.Time),
			Place:     p.Place,
			detailURL: p.Detail,
		}
		if p.Mag != nil {
			q.Magnitude = *p.Mag
		}
		if p.Felt != nil {
			q.Felt = *p.Felt
		}
		if c := f.Geometry.Coordinates; len(c) >= 2 {
			q.Miles = Haversine(s.home.Latitude, s.home.Longitude, c[1], c[0])
			if len(c) >= 3 {
				q.DepthKm = c[2]
			}
		}
		q.Major = q.Magnitude > s.cfg.SevereMagnitude && q.Miles <= s.cfg.SevereMiles
		quakes = append(quakes, q)
	}
	return quakes, nil
}

// enrich looks up each quake's detail document for an aftershock forecast.
func (s *EarthquakeSource) enrich(ctx context.Context, rec *Recorder, quakes []Quake) []Quake {
	if len(quakes) == 0 {
		return []Quake{}
	}
	var g errgroup.Group
	g.SetLimit(4)
	for i := range quakes {
		if quakes[i].detailURL == "" {
			continue
		}
		g.Go(func() error {
			quakes[i].Aftershock = Optional(ctx, rec, "detail", false, func(ctx context.Context) (bool, error) {
				return s.hasAftershockForecast(ctx, quakes[i].detailURL)
			})
			return nil
		})
	}
	_ = g.Wait()
	return quakes
}

func (s *EarthquakeSource) hasAftershockForecast(ctx context.Context, url string) (bool, error) {
	var d usgsDetail
	req := upstream.Request{URL: url, Accept: geoJSON, Timeout: s.cfg.DetailTimeout}
	if err := s.client.GetJSON(ctx, req, &d); err != nil {
		return false, err
	}
	_, ok := d.Properties.Products["aftershock-forecast"]
	return ok, nil
}

func tsunamiAlerts(alerts []Alert) []Alert {
	out := []Alert{}
	for _, a := range alerts {
		if strings.Contains(strings.ToLower(a.Event), "tsunami") {
			out = append(out, a)
		}
	}
	return out
}

// earthquakeSevere is true for a strong nearby quake or any tsunami alert.
func earthquakeSevere(d EarthquakeDetails) bool {
	if len(d.Tsunami) > 0 {
		return true
	}
	for _, q := range d.Quakes {
		if q.Major {
			return true
		}
	}
	return false
}

func earthquakeSummary(d EarthquakeDetails, loc *time.Location) []string {
	var lines []string
	switch {
	case !d.QuakesKnown:
		lines = append(lines, "Quakes: data unavailable")
	case len(d.Quakes) == 0:
		lines = append(lines, "No earthquakes in the last 24 hours")
	default:
		for _, q := range d.Quakes {
			line := fmt.Sprintf("%s | Mag %.1f | %s | Depth %.1fkm | %.0fmi away | Felt by %d people",
				q.Time.In(loc).Format("15:04"), q.Magnitude, q.Place, q.DepthKm, q.Miles, q.Felt)
			if q.Aftershock {
				line += " | Aftershock forecast available"
			}
			lines = append(lines, line)
		}
	}

	switch {
	case !d.TsunamiKnown:
		lines = append(lines, "Tsunami alerts: data unavailable")
	case len(d.Tsunami) == 0:
		lines = append(lines, "No active tsunami alerts")
	default:
		for _, a := range d.Tsunami {
			lines = append(lines, "TSUNAMI WARNING: "+a.Headline)
		}
	}
	return lines
}
