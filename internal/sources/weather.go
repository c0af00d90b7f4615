package sources

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"threatwatch/internal/config"
	"threatwatch/internal/fault"
	"threatwatch/internal/upstream"
)

// Alert is an active NWS alert.
type Alert struct {
	Event    string `json:"event"`
	Headline string `json:"headline"`
	Severity string `json:"severity"`
	AreaDesc string `json:"area"`
}

// Observation is the latest station observation.
type Observation struct {
	Conditions   string   `json:"conditions"`
	TempF        *int     `json:"temp_f,omitempty"`
	WindMph      float64  `json:"wind_mph"`
	WindDir      float64  `json:"wind_dir"`
	Humidity     *float64 `json:"humidity,omitempty"`
	PrecipLastHr float64  `json:"precip_last_hour_mm"`
}

// Forecast is the first forecast period.
type Forecast struct {
	Name          string `json:"name"`
	ShortForecast string `json:"short_forecast"`
	Temperature   int    `json:"temperature"`
	Unit          string `json:"unit"`
	Icon          string `json:"icon"`
}

// PassReport is the mountain pass road report.
type PassReport struct {
	Conditions   string `json:"conditions"`
	Restrictions string `json:"restrictions"`
}

// WeatherDetails is the Details payload of a weather Result. Nil fields
// are sub-fetches that fell back.
type WeatherDetails struct {
	Observation *Observation `json:"observation,omitempty"`
	Forecast    *Forecast    `json:"forecast,omitempty"`
	Alerts      []Alert      `json:"alerts"`
	AlertsKnown bool         `json:"alerts_known"`
	Pass        *PassReport  `json:"pass,omitempty"`
}

type nwsValue struct {
	Value *float64 `json:"value"`
}

type nwsPoint struct {
	Properties struct {
		Forecast            string `json:"forecast"`
		ObservationStations string `json:"observationStations"`
	} `json:"properties"`
}

type nwsForecast struct {
	Properties struct {
		Periods []struct {
			Name            string `json:"name"`
			Temperature     int    `json:"temperature"`
			TemperatureUnit string `json:"temperatureUnit"`
			ShortForecast   string `json:"shortForecast"`
			Icon            string `json:"icon"`
		} `json:"periods"`
	} `json:"properties"`
}

type nwsObservation struct {
	Properties struct {
		TextDescription       string   `json:"textDescription"`
		Temperature           nwsValue `json:"temperature"`
		WindSpeed             nwsValue `json:"windSpeed"`
		WindDirection         nwsValue `json:"windDirection"`
		RelativeHumidity      nwsValue `json:"relativeHumidity"`
		PrecipitationLastHour nwsValue `json:"precipitationLastHour"`
	} `json:"properties"`
}

type nwsAlerts struct {
	Features []struct {
		Properties struct {
			Event    string `json:"event"`
			Headline string `json:"headline"`
			Severity string `json:"severity"`
			AreaDesc string `json:"areaDesc"`
		} `json:"properties"`
	} `json:"features"`
}

const geoJSON = "application/geo+json"

// WeatherSource reads NWS conditions, forecast and alerts plus the
// mountain pass report.
type WeatherSource struct {
	cfg    config.WeatherConfig
	home   config.HomeConfig
	client *upstream.Client
}

func NewWeatherSource(cfg config.WeatherConfig, home config.HomeConfig, client *upstream.Client) *WeatherSource {
	return &WeatherSource{cfg: cfg, home: home, client: client}
}

func (s *WeatherSource) Domain() Domain { return Weather }

func (s *WeatherSource) Fetch(ctx context.Context) Result {
	return guard(ctx, Weather, s.cfg.Timeout, s.cfg.SubTimeout, s.fetch)
}

func (s *WeatherSource) fetch(ctx context.Context, rec *Recorder) (Result, error) {
	var d WeatherDetails
	var g errgroup.Group

	g.Go(func() error {
		d.Forecast = BestEffort(ctx, rec, "forecast", (*Forecast)(nil), s.forecast)
		return nil
	})
	g.Go(func() error {
		d.Observation = BestEffort(ctx, rec, "observation", (*Observation)(nil), s.observation)
		return nil
	})
	g.Go(func() error {
		alerts := BestEffort(ctx, rec, "alerts", []Alert(nil), func(ctx context.Context) ([]Alert, error) {
			return fetchAlerts(ctx, s.client, s.cfg.AlertsURL)
		})
		d.Alerts = relevantAlerts(alerts, s.cfg.Counties)
		d.AlertsKnown = alerts != nil
		return nil
	})
	if s.cfg.PassURL != "" {
		g.Go(func() error {
			d.Pass = BestEffort(ctx, rec, "pass", (*PassReport)(nil), s.pass)
			return nil
		})
	}
	_ = g.Wait()

	return Result{
		Severe:  weatherSevere(d.Alerts),
		Summary: weatherSummary(d),
		Details: d,
	}, nil
}

func (s *WeatherSource) forecast(ctx context.Context) (*Forecast, error) {
	var pt nwsPoint
	url := fmt.Sprintf(s.cfg.PointsURL, s.home.Latitude, s.home.Longitude)
	if err := s.client.GetJSON(ctx, upstream.Request{URL: url, Accept: geoJSON}, &pt); err != nil {
		return nil, err
	}
	if pt.Properties.Forecast == "" {
		return nil, fault.Newf(fault.Parse, "points", "no forecast URL for %s", url)
	}

	var fc nwsForecast
	if err := s.client.GetJSON(ctx, upstream.Request{URL: pt.Properties.Forecast, Accept: geoJSON}, &fc); err != nil {
		return nil, err
	}
	if len(fc.Properties.Periods) == 0 {
		return nil, fault.Newf(fault.Parse, "forecast", "no forecast periods")
	}
	p := fc.Properties.Periods[0]
	return &Forecast{
		Name:          p.Name,
		ShortForecast: p.ShortForecast,
		Temperature:   p.Temperature,
		Unit:          p.TemperatureUnit,
		Icon:          p.Icon,
	}, nil
}

func (s *WeatherSource) observation(ctx context.Context) (*Observation, error) {
	var obs nwsObservation
	if err := s.client.GetJSON(ctx, upstream.Request{URL: s.cfg.ObservationURL, Accept: geoJSON}, &obs); err != nil {
		return nil, err
	}
	p := obs.Properties
	o := &Observation{Conditions: p.TextDescription, Humidity: p.RelativeHumidity.Value}
	if o.Conditions == "" {
		o.Conditions = "Unknown"
	}
	if v := p.Temperature.Value; v != nil {
		f := int(math.Round(*v*1.8 + 32))
		o.TempF = &f
	}
	if v := p.WindSpeed.Value; v != nil {
		// NWS reports km/h.
		o.WindMph = *v * kmToMiles
	}
	if v := p.WindDirection.Value; v != nil {
		o.WindDir = *v
	}
	if v := p.PrecipitationLastHour.Value; v != nil {
		o.PrecipLastHr = *v
	}
	return o, nil
}

var (
	passConditions   = regexp.MustCompile(`(?s)Conditions:</strong>(.*?)</p>`)
	passRestrictions = regexp.MustCompile(`(?s)Restrictions.*?</strong>(.*?)</p>`)
	htmlTag          = regexp.MustCompile(`<[^>]+>`)
)

func (s *WeatherSource) pass(ctx context.Context) (*PassReport, error) {
	page, err := s.client.GetText(ctx, upstream.Request{URL: s.cfg.PassURL, Accept: "text/html"})
	if err != nil {
		return nil, err
	}
	return parsePassReport(page), nil
}

func parsePassReport(page string) *PassReport {
	r := &PassReport{Conditions: "Unknown", Restrictions: "None"}
	if m := passConditions.FindStringSubmatch(page); m != nil {
		r.Conditions = cleanHTML(m[1])
	}
	if m := passRestrictions.FindStringSubmatch(page); m != nil {
		r.Restrictions = cleanHTML(m[1])
	}
	return r
}

func cleanHTML(s string) string {
	s = strings.ReplaceAll(s, "<br/>", " ")
	s = htmlTag.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

func fetchAlerts(ctx context.Context, client *upstream.Client, url string) ([]Alert, error) {
	var resp nwsAlerts
	if err := client.GetJSON(ctx, upstream.Request{URL: url, Accept: geoJSON}, &resp); err != nil {
		return nil, err
	}
	alerts := make([]Alert, 0, len(resp.Features))
	for _, f := range resp.Features {
		p := f.Properties
		alerts = append(alerts, Alert{Event: p.Event, Headline: p.Headline, Severity: p.Severity, AreaDesc: p.AreaDesc})
	}
	return alerts, nil
}

// relevantAlerts keeps alerts whose area mentions one of the counties.
func relevantAlerts(alerts []Alert, counties []string) []Alert {
	out := []Alert{}
	for _, a := range alerts {
		for _, c := range counties {
			if strings.Contains(a.AreaDesc, c) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

func weatherSevere(relevant []Alert) bool {
	for _, a := range relevant {
		if a.Severity == "Severe" || a.Severity == "Extreme" {
			return true
		}
	}
	return false
}

func weatherSummary(d WeatherDetails) []string {
	var lines []string
	if o := d.Observation; o != nil {
		temp := "N/A"
		if o.TempF != nil {
			temp = fmt.Sprintf("%d°F", *o.TempF)
		}
		lines = append(lines, fmt.Sprintf("Currently: %s, %s", temp, o.Conditions))
		if o.WindMph >= 0.5 {
			lines = append(lines, fmt.Sprintf("Wind: %.0f mph from %.0f°", o.WindMph, o.WindDir))
		} else {
			lines = append(lines, "Wind: Calm")
		}
	} else {
		lines = append(lines, "Current conditions: data unavailable")
	}

	if f := d.Forecast; f != nil {
		lines = append(lines, fmt.Sprintf("%s: %s, %d°%s", f.Name, f.ShortForecast, f.Temperature, f.Unit))
	}

	switch {
	case !d.AlertsKnown:
		lines = append(lines, "Alerts: data unavailable")
	case len(d.Alerts) == 0:
		lines = append(lines, "No active alerts")
	default:
		for _, a := range d.Alerts {
			lines = append(lines, "ALERT: "+a.Headline)
		}
	}

	if p := d.Pass; p != nil {
		lines = append(lines, "Stevens Pass: "+p.Conditions)
		lines = append(lines, "Restrictions: "+p.Restrictions)
	}
	return lines
}
