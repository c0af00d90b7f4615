package sources

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"threatwatch/internal/config"
	"threatwatch/internal/upstream"
)

// UtilityStatus is the state of one utility.
type UtilityStatus struct {
	Known  bool   `json:"known"`
	Status string `json:"status"`
	Major  bool   `json:"major"`
}

// HazardDetails is the Details payload of a hazard Result.
type HazardDetails struct {
	Electric UtilityStatus `json:"electric"`
	// Customers is the electric outage count, -1 when the page had no number.
	Customers int           `json:"customers"`
	Gas       UtilityStatus `json:"gas"`
	Internet  UtilityStatus `json:"internet"`
}

var outageCount = regexp.MustCompile(`current outages.*?(\d[\d,]*)`)

// HazardSource checks the electric, gas and internet status pages.
type HazardSource struct {
	cfg    config.HazardConfig
	client *upstream.Client
}

func NewHazardSource(cfg config.HazardConfig, client *upstream.Client) *HazardSource {
	return &HazardSource{cfg: cfg, client: client}
}

func (s *HazardSource) Domain() Domain { return Hazard }

func (s *HazardSource) Fetch(ctx context.Context) Result {
	return guard(ctx, Hazard, s.cfg.Timeout, s.cfg.SubTimeout, s.fetch)
}

func (s *HazardSource) fetch(ctx context.Context, rec *Recorder) (Result, error) {
	d := HazardDetails{Customers: -1}
	var g errgroup.Group

	g.Go(func() error {
		page := BestEffort(ctx, rec, "electric", "", s.page(s.cfg.ElectricURL))
		if page != "" {
			d.Customers = parseOutageCount(page)
			d.Electric = electricStatus(d.Customers, s.cfg.OutageThreshold)
		}
		return nil
	})
	g.Go(func() error {
		page := BestEffort(ctx, rec, "gas", "", s.page(s.cfg.GasURL))
		if page != "" {
			d.Gas = gasStatus(page)
		}
		return nil
	})
	g.Go(func() error {
		page := BestEffort(ctx, rec, "internet", "", s.page(s.cfg.InternetURL))
		if page != "" {
			d.Internet = internetStatus(page)
		}
		return nil
	})
	_ = g.Wait()

	return Result{
		Severe:  d.Electric.Major || d.Gas.Major || d.Internet.Major,
		Summary: hazardSummary(d),
		Details: d,
	}, nil
}

// page fetches a status page as lower-case text. An empty 2xx body is
// returned as a single space so it is distinguishable from the fallback.
func (s *HazardSource) page(url string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		text, err := s.client.GetText(ctx, upstream.Request{URL: url, Accept: "text/html"})
		if err != nil {
			return "", err
		}
		if text == "" {
			return " ", nil
		}
		return strings.ToLower(text), nil
	}
}

// parseOutageCount reads the affected customer count, 0 when the page
// reports no outages and -1 when it cannot tell.
func parseOutageCount(page string) int {
	if strings.Contains(page, "current outages") {
		if m := outageCount.FindStringSubmatch(page); m != nil {
			if n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
				return n
			}
		}
		return -1
	}
	if strings.Contains(page, "no outages") {
		return 0
	}
	return -1
}

func electricStatus(customers, threshold int) UtilityStatus {
	if customers < 0 {
		return UtilityStatus{Known: true, Status: "Unknown customers affected"}
	}
	return UtilityStatus{
		Known:  true,
		Status: fmt.Sprintf("%d customers affected", customers),
		Major:  customers > threshold,
	}
}

func gasStatus(page string) UtilityStatus {
	if strings.Contains(page, "no outages") {
		return UtilityStatus{Known: true, Status: "No gas outages"}
	}
	return UtilityStatus{Known: true, Status: "Gas issues reported", Major: true}
}

func internetStatus(page string) UtilityStatus {
	if strings.Contains(page, "no problems") {
		return UtilityStatus{Known: true, Status: "No widespread issues"}
	}
	return UtilityStatus{Known: true, Status: "Possible issues reported", Major: true}
}

func hazardSummary(d HazardDetails) []string {
	line := func(label string, u UtilityStatus) string {
		if !u.Known {
			return label + ": data unavailable"
		}
		return label + ": " + u.Status
	}
	return []string{
		line("Electric", d.Electric),
		line("Natural gas", d.Gas),
		line("Internet", d.Internet),
	}
}
