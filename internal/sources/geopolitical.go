package sources

import (
	"bytes"
	"context"
	"encoding/xml"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"

	"threatwatch/internal/config"
	"threatwatch/internal/fault"
	"threatwatch/internal/upstream"
)

// Bulletin is one national or state emergency bulletin.
type Bulletin struct {
	Origin    string `json:"origin"` // ntas or state
	Title     string `json:"title"`
	Event     string `json:"event,omitempty"`
	Published string `json:"published,omitempty"`
}

// GeopoliticalDetails is the Details payload of a geopolitical Result.
type GeopoliticalDetails struct {
	National      []Bulletin `json:"national"`
	NationalKnown bool       `json:"national_known"`
	State         []Bulletin `json:"state"`
	StateKnown    bool       `json:"state_known"`
}

type rssFeed struct {
	Items []struct {
		Title       string `xml:"title"`
		Description string `xml:"description"`
		PubDate     string `xml:"pubDate"`
	} `xml:"channel>item"`
}

type capFeed struct {
	Entries []struct {
		Title   string `xml:"http://www.w3.org/2005/Atom title"`
		Updated string `xml:"http://www.w3.org/2005/Atom updated"`
		Event   string `xml:"urn:oasis:names:tc:emergency:cap:1.2 event"`
	} `xml:"http://www.w3.org/2005/Atom entry"`
}

// GeopoliticalSource reads DHS NTAS bulletins and the state CAP feed.
type GeopoliticalSource struct {
	cfg    config.GeopoliticalConfig
	client *upstream.Client
}

func NewGeopoliticalSource(cfg config.GeopoliticalConfig, client *upstream.Client) *GeopoliticalSource {
	return &GeopoliticalSource{cfg: cfg, client: client}
}

func (s *GeopoliticalSource) Domain() Domain { return Geopolitical }

func (s *GeopoliticalSource) Fetch(ctx context.Context) Result {
	return guard(ctx, Geopolitical, s.cfg.Timeout, s.cfg.SubTimeout, s.fetch)
}

func (s *GeopoliticalSource) fetch(ctx context.Context, rec *Recorder) (Result, error) {
	var d GeopoliticalDetails
	var g errgroup.Group

	g.Go(func() error {
		b := BestEffort(ctx, rec, "ntas", []Bulletin(nil), s.national)
		d.NationalKnown = b != nil
		d.National = nonNil(b)
		return nil
	})
	g.Go(func() error {
		b := BestEffort(ctx, rec, "cap", []Bulletin(nil), s.state)
		d.StateKnown = b != nil
		d.State = nonNil(b)
		return nil
	})
	_ = g.Wait()

	return Result{
		Severe:  len(d.National) > 0 || len(d.State) > 0,
		Summary: geopoliticalSummary(d),
		Details: d,
	}, nil
}

func (s *GeopoliticalSource) national(ctx context.Context) ([]Bulletin, error) {
	body, err := s.client.Get(ctx, upstream.Request{URL: s.cfg.NTASURL, Accept: "application/rss+xml, application/xml"})
	if err != nil {
		return nil, err
	}
	return parseNTAS(body)
}

func (s *GeopoliticalSource) state(ctx context.Context) ([]Bulletin, error) {
	body, err := s.client.Get(ctx, upstream.Request{URL: s.cfg.CAPURL, Accept: "application/atom+xml, application/xml"})
	if err != nil {
		return nil, err
	}
	return parseCAP(body, s.cfg.ExcludeKeywords)
}

func decodeXML(body []byte, v any) error {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	return dec.Decode(v)
}

// parseNTAS returns every bulletin in the feed. Any bulletin at all is a
// national threat.
func parseNTAS(body []byte) ([]Bulletin, error) {
	var feed rssFeed
	if err := decodeXML(body, &feed); err != nil {
		return nil, fault.New(fault.Parse, "ntas feed", err)
	}
	out := make([]Bulletin, 0, len(feed.Items))
	for _, it := range feed.Items {
		title := strings.TrimSpace(it.Title)
		if title == "" {
			title = "NTAS Bulletin"
		}
		out = append(out, Bulletin{Origin: "ntas", Title: title, Published: strings.TrimSpace(it.PubDate)})
	}
	return out, nil
}

// parseCAP keeps entries that carry an event not mentioning any excluded
// keyword. Weather bulletins are counted by the weather domain.
func parseCAP(body []byte, exclude []string) ([]Bulletin, error) {
	var feed capFeed
	if err := decodeXML(body, &feed); err != nil {
		return nil, fault.New(fault.Parse, "cap feed", err)
	}
	out := make([]Bulletin, 0)
	for _, e := range feed.Entries {
		event := strings.TrimSpace(e.Event)
		if event == "" || containsAny(strings.ToLower(event), exclude) {
			continue
		}
		title := strings.TrimSpace(e.Title)
		if title == "" {
			title = "State Alert"
		}
		out = append(out, Bulletin{Origin: "state", Title: title, Event: event, Published: e.Updated})
	}
	return out, nil
}

func nonNil(b []Bulletin) []Bulletin {
	if b == nil {
		return []Bulletin{}
	}
	return b
}

func geopoliticalSummary(d GeopoliticalDetails) []string {
	var lines []string
	for _, b := range d.National {
		lines = append(lines, "DHS NTAS: "+b.Title)
	}
	for _, b := range d.State {
		lines = append(lines, "State Emergency: "+b.Title)
	}
	if !d.NationalKnown {
		lines = append(lines, "DHS NTAS: data unavailable")
	}
	if !d.StateKnown {
		lines = append(lines, "State alerts: data unavailable")
	}
	if len(lines) == 0 {
		lines = append(lines, "No major geopolitical events")
	}
	return lines
}
