// Package upstream is the shared HTTP client used by every signal source.
// Requests go through a per-host circuit breaker and every error leaves this
// package classified with a fault.Kind.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"threatwatch/internal/config"
	"threatwatch/internal/fault"
	"threatwatch/internal/logging"
	"threatwatch/internal/metrics"
)

// Client performs GET requests against public upstreams.
type Client struct {
	http    *resty.Client
	breaker config.BreakerConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*resty.Response]
}

// New creates a client. Retries are disabled; a failed fetch is reported
// and the next scheduled fetch tries again.
func New(userAgent string, breaker config.BreakerConfig) *Client {
	r := resty.New().
		SetRetryCount(0).
		SetHeader("User-Agent", userAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))
	r.JSONUnmarshal = json.Unmarshal
	r.JSONMarshal = json.Marshal

	return &Client{
		http:     r,
		breaker:  breaker,
		breakers: make(map[string]*gobreaker.CircuitBreaker[*resty.Response]),
	}
}

// Request describes one GET.
type Request struct {
	URL    string
	Query  map[string]string
	Accept string
	// Timeout bounds this request on top of the caller's context.
	Timeout time.Duration
}

// GetJSON fetches r and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, r Request, out any) error {
	if r.Accept == "" {
		r.Accept = "application/json"
	}
	body, err := c.Get(ctx, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fault.New(fault.Parse, "decode "+hostOf(r.URL), err)
	}
	return nil
}

// GetText fetches r and returns the body as a string.
func (c *Client) GetText(ctx context.Context, r Request) (string, error) {
	body, err := c.Get(ctx, r)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Get fetches r and returns the raw body of a 2xx response.
func (c *Client) Get(ctx context.Context, r Request) ([]byte, error) {
	op := "GET " + hostOf(r.URL)
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	do := func() (*resty.Response, error) {
		req := c.http.R().SetContext(ctx)
		if len(r.Query) > 0 {
			req.SetQueryParams(r.Query)
		}
		if r.Accept != "" {
			req.SetHeader("Accept", r.Accept)
		}
		resp, err := req.Get(r.URL)
		if err != nil {
			return nil, fault.New(fault.Classify(err), op, err)
		}
		if resp.IsError() {
			err := fault.Newf(fault.Upstream, op, "status %d", resp.StatusCode())
			if resp.StatusCode() < 500 {
				// 4xx is our request, not an unhealthy host.
				return resp, &clientError{err}
			}
			return nil, err
		}
		return resp, nil
	}

	var (
		resp *resty.Response
		err  error
	)
	if c.breaker.Enabled {
		resp, err = c.execute(hostOf(r.URL), do)
	} else {
		resp, err = do()
	}

	var ce *clientError
	if errors.As(err, &ce) {
		return nil, ce.err
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fault.New(fault.Upstream, op, err)
		}
		return nil, err
	}
	return resp.Body(), nil
}

type clientError struct{ err *fault.Error }

func (e *clientError) Error() string { return e.err.Error() }
func (e *clientError) Unwrap() error { return e.err }

func (c *Client) execute(host string, fn func() (*resty.Response, error)) (*resty.Response, error) {
	cb := c.breakerFor(host)
	resp, err := cb.Execute(fn)
	var ce *clientError
	switch {
	case err == nil, errors.As(err, &ce):
		metrics.CircuitBreakerRequests.WithLabelValues(host, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(host, "rejected").Inc()
		logging.Warn().Str("host", host).Err(err).Msg("upstream request rejected by circuit breaker")
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(host, "failure").Inc()
	}
	return resp, err
}

func (c *Client) breakerFor(host string) *gobreaker.CircuitBreaker[*resty.Response] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[host]; ok {
		return cb
	}

	s := c.breaker
	metrics.CircuitBreakerState.WithLabelValues(host).Set(0)
	cb := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        host,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= s.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			var ce *clientError
			return err == nil || errors.As(err, &ce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	c.breakers[host] = cb
	return cb
}

// BreakerStates reports the state of every breaker created so far.
func (c *Client) BreakerStates() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.breakers))
	for host, cb := range c.breakers {
		out[host] = cb.State().String()
	}
	return out
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Sprintf("%.40s", raw)
	}
	return u.Host
}
