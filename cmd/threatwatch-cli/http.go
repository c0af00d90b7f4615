package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
)

type client struct {
	http *resty.Client
}

func newClient(baseURL string, timeout time.Duration, debug bool) *client {
	h := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetDebug(debug)
	h.JSONMarshal = json.Marshal
	h.JSONUnmarshal = json.Unmarshal
	return &client{http: h}
}

type apiError struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

// get fetches path and decodes the body into out when out is non-nil. The
// raw body is returned either way.
func (c *client) get(path string, out any) ([]byte, error) {
	var apiErr apiError
	req := c.http.R().SetError(&apiErr)
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, statusError(resp, apiErr)
	}
	return resp.Body(), nil
}

func (c *client) login(user, password string) (string, error) {
	var (
		result struct {
			Token string `json:"token"`
		}
		apiErr apiError
	)
	resp, err := c.http.R().
		SetBody(map[string]string{"username": user, "password": password}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/api/v1/auth/login")
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if resp.IsError() {
		return "", statusError(resp, apiErr)
	}
	return result.Token, nil
}

func statusError(resp *resty.Response, apiErr apiError) error {
	msg := apiErr.Error
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	if apiErr.RequestID != "" {
		return fmt.Errorf("%s: %s [%s]", resp.Status(), msg, apiErr.RequestID)
	}
	return fmt.Errorf("%s: %s", resp.Status(), msg)
}

// Response shapes, decoded loosely so the CLI tolerates added fields.

type evaluation struct {
	Threat struct {
		Level    string   `json:"level"`
		Reasons  []string `json:"reasons"`
		Degraded []string `json:"degraded"`
	} `json:"threat"`
	Motion motionStatus `json:"motion"`
}

type motionStatus struct {
	State   string `json:"state"`
	Message string `json:"message"`
}

type sourceResult struct {
	Domain  string   `json:"domain"`
	Severe  bool     `json:"severe"`
	Summary []string `json:"summary"`
	Failure *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"failure"`
}
