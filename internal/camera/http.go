package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"threatwatch/internal/fault"
)

// HTTPSource polls a still-image endpoint. Each ReadFrame is one GET.
type HTTPSource struct {
	client   *resty.Client
	maxWidth int
}

// NewHTTPSource creates a still-image source with the given per-request timeout.
func NewHTTPSource(timeout time.Duration, maxWidth int) *HTTPSource {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "image/jpeg")
	return &HTTPSource{client: client, maxWidth: maxWidth}
}

// Connect fetches one image to prove the camera answers. That image is
// returned by the first ReadFrame.
func (s *HTTPSource) Connect(ctx context.Context, uri string) (Conn, error) {
	c := &httpConn{source: s, uri: uri}
	frame, err := c.fetch(ctx)
	if err != nil {
		return nil, fault.New(fault.Connection, "camera http connect", err)
	}
	c.pending = frame
	return c, nil
}

type httpConn struct {
	source  *HTTPSource
	uri     string
	pending *Frame
}

func (c *httpConn) fetch(ctx context.Context) (*Frame, error) {
	resp, err := c.source.client.R().SetContext(ctx).Get(c.uri)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("camera returned %s", resp.Status())
	}
	return decodeFrame(resp.Body(), c.source.maxWidth)
}

func (c *httpConn) ReadFrame(ctx context.Context) (*Frame, error) {
	if f := c.pending; f != nil {
		c.pending = nil
		return f, nil
	}
	frame, err := c.fetch(ctx)
	if err != nil {
		return nil, fault.New(fault.Read, "camera http read", err)
	}
	return frame, nil
}

func (c *httpConn) Close() error {
	c.pending = nil
	return nil
}
