// Package camera acquires frames from the front door camera. Every sample is
// a fresh connect, read, wait, read, close cycle; no connection is held
// between motion checks.
package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"threatwatch/internal/fault"
)

// Frame is a decoded camera frame.
type Frame struct {
	Image      *image.RGBA
	CapturedAt time.Time
}

// Bounds returns the frame rectangle.
func (f *Frame) Bounds() image.Rectangle { return f.Image.Bounds() }

// VideoSource opens connections to a camera.
type VideoSource interface {
	// Connect opens the camera at uri. Failures carry fault.Connection.
	Connect(ctx context.Context, uri string) (Conn, error)
}

// Conn is one open camera connection.
type Conn interface {
	// ReadFrame returns a frame captured after the call began.
	// Failures carry fault.Read.
	ReadFrame(ctx context.Context) (*Frame, error)
	Close() error
}

// isNetworkSource checks if device is an HTTP/RTSP URL
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// isStillImage reports whether uri points at a single JPEG rather than a stream.
func isStillImage(uri string) bool {
	u := strings.ToLower(uri)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(u, ".jpg") || strings.HasSuffix(u, ".jpeg")
}

// NewSource picks the transport for uri. transport "http" or a still-image
// URL selects HTTP polling, anything else goes through ffmpeg.
func NewSource(transport, ffmpegPath string, readTimeout time.Duration, maxWidth int) VideoSource {
	if transport == "http" {
		return NewHTTPSource(readTimeout, maxWidth)
	}
	return &autoSource{
		ffmpeg: NewFFmpegSource(ffmpegPath, maxWidth),
		http:   NewHTTPSource(readTimeout, maxWidth),
	}
}

type autoSource struct {
	ffmpeg *FFmpegSource
	http   *HTTPSource
}

func (a *autoSource) Connect(ctx context.Context, uri string) (Conn, error) {
	if isNetworkSource(uri) && isStillImage(uri) {
		return a.http.Connect(ctx, uri)
	}
	return a.ffmpeg.Connect(ctx, uri)
}

// extractJPEGFrame cuts the first complete JPEG (FFD8 ... FFD9) out of buf.
// It returns nil and buf unchanged while no complete frame is buffered;
// bytes before the start marker are dropped once a frame is found.
func extractJPEGFrame(buf []byte) (frame, rest []byte) {
	start := bytes.Index(buf, []byte{0xFF, 0xD8})
	if start < 0 {
		return nil, buf
	}
	end := bytes.Index(buf[start+2:], []byte{0xFF, 0xD9})
	if end < 0 {
		return nil, buf
	}
	end += start + 4

	frame = make([]byte, end-start)
	copy(frame, buf[start:end])
	return frame, buf[end:]
}

// decodeFrame decodes JPEG bytes into an RGBA frame, downscaling to maxWidth
// when the source is wider.
func decodeFrame(data []byte, maxWidth int) (*Frame, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	return &Frame{Image: toRGBA(src, maxWidth), CapturedAt: time.Now()}, nil
}

func toRGBA(src image.Image, maxWidth int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxWidth > 0 && w > maxWidth {
		h = h * maxWidth / w
		w = maxWidth
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		return dst
	}
	if rgba, ok := src.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// Sampler takes two frames a fixed gap apart from a fresh connection.
type Sampler struct {
	source         VideoSource
	uri            string
	gap            time.Duration
	connectTimeout time.Duration
}

// NewSampler creates a sampler for uri.
func NewSampler(source VideoSource, uri string, gap, connectTimeout time.Duration) *Sampler {
	if gap <= 0 {
		gap = time.Second
	}
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &Sampler{source: source, uri: uri, gap: gap, connectTimeout: connectTimeout}
}

// Sample connects, reads one frame, waits the gap, reads a second frame and
// closes the connection. Errors carry fault.Connection or fault.Read.
func (s *Sampler) Sample(ctx context.Context) (first, second *Frame, err error) {
	connectCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	conn, err := s.source.Connect(connectCtx, s.uri)
	cancel()
	if err != nil {
		return nil, nil, asKind(fault.Connection, "camera connect", err)
	}
	defer conn.Close()

	first, err = conn.ReadFrame(ctx)
	if err != nil {
		return nil, nil, asKind(fault.Read, "camera read", err)
	}

	timer := time.NewTimer(s.gap)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, nil, fault.New(fault.Read, "camera read", ctx.Err())
	case <-timer.C:
	}

	second, err = conn.ReadFrame(ctx)
	if err != nil {
		return nil, nil, asKind(fault.Read, "camera read", err)
	}
	return first, second, nil
}

// URI returns the camera address being sampled.
func (s *Sampler) URI() string { return s.uri }

// asKind forces kind onto err. Camera failures are only ever Connection or
// Read, whatever the underlying cause.
func asKind(kind fault.Kind, op string, err error) error {
	if fault.KindOf(err) == kind {
		return err
	}
	return fault.New(kind, op, err)
}
