package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"threatwatch/internal/fault"
	"threatwatch/internal/logging"
)

// FFmpegSource reads MJPEG frames from an ffmpeg subprocess. It handles
// RTSP/HTTP streams and local v4l2 devices.
type FFmpegSource struct {
	path     string
	maxWidth int
}

// NewFFmpegSource creates an ffmpeg-backed source. path defaults to "ffmpeg".
func NewFFmpegSource(path string, maxWidth int) *FFmpegSource {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegSource{path: path, maxWidth: maxWidth}
}

func ffmpegArgs(uri string) []string {
	if isNetworkSource(uri) {
		args := []string{"-loglevel", "error"}
		if strings.HasPrefix(uri, "rtsp://") {
			args = append(args, "-rtsp_transport", "tcp")
		}
		return append(args,
			"-i", uri,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", "5",
			"-q:v", "5",
			"-",
		)
	}
	return []string{
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", "640x480",
		"-framerate", "10",
		"-i", uri,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	}
}

// Connect starts ffmpeg and waits for the first frame so an unreachable
// camera surfaces here as a connection error rather than on the first read.
func (s *FFmpegSource) Connect(ctx context.Context, uri string) (Conn, error) {
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, s.path, ffmpegArgs(uri)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fault.New(fault.Connection, "ffmpeg stdout", err)
	}
	stderr := &tailBuffer{limit: 2048}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fault.New(fault.Connection, "ffmpeg start", err)
	}

	c := &ffmpegConn{
		cmd:      cmd,
		cancel:   cancel,
		stderr:   stderr,
		maxWidth: s.maxWidth,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go c.readLoop(stdout)

	select {
	case <-c.notify:
		// readSeq is still zero, so the first ReadFrame returns this frame.
		return c, nil
	case <-c.done:
		c.Close()
		return nil, fault.Newf(fault.Connection, "ffmpeg connect", "stream ended before first frame: %s", c.stderr.String())
	case <-ctx.Done():
		c.Close()
		return nil, fault.New(fault.Connection, "ffmpeg connect", ctx.Err())
	}
}

type ffmpegConn struct {
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	stderr   *tailBuffer
	maxWidth int

	mu      sync.Mutex
	latest  []byte
	seq     uint64
	readSeq uint64
	readErr error

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// readLoop splits stdout into JPEG frames and keeps only the newest, so a
// read after the inter-frame wait sees a current image, not a backlog.
func (c *ffmpegConn) readLoop(r io.Reader) {
	defer close(c.done)

	buf := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				frame, rest := extractJPEGFrame(buf)
				if frame == nil {
					break
				}
				buf = rest
				c.mu.Lock()
				c.latest = frame
				c.seq++
				c.mu.Unlock()
				select {
				case c.notify <- struct{}{}:
				default:
				}
			}
			// Drop garbage that never formed a frame.
			if len(buf) > 8*1024*1024 {
				buf = buf[:0]
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
			}
			return
		}
	}
}

func (c *ffmpegConn) ReadFrame(ctx context.Context) (*Frame, error) {
	for {
		c.mu.Lock()
		if c.seq > c.readSeq {
			data := c.latest
			c.readSeq = c.seq
			c.mu.Unlock()
			frame, err := decodeFrame(data, c.maxWidth)
			if err != nil {
				return nil, fault.New(fault.Read, "ffmpeg read", err)
			}
			return frame, nil
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-c.done:
			c.mu.Lock()
			fresh := c.seq > c.readSeq
			readErr := c.readErr
			c.mu.Unlock()
			if fresh {
				continue
			}
			if readErr == nil {
				readErr = fmt.Errorf("stream closed: %s", c.stderr.String())
			}
			return nil, fault.New(fault.Read, "ffmpeg read", readErr)
		case <-ctx.Done():
			return nil, fault.New(fault.Read, "ffmpeg read", ctx.Err())
		}
	}
}

func (c *ffmpegConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		if err := c.cmd.Wait(); err != nil {
			logging.Debug().Err(err).Msg("ffmpeg exited")
		}
	})
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
