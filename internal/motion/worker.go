package motion

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"threatwatch/internal/fault"
)

// Checker runs one motion check.
type Checker interface {
	Check(ctx context.Context) (CheckResult, error)
}

// ErrWorkerStopped is returned when the worker goroutine is not running.
var ErrWorkerStopped = errors.New("motion worker stopped")

type checkRequest struct {
	ctx   context.Context
	reply chan checkReply
}

type checkReply struct {
	res CheckResult
	err error
}

// Worker owns the blocking camera I/O. Checks run one at a time on the
// goroutine started by Serve; callers hand work over a channel and wait on
// a reply channel, so a slow camera never occupies a network fetch
// goroutine. Concurrent callers share the check already in flight.
type Worker struct {
	checker  Checker
	timeout  time.Duration
	requests chan checkRequest
	group    singleflight.Group
}

// NewWorker creates a worker. timeout bounds each check independently of
// the caller that triggered it.
func NewWorker(checker Checker, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Worker{
		checker:  checker,
		timeout:  timeout,
		requests: make(chan checkRequest),
	}
}

// Serve processes check requests until ctx is cancelled. It implements
// suture.Service.
func (w *Worker) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-w.requests:
			res, err := w.checker.Check(req.ctx)
			req.reply <- checkReply{res: res, err: err}
		}
	}
}

func (w *Worker) String() string { return "motion-worker" }

// Check asks the worker for a motion check and waits for its result or for
// ctx to end.
func (w *Worker) Check(ctx context.Context) (CheckResult, error) {
	ch := w.group.DoChan("check", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
		defer cancel()

		reply := make(chan checkReply, 1)
		select {
		case w.requests <- checkRequest{ctx: checkCtx, reply: reply}:
		case <-checkCtx.Done():
			return CheckResult{}, fault.New(fault.Connection, "motion worker", ErrWorkerStopped)
		}
		r := <-reply
		return r.res, r.err
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return CheckResult{}, r.Err
		}
		return r.Val.(CheckResult), nil
	case <-ctx.Done():
		return CheckResult{}, fault.New(fault.Read, "motion worker", ctx.Err())
	}
}
