package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, Timeout},
		{"wrapped deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), Timeout},
		{"net timeout", timeoutErr{}, Timeout},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, Connection},
		{"dns", &net.DNSError{Err: "no such host", Name: "example.invalid"}, Connection},
		{"already classified", New(Parse, "decode", errors.New("bad json")), Parse},
		{"other", errors.New("boom"), Upstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorIsSentinel(t *testing.T) {
	err := fmt.Errorf("fetch: %w", New(Timeout, "traffic", context.DeadlineExceeded))

	if !errors.Is(err, ErrTimeout) {
		t.Error("expected errors.Is to match ErrTimeout")
	}
	if errors.Is(err, ErrParse) {
		t.Error("timeout must not match ErrParse")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected the wrapped cause to stay reachable")
	}
}

func TestWrapKeepsExistingKind(t *testing.T) {
	orig := New(Read, "camera", errors.New("no frame"))
	if got := Wrap("motion", orig); got != error(orig) {
		t.Errorf("Wrap re-wrapped a classified error: %v", got)
	}
	if Wrap("x", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if KindOf(Wrap("x", errors.New("500"))) != Upstream {
		t.Error("expected Upstream for an unclassified error")
	}
}
