package motion

import (
	"fmt"
	"time"

	"threatwatch/internal/fault"
)

// Status values for Describe.
const (
	StatusActive = "active"
	StatusRecent = "recent"
	StatusNone   = "none"
	StatusError  = "error"
)

// Status is the display form of a motion check.
type Status struct {
	State      string     `json:"state"`
	Message    string     `json:"message"`
	LastMotion *time.Time `json:"last_motion,omitempty"`
	Snapshot   Handle     `json:"snapshot,omitempty"`
	Detected   bool       `json:"detected"`
	ErrorKind  fault.Kind `json:"error_kind,omitempty"`
	CheckedAt  time.Time  `json:"checked_at"`
}

// Describe turns a check outcome into display text. Motion newer than
// window is reported in seconds, older motion in whole minutes.
func Describe(res CheckResult, err error, now time.Time, window time.Duration) Status {
	if err != nil {
		msg := "Camera connection failed"
		if fault.KindOf(err) == fault.Read {
			msg = "Failed to read frame"
		}
		return Status{
			State:     StatusError,
			Message:   msg,
			ErrorKind: fault.KindOf(err),
			CheckedAt: now,
		}
	}

	st := Status{Detected: res.Detected, CheckedAt: now}
	if res.Last == nil {
		st.State = StatusNone
		st.Message = "No recent motion detected"
		return st
	}

	at := res.Last.OccurredAt
	st.LastMotion = &at
	st.Snapshot = res.Last.Snapshot

	age := now.Sub(at)
	if age < window {
		st.State = StatusActive
		st.Message = fmt.Sprintf("MOTION DETECTED %d seconds ago!", int(age.Seconds()))
	} else {
		st.State = StatusRecent
		st.Message = fmt.Sprintf("Last motion: %d minutes ago", int(age.Minutes()))
	}
	return st
}
