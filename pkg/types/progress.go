package types

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/samber/lo"
)

const (
	PROGRESS_MIN = 0
	PROGRESS_MAX = 100
)

// JOB_FAILURE_MARKER is how the backend flags a failed stage: it sends a
// final frame with progress 100 and a status of "<stage> Error: <reason>".
const JOB_FAILURE_MARKER = "Error:"

// ProgressEvent is one inbound frame of the progress stream.
type ProgressEvent struct {
	Progress int    `json:"progress"`
	Status   string `json:"status"`
}

func (e ProgressEvent) IsTerminal() bool {
	return e.Progress >= PROGRESS_MAX
}

// IsFailure reports whether the backend reported the job as failed.
func (e ProgressEvent) IsFailure() bool {
	return e.IsTerminal() && strings.Contains(e.Status, JOB_FAILURE_MARKER)
}

var ErrMissingProgress = errors.New("progress field missing")

type progressFrame struct {
	Progress *float64        `json:"progress"`
	Status   json.RawMessage `json:"status"`
}

// DecodeProgressEvent parses a raw frame. Out of range progress values are
// clamped, non-string statuses are kept as their raw JSON text.
func DecodeProgressEvent(raw []byte) (ProgressEvent, error) {
	var frame progressFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return ProgressEvent{}, err
	}
	if frame.Progress == nil {
		return ProgressEvent{}, ErrMissingProgress
	}

	// clamp before converting, huge floats do not fit an int
	ev := ProgressEvent{
		Progress: int(math.Floor(lo.Clamp(*frame.Progress, PROGRESS_MIN, PROGRESS_MAX))),
	}
	if len(frame.Status) > 0 {
		var s string
		if err := json.Unmarshal(frame.Status, &s); err == nil {
			ev.Status = s
		} else {
			ev.Status = string(frame.Status)
		}
	}
	return ev, nil
}

func ClampProgress(p int) int {
	return lo.Clamp(p, PROGRESS_MIN, PROGRESS_MAX)
}

// ProgressPolicy decides what happens when a later event reports a lower
// progress than an earlier one.
type ProgressPolicy string

const (
	// PROGRESS_POLICY_HOLD keeps the highest value seen, the status text still updates.
	PROGRESS_POLICY_HOLD ProgressPolicy = "hold"
	// PROGRESS_POLICY_PASS stores whatever arrived.
	PROGRESS_POLICY_PASS ProgressPolicy = "pass"
)

func ParseProgressPolicy(s string) ProgressPolicy {
	if strings.EqualFold(s, string(PROGRESS_POLICY_PASS)) {
		return PROGRESS_POLICY_PASS
	}
	return PROGRESS_POLICY_HOLD
}
