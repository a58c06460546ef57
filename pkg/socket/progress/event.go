package progress

import (
	"time"

	"github.com/deckforge/deckforge/pkg/types"
)

type EventKind string

const (
	EVENT_STATE        EventKind = "state"
	EVENT_PROGRESS     EventKind = "progress"
	EVENT_RECONNECTING EventKind = "reconnecting"
	EVENT_COMPLETED    EventKind = "completed"
	EVENT_JOB_FAILED   EventKind = "job_failed"
	EVENT_EXHAUSTED    EventKind = "exhausted"
	EVENT_CLOSED       EventKind = "closed"
)

// Event is what subscribers receive.
type Event struct {
	Kind     EventKind           `json:"kind"`
	TaskID   string              `json:"task_id"`
	State    State               `json:"state"`
	Progress types.ProgressEvent `json:"progress"`
	Attempt  int                 `json:"attempt,omitempty"`
	Delay    time.Duration       `json:"delay,omitempty"`
	Message  string              `json:"message,omitempty"`
	Err      error               `json:"-"`
}

// IsTerminal reports whether the event ends the session.
func (e Event) IsTerminal() bool {
	switch e.Kind {
	case EVENT_COMPLETED, EVENT_JOB_FAILED, EVENT_EXHAUSTED, EVENT_CLOSED:
		return true
	}
	return false
}

// internal inputs of the state machine
type eventType int

const (
	evConnect eventType = iota
	evOpened
	evFrame
	evClosed
	evOpenTimeout
	evReconnect
	evDisconnect
)

func (t eventType) String() string {
	switch t {
	case evConnect:
		return "connect"
	case evOpened:
		return "opened"
	case evFrame:
		return "frame"
	case evClosed:
		return "closed"
	case evOpenTimeout:
		return "open_timeout"
	case evReconnect:
		return "reconnect"
	case evDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// command events come from the API and bypass the generation check.
func (t eventType) command() bool {
	return t == evConnect || t == evDisconnect
}

type event struct {
	typ    eventType
	gen    uint64
	taskID string
	target string
	conn   Conn
	data   []byte
	err    error
}
