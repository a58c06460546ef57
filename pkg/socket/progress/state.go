package progress

import (
	"net/url"
	"strings"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateReconnecting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Live reports whether the channel owns, or is about to own, a socket.
func (s State) Live() bool {
	return s == StateConnecting || s == StateOpen || s == StateReconnecting
}

const (
	TASK_ID_PLACEHOLDER  = "{task_id}"
	DefaultPathTemplate  = "/wsapi/" + TASK_ID_PLACEHOLDER
	DefaultBaseDelay     = time.Second
	DefaultMaxAttempts   = 5
	DefaultOpenTimeout   = 5 * time.Second
	closeWriteTimeout    = time.Second
	malformedLogInterval = 10 * time.Second
)

type Config struct {
	// Origin the page would be served from; https selects wss.
	Origin       *url.URL
	PathTemplate string
	BaseDelay    time.Duration
	MaxAttempts  int
	OpenTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PathTemplate == "" {
		c.PathTemplate = DefaultPathTemplate
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
	return c
}

// StreamURL builds the stream target for taskID. The scheme follows the
// origin (https → wss, http → ws) and the id is percent encoded as a single
// path segment.
func StreamURL(origin *url.URL, template, taskID string) (string, error) {
	if origin == nil || origin.Host == "" {
		return "", errInvalidOrigin
	}
	if taskID == "" {
		return "", errEmptyTaskID
	}
	if template == "" {
		template = DefaultPathTemplate
	}
	if !strings.Contains(template, TASK_ID_PLACEHOLDER) {
		return "", errInvalidTemplate
	}

	scheme := "ws"
	if strings.EqualFold(origin.Scheme, "https") || strings.EqualFold(origin.Scheme, "wss") {
		scheme = "wss"
	}

	u := &url.URL{
		Scheme:  scheme,
		Host:    origin.Host,
		Path:    strings.Replace(template, TASK_ID_PLACEHOLDER, taskID, 1),
		RawPath: strings.Replace(template, TASK_ID_PLACEHOLDER, url.PathEscape(taskID), 1),
	}
	return u.String(), nil
}
