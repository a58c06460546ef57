// Package scheduler provides cancellable delayed tasks. Components take a
// Scheduler instead of calling time.AfterFunc so cancellation is explicit
// and tests can drive time by hand.
package scheduler

import (
	"sync"
	"time"

	"github.com/deckforge/deckforge/pkg/safe"
)

// Handle is a pending delayed task.
type Handle interface {
	// Cancel prevents the task from running. It reports whether the call
	// stopped the task, false when it already ran or was cancelled.
	Cancel() bool
}

type Scheduler interface {
	After(d time.Duration, fn func()) Handle
}

// New returns a Scheduler backed by runtime timers.
func New() Scheduler {
	return realScheduler{}
}

type realScheduler struct{}

type timerHandle struct {
	mu       sync.Mutex
	timer    *time.Timer
	finished bool
}

func (realScheduler) After(d time.Duration, fn func()) Handle {
	h := &timerHandle{}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timer = time.AfterFunc(d, func() {
		h.mu.Lock()
		if h.finished {
			h.mu.Unlock()
			return
		}
		h.finished = true
		h.mu.Unlock()
		safe.RunWithLog(fn, "scheduler")
	})
	return h
}

func (h *timerHandle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return false
	}
	h.finished = true
	h.timer.Stop()
	return true
}

// Cancel is a nil safe helper for optional handles.
func Cancel(h Handle) {
	if h != nil {
		h.Cancel()
	}
}
