package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler whose clock only moves when Advance is called.
// Tasks run on the goroutine calling Advance, in due order.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	owner    *Manual
	due      time.Duration
	seq      int
	delay    time.Duration
	fn       func()
	finished bool
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) After(d time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTask{owner: m, due: m.now + d, seq: m.seq, delay: d, fn: fn}
	m.tasks = append(m.tasks, t)
	return t
}

func (t *manualTask) Cancel() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.finished {
		return false
	}
	t.finished = true
	return true
}

// Advance moves the clock forward by d and runs every task that became due.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	ran := 0
	for {
		t := m.next(target)
		if t == nil {
			break
		}
		t.fn()
		ran++
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
	return ran
}

// FireNext runs the earliest pending task regardless of its due time and
// returns the delay it was scheduled with.
func (m *Manual) FireNext() (time.Duration, bool) {
	m.mu.Lock()
	pending := m.pendingLocked()
	if len(pending) == 0 {
		m.mu.Unlock()
		return 0, false
	}
	t := pending[0]
	t.finished = true
	if t.due > m.now {
		m.now = t.due
	}
	m.mu.Unlock()

	t.fn()
	return t.delay, true
}

// Pending returns the delays of tasks not yet run or cancelled, earliest first.
func (m *Manual) Pending() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Duration
	for _, t := range m.pendingLocked() {
		out = append(out, t.delay)
	}
	return out
}

func (m *Manual) next(target time.Duration) *manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.pendingLocked()
	if len(pending) == 0 || pending[0].due > target {
		return nil
	}
	t := pending[0]
	t.finished = true
	m.now = t.due
	return t
}

func (m *Manual) pendingLocked() []*manualTask {
	var live []*manualTask
	for _, t := range m.tasks {
		if !t.finished {
			live = append(live, t)
		}
	}
	m.tasks = live
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].due == live[j].due {
			return live[i].seq < live[j].seq
		}
		return live[i].due < live[j].due
	})
	return live
}
