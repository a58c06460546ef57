// Package notify holds ephemeral user facing messages raised by task
// lifecycle transitions.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/deckforge/deckforge/pkg/scheduler"
	"github.com/deckforge/deckforge/pkg/types"
)

const DefaultDuration = 5 * time.Second

// Notifier is the sink the progress channel and the lifecycle logic write to.
type Notifier interface {
	Add(kind types.NotificationKind, message string, opts ...Option) string
}

type Option func(n *types.Notification)

// WithDuration overrides the expiry. Zero keeps the notification until it
// is removed explicitly.
func WithDuration(d time.Duration) Option {
	return func(n *types.Notification) {
		if d < 0 {
			d = 0
		}
		n.Duration = d
	}
}

func WithTitle(title string) Option {
	return func(n *types.Notification) {
		n.Title = title
	}
}

// Persistent is shorthand for WithDuration(0).
func Persistent() Option {
	return WithDuration(0)
}

type Queue struct {
	mu              sync.Mutex
	items           []types.Notification
	expiry          map[string]scheduler.Handle
	sched           scheduler.Scheduler
	defaultDuration time.Duration
	now             func() time.Time
	watchers        map[int]func([]types.Notification)
	watcherSeq      int
}

func NewQueue(sched scheduler.Scheduler, defaultDuration time.Duration) *Queue {
	if defaultDuration <= 0 {
		defaultDuration = DefaultDuration
	}
	return &Queue{
		expiry:          make(map[string]scheduler.Handle),
		sched:           sched,
		defaultDuration: defaultDuration,
		now:             time.Now,
		watchers:        make(map[int]func([]types.Notification)),
	}
}

func (q *Queue) Add(kind types.NotificationKind, message string, opts ...Option) string {
	n := types.Notification{
		ID:       uuid.NewString(),
		Kind:     kind,
		Message:  message,
		Duration: q.defaultDuration,
	}
	for _, opt := range opts {
		opt(&n)
	}

	q.mu.Lock()
	n.CreatedAt = q.now()
	q.items = append(q.items, n)
	if n.Duration > 0 {
		id := n.ID
		q.expiry[id] = q.sched.After(n.Duration, func() {
			q.Remove(id)
		})
	}
	snapshot := q.snapshotLocked()
	watchers := q.watchersLocked()
	q.mu.Unlock()

	notifyWatchers(watchers, snapshot)
	return n.ID
}

// Remove drops a notification, the order of the others is kept.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	_, idx, ok := lo.FindIndexOf(q.items, func(item types.Notification) bool { return item.ID == id })
	if !ok {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items[:idx:idx], q.items[idx+1:]...)
	if h, ok := q.expiry[id]; ok {
		h.Cancel()
		delete(q.expiry, id)
	}
	snapshot := q.snapshotLocked()
	watchers := q.watchersLocked()
	q.mu.Unlock()

	notifyWatchers(watchers, snapshot)
	return true
}

func (q *Queue) List() []types.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) Clear() {
	q.mu.Lock()
	for id, h := range q.expiry {
		h.Cancel()
		delete(q.expiry, id)
	}
	q.items = nil
	watchers := q.watchersLocked()
	q.mu.Unlock()

	notifyWatchers(watchers, nil)
}

// Watch registers fn to receive the full list after every change.
func (q *Queue) Watch(fn func([]types.Notification)) (unwatch func()) {
	q.mu.Lock()
	q.watcherSeq++
	id := q.watcherSeq
	q.watchers[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.watchers, id)
		q.mu.Unlock()
	}
}

func (q *Queue) snapshotLocked() []types.Notification {
	out := make([]types.Notification, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) watchersLocked() []func([]types.Notification) {
	return lo.Values(q.watchers)
}

func notifyWatchers(watchers []func([]types.Notification), list []types.Notification) {
	for _, w := range watchers {
		w(list)
	}
}
