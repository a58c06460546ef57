package v1

import (
	"context"
	"log/slog"
	"sync"

	"github.com/deckforge/deckforge/app/core"
	"github.com/deckforge/deckforge/app/store"
	"github.com/deckforge/deckforge/pkg/safe"
	"github.com/deckforge/deckforge/pkg/socket/progress"
	"github.com/deckforge/deckforge/pkg/types"
)

// RelayLogic mirrors channel events, store snapshots and notifications onto
// the websocket relay of the monitor.
type RelayLogic struct {
	ctx  context.Context
	core *core.Core
}

func NewRelayLogic(ctx context.Context, core *core.Core) *RelayLogic {
	return &RelayLogic{
		ctx:  ctx,
		core: core,
	}
}

func wsEventType(kind progress.EventKind) types.WsEventType {
	switch kind {
	case progress.EVENT_STATE:
		return types.WS_EVENT_TASK_STATE
	case progress.EVENT_PROGRESS:
		return types.WS_EVENT_TASK_PROGRESS
	case progress.EVENT_RECONNECTING:
		return types.WS_EVENT_TASK_RECONNECTING
	case progress.EVENT_COMPLETED:
		return types.WS_EVENT_TASK_COMPLETED
	case progress.EVENT_JOB_FAILED:
		return types.WS_EVENT_TASK_FAILED
	case progress.EVENT_EXHAUSTED:
		return types.WS_EVENT_CHANNEL_EXHAUSTED
	case progress.EVENT_CLOSED:
		return types.WS_EVENT_CHANNEL_CLOSED
	default:
		return types.WS_EVENT_UNKNOWN
	}
}

// ForwardTask starts relaying the channel of taskID. It reports false when
// the relay is disabled or the task is already relayed.
func (l *RelayLogic) ForwardTask(taskID string) bool {
	tower := l.core.Srv().Tower()
	if tower == nil {
		return false
	}

	ch := l.core.Channels().Acquire(taskID)
	sub := ch.Subscribe()
	if !tower.RegisterForwarder(taskID, sub.Cancel) {
		sub.Cancel()
		return false
	}

	safe.Go("relay", func() {
		defer tower.StopForwarder(taskID)
		for ev := range sub.C {
			// publish failures are logged by the tower
			_ = tower.PublishTaskEvent(taskID, wsEventType(ev.Kind), ev)
		}
		slog.Debug("task relay stopped",
			slog.String("component", "relay"),
			slog.String("task_id", taskID))
	})
	return true
}

// WatchState publishes every store snapshot and notification list change.
// The returned func stops both watches.
func (l *RelayLogic) WatchState() func() {
	tower := l.core.Srv().Tower()
	if tower == nil {
		return func() {}
	}

	var (
		mu     sync.Mutex
		lastID string
	)
	unwatchStore := l.core.Store().Watch(func(s store.State) {
		tower.PublishState(s)
		if s.Task == nil {
			return
		}
		mu.Lock()
		fresh := s.Task.ID != lastID
		lastID = s.Task.ID
		mu.Unlock()
		if fresh {
			// watchers may run under the channel lock, subscribe elsewhere
			taskID := s.Task.ID
			safe.Go("relay", func() { l.ForwardTask(taskID) })
		}
	})
	unwatchQueue := l.core.Notifications().Watch(func(list []types.Notification) {
		tower.PublishNotifications(list)
	})
	return func() {
		unwatchStore()
		unwatchQueue()
	}
}
