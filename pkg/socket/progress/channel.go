// Package progress follows the live progress stream of one generation task
// and drives the task state from it.
package progress

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/notify"
	"github.com/deckforge/deckforge/pkg/safe"
	"github.com/deckforge/deckforge/pkg/scheduler"
	"github.com/deckforge/deckforge/pkg/types"
)

// TaskState is the part of the task store the channel writes to. It is
// called with the channel lock held, so a status change that persists the
// task delays State and Disconnect by at most the persist timeout.
type TaskState interface {
	SetGenerationProgress(percent int, status string)
	SetTaskStatus(status types.TaskStatus) error
	SetError(message string)
}

// Observer receives counters about the channel's life.
type Observer interface {
	Reconnecting(taskID string, attempt int)
	MalformedFrame(taskID string)
	Terminal(taskID string, outcome string)
}

const (
	OUTCOME_COMPLETED  = "completed"
	OUTCOME_JOB_FAILED = "job_failed"
	OUTCOME_EXHAUSTED  = "exhausted"
)

type Options struct {
	Config    Config
	Dialer    Dialer
	Scheduler scheduler.Scheduler
	Store     TaskState
	Notifier  notify.Notifier
	Observer  Observer
	Localizer i18n.Localizer
	Lang      string
}

type Channel struct {
	cfg      Config
	dialer   Dialer
	sched    scheduler.Scheduler
	store    TaskState
	notifier notify.Notifier
	observer Observer
	i18n     i18n.Localizer
	lang     string

	mu          sync.Mutex
	state       State
	taskID      string
	gen         uint64
	conn        Conn
	attempts    int
	reconnected bool
	lastStatus  string
	reported    bool
	openTimer   scheduler.Handle
	retryTimer  scheduler.Handle
	dialCancel  context.CancelFunc
	// closing holds sockets whose close frame is written after c.mu is released.
	closing []Conn

	subs   map[int]*Subscription
	subSeq int

	malformedLog rate.Sometimes
}

func NewChannel(opts Options) *Channel {
	c := &Channel{
		cfg:          opts.Config.withDefaults(),
		dialer:       opts.Dialer,
		sched:        opts.Scheduler,
		store:        opts.Store,
		notifier:     opts.Notifier,
		observer:     opts.Observer,
		i18n:         opts.Localizer,
		lang:         opts.Lang,
		subs:         make(map[int]*Subscription),
		malformedLog: rate.Sometimes{First: 3, Interval: malformedLogInterval},
	}
	if c.dialer == nil {
		c.dialer = NewWebsocketDialer()
	}
	if c.sched == nil {
		c.sched = scheduler.New()
	}
	if c.store == nil {
		c.store = nopState{}
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.lang == "" {
		c.lang = i18n.DEFAULT_LANG
	}
	return c
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) TaskID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskID
}

// Attempts is the number of consecutive reconnect attempts made so far.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Channel) LastStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}

// Connect opens the stream for taskID. A live connection, for this or any
// other task, is torn down first.
func (c *Channel) Connect(taskID string) error {
	target, err := StreamURL(c.cfg.Origin, c.cfg.PathTemplate, taskID)
	if err != nil {
		return errors.New("progress.Connect", i18n.ERROR_INVALIDARGUMENT, err).Code(http.StatusBadRequest).Kind(errors.KindInvalidArgument)
	}
	c.dispatch(event{typ: evConnect, taskID: taskID, target: target})
	return nil
}

// Retry reconnects to the last task with a fresh attempt budget.
func (c *Channel) Retry() error {
	taskID := c.TaskID()
	if taskID == "" {
		return errors.New("progress.Retry", i18n.ERROR_NO_CURRENT_TASK, nil).Code(http.StatusBadRequest).Kind(errors.KindInvalidArgument)
	}
	return c.Connect(taskID)
}

// Disconnect stops the channel. It is safe to call in any state and any
// number of times. Nothing scheduled before the call runs after it.
func (c *Channel) Disconnect() {
	c.dispatch(event{typ: evDisconnect})
}

// Close disconnects and ends every subscription.
func (c *Channel) Close() {
	c.Disconnect()

	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}

func (c *Channel) dispatch(ev event) {
	c.mu.Lock()
	c.dispatchLocked(ev)
	closing := c.closing
	c.closing = nil
	c.mu.Unlock()

	for _, conn := range closing {
		writeNormalClose(conn)
	}
}

func (c *Channel) dispatchLocked(ev event) {
	if !ev.typ.command() && ev.gen != c.gen {
		if ev.conn != nil {
			ev.conn.Close()
		}
		slog.Debug("drop stale channel event",
			slog.String("component", "progress"),
			slog.String("task_id", c.taskID),
			slog.String("event", ev.typ.String()))
		return
	}

	switch ev.typ {
	case evConnect:
		c.onConnect(ev)
	case evOpened:
		c.onOpened(ev)
	case evFrame:
		c.onFrame(ev)
	case evClosed:
		c.onClosed(ev)
	case evOpenTimeout:
		c.onOpenTimeout()
	case evReconnect:
		c.onReconnect()
	case evDisconnect:
		c.onDisconnect()
	}
}

func (c *Channel) onConnect(ev event) {
	c.teardownLocked()
	c.taskID = ev.taskID
	c.attempts = 0
	c.reconnected = false
	c.reported = false
	c.lastStatus = ""
	c.startAttemptLocked(ev.target)
}

func (c *Channel) startAttemptLocked(target string) {
	if target == "" {
		target, _ = StreamURL(c.cfg.Origin, c.cfg.PathTemplate, c.taskID)
	}

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	c.setStateLocked(StateConnecting)

	c.openTimer = c.sched.After(c.cfg.OpenTimeout, func() {
		c.dispatch(event{typ: evOpenTimeout, gen: gen})
	})

	slog.Debug("dial progress stream",
		slog.String("component", "progress"),
		slog.String("task_id", c.taskID),
		slog.String("target", target),
		slog.Int("attempt", c.attempts))

	safe.Go("progress.dial", func() {
		conn, err := c.dialer.Dial(ctx, target)
		if err != nil {
			c.dispatch(event{typ: evClosed, gen: gen, err: err})
			return
		}
		c.dispatch(event{typ: evOpened, gen: gen, conn: conn})
	})
}

func (c *Channel) onOpened(ev event) {
	if c.state != StateConnecting {
		ev.conn.Close()
		return
	}
	c.stopTimersLocked()
	c.conn = ev.conn
	c.attempts = 0
	c.setStateLocked(StateOpen)

	if err := c.store.SetTaskStatus(types.TASK_STATUS_PROCESSING); err != nil {
		slog.Debug("task status not moved to processing",
			slog.String("component", "progress"),
			slog.String("task_id", c.taskID),
			slog.String("error", err.Error()))
	}
	if c.reconnected {
		c.reconnected = false
		c.notifier.Add(types.NOTIFICATION_INFO, c.i18n.Get(c.lang, i18n.MESSAGE_CONNECTION_RESTORED))
	}

	gen := ev.gen
	conn := ev.conn
	safe.Go("progress.reader", func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.dispatch(event{typ: evClosed, gen: gen, err: err})
				return
			}
			c.dispatch(event{typ: evFrame, gen: gen, data: data})
		}
	})
}

func (c *Channel) onFrame(ev event) {
	if c.state != StateOpen {
		return
	}

	pe, err := types.DecodeProgressEvent(ev.data)
	if err != nil {
		c.observer.MalformedFrame(c.taskID)
		c.malformedLog.Do(func() {
			slog.Warn("malformed progress frame",
				slog.String("component", "progress"),
				slog.String("task_id", c.taskID),
				slog.String("frame", string(ev.data)),
				slog.String("error", err.Error()))
		})
		return
	}

	c.lastStatus = pe.Status
	c.store.SetGenerationProgress(pe.Progress, pe.Status)
	c.emitLocked(Event{Kind: EVENT_PROGRESS, Progress: pe})

	if !pe.IsTerminal() {
		return
	}

	c.closeConnLocked()
	if pe.IsFailure() {
		c.finishLocked(types.TASK_STATUS_FAILED, pe)
		return
	}
	c.finishLocked(types.TASK_STATUS_COMPLETED, pe)
}

func (c *Channel) finishLocked(status types.TaskStatus, pe types.ProgressEvent) {
	if err := c.store.SetTaskStatus(status); err != nil {
		slog.Warn("failed to record terminal task status",
			slog.String("component", "progress"),
			slog.String("task_id", c.taskID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
	}

	if status == types.TASK_STATUS_FAILED {
		c.store.SetError(pe.Status)
		c.setStateLocked(StateFailed)
		c.notifier.Add(types.NOTIFICATION_ERROR, c.i18n.Get(c.lang, i18n.MESSAGE_JOB_FAILED), notify.Persistent())
		c.observer.Terminal(c.taskID, OUTCOME_JOB_FAILED)
		c.emitLocked(Event{
			Kind:     EVENT_JOB_FAILED,
			Progress: pe,
			Message:  pe.Status,
			Err: errors.New("progress.JobFailed", i18n.ERROR_JOB_FAILED, nil).
				Kind(errors.KindJobFailed).
				WithData(map[string]interface{}{"message": pe.Status}),
		})
		return
	}

	c.setStateLocked(StateCompleted)
	c.notifier.Add(types.NOTIFICATION_SUCCESS, c.i18n.Get(c.lang, i18n.MESSAGE_JOB_COMPLETED))
	c.observer.Terminal(c.taskID, OUTCOME_COMPLETED)
	c.emitLocked(Event{Kind: EVENT_COMPLETED, Progress: pe})
}

func (c *Channel) onClosed(ev event) {
	if c.state != StateConnecting && c.state != StateOpen {
		return
	}
	c.stopTimersLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	code := closeCode(ev.err)
	if isNormalClose(code) {
		c.gen++
		c.setStateLocked(StateIdle)
		c.emitLocked(Event{Kind: EVENT_CLOSED, Message: c.lastStatus})
		return
	}

	slog.Warn("progress stream closed abnormally",
		slog.String("component", "progress"),
		slog.String("task_id", c.taskID),
		slog.Int("code", code),
		slog.String("error", errString(ev.err)))
	c.scheduleReconnectLocked(ev.err)
}

func (c *Channel) onOpenTimeout() {
	if c.state != StateConnecting {
		return
	}
	c.stopTimersLocked()
	slog.Warn("progress stream open timed out",
		slog.String("component", "progress"),
		slog.String("task_id", c.taskID),
		slog.Duration("timeout", c.cfg.OpenTimeout))
	c.scheduleReconnectLocked(errOpenTimeout)
}

func (c *Channel) scheduleReconnectLocked(cause error) {
	// a new generation invalidates whatever the failed attempt still has in flight
	c.gen++

	if c.attempts >= c.cfg.MaxAttempts {
		c.failLocked(cause)
		return
	}

	c.attempts++
	c.reconnected = true
	attempt := c.attempts
	delay := c.cfg.BaseDelay * time.Duration(attempt)
	gen := c.gen
	c.retryTimer = c.sched.After(delay, func() {
		c.dispatch(event{typ: evReconnect, gen: gen})
	})

	c.setStateLocked(StateReconnecting)
	c.observer.Reconnecting(c.taskID, attempt)
	c.notifier.Add(types.NOTIFICATION_WARNING, c.i18n.GetWithData(c.lang, i18n.MESSAGE_CONNECTION_LOST, map[string]interface{}{
		"attempt": attempt,
	}))
	c.emitLocked(Event{Kind: EVENT_RECONNECTING, Attempt: attempt, Delay: delay, Err: cause})
}

func (c *Channel) onReconnect() {
	if c.state != StateReconnecting {
		return
	}
	c.retryTimer = nil
	c.startAttemptLocked("")
}

func (c *Channel) failLocked(cause error) {
	c.setStateLocked(StateFailed)
	if c.reported {
		return
	}
	c.reported = true

	err := errors.New("progress.Exhausted", i18n.ERROR_CHANNEL_EXHAUSTED, cause).
		Code(http.StatusServiceUnavailable).
		Kind(errors.KindChannelExhausted)
	message := err.Localize(c.i18n, c.lang)
	c.store.SetError(message)
	c.notifier.Add(types.NOTIFICATION_ERROR, message, notify.Persistent())
	c.observer.Terminal(c.taskID, OUTCOME_EXHAUSTED)
	c.emitLocked(Event{Kind: EVENT_EXHAUSTED, Message: message, Err: err})

	slog.Error("progress stream gave up reconnecting",
		slog.String("component", "progress"),
		slog.String("task_id", c.taskID),
		slog.Int("attempts", c.attempts),
		slog.String("error", errString(cause)))
}

func (c *Channel) onDisconnect() {
	c.attempts = c.cfg.MaxAttempts
	c.teardownLocked()
}

// teardownLocked cancels every pending timer and dial and closes the socket.
func (c *Channel) teardownLocked() {
	c.stopTimersLocked()
	c.gen++
	if c.conn != nil {
		c.setStateLocked(StateClosing)
		c.closeConnLocked()
	}
	c.setStateLocked(StateIdle)
}

func (c *Channel) closeConnLocked() {
	c.stopTimersLocked()
	c.gen++
	if c.conn == nil {
		return
	}
	c.closing = append(c.closing, c.conn)
	c.conn = nil
}

func (c *Channel) stopTimersLocked() {
	scheduler.Cancel(c.openTimer)
	scheduler.Cancel(c.retryTimer)
	c.openTimer = nil
	c.retryTimer = nil
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
}

func (c *Channel) setStateLocked(s State) {
	if c.state == s {
		return
	}
	prev := c.state
	c.state = s
	slog.Debug("progress channel state",
		slog.String("component", "progress"),
		slog.String("task_id", c.taskID),
		slog.String("from", prev.String()),
		slog.String("to", s.String()))
	c.emitLocked(Event{Kind: EVENT_STATE})
}

func (c *Channel) emitLocked(ev Event) {
	ev.TaskID = c.taskID
	ev.State = c.state
	for _, s := range c.subs {
		s.push(ev)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type nopState struct{}

func (nopState) SetGenerationProgress(int, string)    {}
func (nopState) SetTaskStatus(types.TaskStatus) error { return nil }
func (nopState) SetError(string)                      {}

type nopNotifier struct{}

func (nopNotifier) Add(types.NotificationKind, string, ...notify.Option) string { return "" }

type nopObserver struct{}

func (nopObserver) Reconnecting(string, int) {}
func (nopObserver) MalformedFrame(string)    {}
func (nopObserver) Terminal(string, string)  {}
