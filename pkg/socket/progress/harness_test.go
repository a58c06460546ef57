package progress

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"net"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/notify"
	"github.com/deckforge/deckforge/pkg/scheduler"
	"github.com/deckforge/deckforge/pkg/types"
)

type readResult struct {
	data []byte
	err  error
}

type fakeConn struct {
	in   chan readResult
	done chan struct{}
	once sync.Once

	// block, when set, holds WriteControl until it is closed.
	block chan struct{}

	mu         sync.Mutex
	closeCodes []int
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan readResult, 16), done: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case r := <-f.in:
		if r.err != nil {
			return 0, nil, r.err
		}
		return websocket.TextMessage, r.data, nil
	case <-f.done:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	if f.block != nil {
		<-f.block
	}
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		f.mu.Lock()
		f.closeCodes = append(f.closeCodes, int(binary.BigEndian.Uint16(data[:2])))
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) send(frame string) {
	f.in <- readResult{data: []byte(frame)}
}

func (f *fakeConn) closeWith(code int) {
	f.in <- readResult{err: &websocket.CloseError{Code: code}}
}

func (f *fakeConn) closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *fakeConn) sentCloseCodes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.closeCodes...)
}

type dialResult struct {
	conn Conn
	err  error
}

type fakeDialer struct {
	mu       sync.Mutex
	targets  []string
	next     []dialResult
	fallback func(ctx context.Context) (Conn, error)
}

func (d *fakeDialer) queue(conn Conn, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next = append(d.next, dialResult{conn: conn, err: err})
}

func (d *fakeDialer) Dial(ctx context.Context, target string) (Conn, error) {
	d.mu.Lock()
	d.targets = append(d.targets, target)
	if len(d.next) > 0 {
		r := d.next[0]
		d.next = d.next[1:]
		d.mu.Unlock()
		return r.conn, r.err
	}
	fallback := d.fallback
	d.mu.Unlock()

	if fallback != nil {
		return fallback(ctx)
	}
	return nil, stderrors.New("connection refused")
}

func (d *fakeDialer) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

type fakeStore struct {
	mu       sync.Mutex
	progress []int
	statuses []types.TaskStatus
	errMsg   string
}

func (s *fakeStore) SetGenerationProgress(percent int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, percent)
}

func (s *fakeStore) SetTaskStatus(status types.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) SetError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = message
}

func (s *fakeStore) snapshot() ([]int, []types.TaskStatus, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.progress...), append([]types.TaskStatus(nil), s.statuses...), s.errMsg
}

type note struct {
	kind    types.NotificationKind
	message string
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (n *fakeNotifier) Add(kind types.NotificationKind, message string, _ ...notify.Option) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note{kind: kind, message: message})
	return ""
}

func (n *fakeNotifier) list() []note {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]note(nil), n.notes...)
}

type fakeObserver struct {
	mu        sync.Mutex
	reconnect int
	malformed int
	outcomes  []string
}

func (o *fakeObserver) Reconnecting(string, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconnect++
}

func (o *fakeObserver) MalformedFrame(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.malformed++
}

func (o *fakeObserver) Terminal(_ string, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *fakeObserver) terminal() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...)
}

func (o *fakeObserver) malformedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.malformed
}

type harness struct {
	t        *testing.T
	ch       *Channel
	sched    *scheduler.Manual
	dialer   *fakeDialer
	store    *fakeStore
	notifier *fakeNotifier
	observer *fakeObserver
	sub      *Subscription
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	origin, err := url.Parse("http://localhost:8000")
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		t:        t,
		sched:    scheduler.NewManual(),
		dialer:   &fakeDialer{},
		store:    &fakeStore{},
		notifier: &fakeNotifier{},
		observer: &fakeObserver{},
	}
	h.ch = NewChannel(Options{
		Config:    Config{Origin: origin},
		Dialer:    h.dialer,
		Scheduler: h.sched,
		Store:     h.store,
		Notifier:  h.notifier,
		Observer:  h.observer,
		Localizer: i18n.NewDefaultLocalizer(),
		Lang:      "en",
	})
	h.sub = h.ch.Subscribe()
	t.Cleanup(h.ch.Close)
	return h
}

// next returns the first event of the given kind, skipping the others.
func (h *harness) next(kind EventKind) Event {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-h.sub.C:
			if !ok {
				h.t.Fatalf("subscription closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func (h *harness) waitState(s State) {
	h.t.Helper()
	for {
		if ev := h.next(EVENT_STATE); ev.State == s {
			return
		}
	}
}
