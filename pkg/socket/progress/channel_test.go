package progress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/scheduler"
	"github.com/deckforge/deckforge/pkg/types"
)

func TestStreamURL(t *testing.T) {
	cases := []struct {
		name   string
		origin string
		taskID string
		want   string
	}{
		{"plain http", "http://localhost:8000", "abc", "ws://localhost:8000/wsapi/abc"},
		{"https selects wss", "https://slides.example.com", "abc", "wss://slides.example.com/wsapi/abc"},
		{"slash is escaped", "http://localhost:8000", "2025-01-02/abc", "ws://localhost:8000/wsapi/2025-01-02%2Fabc"},
		{"space and pipe", "http://localhost:8000", "a b|c", "ws://localhost:8000/wsapi/a%20b%7Cc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			origin, err := url.Parse(tc.origin)
			require.NoError(t, err)
			got, err := StreamURL(origin, "", tc.taskID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	origin, _ := url.Parse("http://localhost:8000")
	_, err := StreamURL(origin, "", "")
	assert.Error(t, err)
	_, err = StreamURL(origin, "/wsapi/", "abc")
	assert.Error(t, err)
	_, err = StreamURL(&url.URL{}, "", "abc")
	assert.Error(t, err)
}

func TestConnectRejectsEmptyTaskID(t *testing.T) {
	h := newHarness(t)
	err := h.ch.Connect("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindInvalidArgument))
	assert.Equal(t, StateIdle, h.ch.State())
	assert.Zero(t, h.dialer.calls())
}

func TestCompletesOnFinalFrame(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.dialer.queue(conn, nil)

	require.NoError(t, h.ch.Connect("task-1"))
	h.waitState(StateOpen)

	conn.send(`{"progress":40,"status":"Writing outline"}`)
	ev := h.next(EVENT_PROGRESS)
	assert.Equal(t, 40, ev.Progress.Progress)
	assert.Equal(t, "Writing outline", ev.Progress.Status)
	assert.Equal(t, "task-1", ev.TaskID)

	conn.send(`{"progress":100,"status":"Done"}`)
	h.next(EVENT_COMPLETED)

	assert.Equal(t, StateCompleted, h.ch.State())
	assert.Equal(t, "Done", h.ch.LastStatus())
	assert.True(t, conn.closed())
	assert.Equal(t, []int{websocket.CloseNormalClosure}, conn.sentCloseCodes())

	progress, statuses, errMsg := h.store.snapshot()
	assert.Equal(t, []int{40, 100}, progress)
	assert.Equal(t, []types.TaskStatus{types.TASK_STATUS_PROCESSING, types.TASK_STATUS_COMPLETED}, statuses)
	assert.Empty(t, errMsg)

	assert.Never(t, func() bool { return len(h.observer.terminal()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, []string{OUTCOME_COMPLETED}, h.observer.terminal())
	assert.Empty(t, h.sched.Pending())
	assert.Equal(t, []string{"ws://localhost:8000/wsapi/task-1"}, h.dialer.targets)
}

func TestJobFailureFrame(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.dialer.queue(conn, nil)

	require.NoError(t, h.ch.Connect("task-2"))
	h.waitState(StateOpen)

	conn.send(`{"progress":100,"status":"Slide Generation Error: model unavailable"}`)
	ev := h.next(EVENT_JOB_FAILED)
	assert.Equal(t, "Slide Generation Error: model unavailable", ev.Message)
	assert.True(t, errors.Is(ev.Err, errors.KindJobFailed))

	_, statuses, errMsg := h.store.snapshot()
	assert.Equal(t, types.TASK_STATUS_FAILED, statuses[len(statuses)-1])
	assert.Equal(t, "Slide Generation Error: model unavailable", errMsg)
	assert.Equal(t, StateFailed, h.ch.State())
	assert.Equal(t, []string{OUTCOME_JOB_FAILED}, h.observer.terminal())
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.dialer.queue(conn, nil)

	require.NoError(t, h.ch.Connect("task-3"))
	h.waitState(StateOpen)

	conn.send(`{"progress":20,"status":"a"}`)
	conn.send(`not json at all`)
	conn.send(`{"status":"no progress"}`)
	conn.send(`{"progress":30,"status":"b"}`)

	assert.Equal(t, 20, h.next(EVENT_PROGRESS).Progress.Progress)
	assert.Equal(t, 30, h.next(EVENT_PROGRESS).Progress.Progress)
	assert.Equal(t, 2, h.observer.malformedCount())
	assert.Equal(t, StateOpen, h.ch.State())
}

func TestAbnormalCloseSchedulesReconnect(t *testing.T) {
	h := newHarness(t)
	first := newFakeConn()
	second := newFakeConn()
	h.dialer.queue(first, nil)
	h.dialer.queue(second, nil)

	require.NoError(t, h.ch.Connect("task-4"))
	h.waitState(StateOpen)

	first.closeWith(websocket.CloseAbnormalClosure)
	ev := h.next(EVENT_RECONNECTING)
	assert.Equal(t, 1, ev.Attempt)
	assert.Equal(t, time.Second, ev.Delay)
	assert.Equal(t, []time.Duration{time.Second}, h.sched.Pending())
	assert.Equal(t, "Connection lost, reconnecting (attempt 1).", h.notifier.list()[0].message)

	h.sched.Advance(time.Second)
	h.waitState(StateOpen)
	assert.Equal(t, 0, h.ch.Attempts())
	assert.Equal(t, 2, h.dialer.calls())

	notes := h.notifier.list()
	require.Len(t, notes, 2)
	assert.Equal(t, types.NOTIFICATION_INFO, notes[1].kind)
	assert.Equal(t, "Connection restored.", notes[1].message)

	second.send(`{"progress":100,"status":"Done"}`)
	h.next(EVENT_COMPLETED)
}

func TestServerRejectionIsRetried(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.dialer.queue(conn, nil)

	require.NoError(t, h.ch.Connect("missing"))
	h.waitState(StateOpen)

	conn.closeWith(websocket.ClosePolicyViolation)
	assert.Equal(t, 1, h.next(EVENT_RECONNECTING).Attempt)
}

func TestExhaustsAfterFiveReconnects(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.ch.Connect("task-5"))
	for attempt := 1; attempt <= DefaultMaxAttempts; attempt++ {
		ev := h.next(EVENT_RECONNECTING)
		require.Equal(t, attempt, ev.Attempt)
		require.Equal(t, time.Duration(attempt)*time.Second, ev.Delay)

		delay, ok := h.sched.FireNext()
		require.True(t, ok)
		require.Equal(t, ev.Delay, delay)
	}

	ev := h.next(EVENT_EXHAUSTED)
	assert.True(t, errors.Is(ev.Err, errors.KindChannelExhausted))
	assert.Equal(t, StateFailed, h.ch.State())
	assert.Equal(t, DefaultMaxAttempts+1, h.dialer.calls())
	assert.Empty(t, h.sched.Pending())

	_, _, errMsg := h.store.snapshot()
	assert.NotEmpty(t, errMsg)
	assert.Equal(t, []string{OUTCOME_EXHAUSTED}, h.observer.terminal())

	h.ch.Disconnect()
	h.sched.Advance(time.Hour)
	assert.Equal(t, DefaultMaxAttempts+1, h.dialer.calls())
	assert.Equal(t, []string{OUTCOME_EXHAUSTED}, h.observer.terminal())
}

func TestRetryAfterExhaustion(t *testing.T) {
	h := newHarness(t)
	h.ch.cfg.MaxAttempts = 1

	require.NoError(t, h.ch.Connect("task-6"))
	h.next(EVENT_RECONNECTING)
	h.sched.FireNext()
	h.next(EVENT_EXHAUSTED)

	conn := newFakeConn()
	h.dialer.queue(conn, nil)
	require.NoError(t, h.ch.Retry())
	h.waitState(StateOpen)
	assert.Equal(t, 0, h.ch.Attempts())
}

func TestRetryWithoutTask(t *testing.T) {
	h := newHarness(t)
	err := h.ch.Retry()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindInvalidArgument))
}

func TestNormalCloseBeforeCompletion(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.dialer.queue(conn, nil)

	require.NoError(t, h.ch.Connect("task-7"))
	h.waitState(StateOpen)

	conn.send(`{"progress":60,"status":"Rendering"}`)
	conn.closeWith(websocket.CloseNormalClosure)

	ev := h.next(EVENT_CLOSED)
	assert.Equal(t, StateIdle, ev.State)
	assert.Equal(t, "Rendering", ev.Message)
	assert.Empty(t, h.sched.Pending())
	assert.Empty(t, h.observer.terminal())
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.dialer.queue(conn, nil)

	require.NoError(t, h.ch.Connect("task-8"))
	h.waitState(StateOpen)
	conn.closeWith(websocket.CloseAbnormalClosure)
	h.next(EVENT_RECONNECTING)

	h.ch.Disconnect()
	h.ch.Disconnect()

	assert.Equal(t, StateIdle, h.ch.State())
	assert.Empty(t, h.sched.Pending())
	assert.Zero(t, h.sched.Advance(time.Hour))
	assert.Equal(t, 1, h.dialer.calls())
}

func TestDisconnectClosesOpenSocket(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.dialer.queue(conn, nil)

	require.NoError(t, h.ch.Connect("task-9"))
	h.waitState(StateOpen)

	h.ch.Disconnect()
	assert.True(t, conn.closed())
	assert.Equal(t, []int{websocket.CloseNormalClosure}, conn.sentCloseCodes())

	conn.send(`{"progress":100,"status":"late"}`)
	assert.Never(t, func() bool { return len(h.observer.terminal()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, StateIdle, h.ch.State())
}

func TestOpenTimeoutCountsAsAbnormal(t *testing.T) {
	h := newHarness(t)
	dialing := make(chan struct{}, 1)
	h.dialer.fallback = func(ctx context.Context) (Conn, error) {
		dialing <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	require.NoError(t, h.ch.Connect("task-10"))
	<-dialing

	h.sched.Advance(DefaultOpenTimeout)
	ev := h.next(EVENT_RECONNECTING)
	assert.Equal(t, 1, ev.Attempt)
	assert.ErrorIs(t, ev.Err, errOpenTimeout)
	assert.Equal(t, StateReconnecting, h.ch.State())
}

func TestConnectReplacesLiveConnection(t *testing.T) {
	h := newHarness(t)
	first := newFakeConn()
	second := newFakeConn()
	h.dialer.queue(first, nil)
	h.dialer.queue(second, nil)

	require.NoError(t, h.ch.Connect("task-a"))
	h.waitState(StateOpen)
	require.NoError(t, h.ch.Connect("task-b"))
	h.waitState(StateOpen)

	assert.True(t, first.closed())
	assert.False(t, second.closed())
	assert.Equal(t, "task-b", h.ch.TaskID())

	second.send(`{"progress":10,"status":"b"}`)
	ev := h.next(EVENT_PROGRESS)
	assert.Equal(t, "task-b", ev.TaskID)
}

func TestSubscriptionCancel(t *testing.T) {
	h := newHarness(t)
	sub := h.ch.Subscribe()
	sub.Cancel()
	sub.Cancel()

	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestRealWebsocketRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.EscapedPath()
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]any{"progress": 50, "status": "Halfway"})
		conn.WriteJSON(map[string]any{"progress": 100, "status": "Done"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	origin, err := url.Parse(srv.URL)
	require.NoError(t, err)
	store := &fakeStore{}
	ch := NewChannel(Options{
		Config:    Config{Origin: origin},
		Scheduler: scheduler.New(),
		Store:     store,
	})
	sub := ch.Subscribe()
	defer ch.Close()

	require.NoError(t, ch.Connect("2025-01-02/abc"))

	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-sub.C:
			done = ev.Kind == EVENT_COMPLETED
		case <-timeout:
			t.Fatal("no completion from server")
		}
	}

	mu.Lock()
	assert.Equal(t, "/wsapi/2025-01-02%2Fabc", gotPath)
	mu.Unlock()
	progress, _, _ := store.snapshot()
	assert.Equal(t, []int{50, 100}, progress)
}

func TestCloseFrameIsWrittenOutsideLock(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	conn.block = make(chan struct{})
	h.dialer.queue(conn, nil)

	require.NoError(t, h.ch.Connect("task-slow-close"))
	h.waitState(StateOpen)

	done := make(chan struct{})
	go func() {
		h.ch.Disconnect()
		close(done)
	}()

	require.Eventually(t, func() bool { return h.ch.State() == StateIdle }, time.Second, 5*time.Millisecond)
	select {
	case <-done:
		t.Fatal("disconnect returned before the close frame was written")
	default:
	}

	close(conn.block)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disconnect did not return")
	}
	assert.Equal(t, []int{websocket.CloseNormalClosure}, conn.sentCloseCodes())
	assert.True(t, conn.closed())
}
