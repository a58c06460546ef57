package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealSchedulerRuns(t *testing.T) {
	var fired atomic.Int32
	done := make(chan struct{})
	New().After(10*time.Millisecond, func() {
		fired.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	assert.Equal(t, int32(1), fired.Load())
}

func TestRealSchedulerCancel(t *testing.T) {
	var fired atomic.Int32
	h := New().After(20*time.Millisecond, func() { fired.Add(1) })

	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestManualAdvanceRunsDueTasksInOrder(t *testing.T) {
	m := NewManual()
	var order []string
	m.After(2*time.Second, func() { order = append(order, "b") })
	m.After(time.Second, func() { order = append(order, "a") })
	m.After(5*time.Second, func() { order = append(order, "c") })

	assert.Equal(t, 0, m.Advance(500*time.Millisecond))
	assert.Equal(t, 2, m.Advance(2*time.Second))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, []time.Duration{5 * time.Second}, m.Pending())
}

func TestManualCancel(t *testing.T) {
	m := NewManual()
	ran := false
	h := m.After(time.Second, func() { ran = true })

	assert.True(t, h.Cancel())
	assert.Equal(t, 0, m.Advance(time.Minute))
	assert.False(t, ran)
	assert.Empty(t, m.Pending())
}

func TestManualTaskCanScheduleAnother(t *testing.T) {
	m := NewManual()
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			m.After(time.Second, tick)
		}
	}
	m.After(time.Second, tick)

	m.Advance(10 * time.Second)
	assert.Equal(t, 3, count)
}

func TestManualFireNext(t *testing.T) {
	m := NewManual()
	m.After(3*time.Second, func() {})

	d, ok := m.FireNext()
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, ok = m.FireNext()
	assert.False(t, ok)
}

func TestCancelNilHandle(t *testing.T) {
	assert.NotPanics(t, func() { Cancel(nil) })
}
