package supervisor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskDispatchesMessagesInOrder(t *testing.T) {
	var got []int
	done := make(chan struct{})
	task := NewTask("t", 8, func(msg any) {
		got = append(got, msg.(int))
		if len(got) == 3 {
			close(done)
		}
	})
	task.Start()
	defer task.Stop()

	task.Post(1)
	task.Post(2)
	task.Post(3)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("messages not dispatched")
	}
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestSuspendDeliversTickToSameTask(t *testing.T) {
	ticked := make(chan struct{})
	task := NewTask("timer", 1, func(msg any) {
		if msg == "tick" {
			close(ticked)
		}
	})
	task.Start()
	defer task.Stop()

	task.Suspend(10*time.Millisecond, "tick")

	select {
	case <-ticked:
	case <-time.After(time.Second):
		t.Fatal("tick not delivered")
	}
}

func TestStopCancelsPendingTimer(t *testing.T) {
	var fired int32
	task := NewTask("cancel", 1, func(msg any) {
		atomic.AddInt32(&fired, 1)
	})
	task.Start()
	task.Suspend(50*time.Millisecond, "tick")
	task.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestSupervisorSpawnAndShutdown(t *testing.T) {
	s := New()
	var n int32
	s.Spawn("worker", 4, func(msg any) {
		atomic.AddInt32(&n, 1)
	})

	task, ok := s.Task("worker")
	require.True(t, ok)
	task.Post(struct{}{})
	task.Post(struct{}{})

	time.Sleep(20 * time.Millisecond)
	s.Shutdown()
	assert.Equal(t, int32(2), atomic.LoadInt32(&n))

	_, ok = s.Task("missing")
	assert.False(t, ok)
}

func TestSpawnDuplicateNamePanics(t *testing.T) {
	s := New()
	s.Spawn("dup", 1, func(any) {})
	assert.Panics(t, func() {
		s.Spawn("dup", 1, func(any) {})
	})
}
