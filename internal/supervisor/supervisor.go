// Package supervisor implements the task supervisor (C14, spec §5): each
// task owns a FIFO mailbox ("slot") and a single goroutine that drains it
// to completion message by message — the cooperative, never-block-inside-a-
// handler scheduling model spec §5 describes for the reactor's work
// units. Timers are delivered as ordinary messages via Suspend, so a
// timer tick and an inbound frame are handled by the exact same
// run-to-completion loop and can never race each other within one task.
package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/segw-project/segw/pkg/log"
)

// Handler processes one message delivered to a task's slot. It must not
// block on socket, serial, or cache-write-lock I/O (spec §5: "blocking
// I/O is forbidden inside slot handlers") — only other tasks' slots,
// timers, and non-blocking cache reads are safe to touch from here.
type Handler func(msg any)

// Task is one FIFO-dispatched unit of work (spec §5: "work units are
// tasks with typed slots").
type Task struct {
	name    string
	handler Handler
	slot    chan any
	stop    chan struct{}
	done    chan struct{}

	mu     sync.Mutex
	timers []*time.Timer
}

// NewTask builds a task with the given mailbox depth. It is not yet
// running; call Start.
func NewTask(name string, queueDepth int, handler Handler) *Task {
	return &Task{
		name:    name,
		handler: handler,
		slot:    make(chan any, queueDepth),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the task's dispatch loop in its own goroutine: pull one
// message, run the handler to completion, repeat (spec §5: "a task runs
// to completion per message").
func (t *Task) Start() {
	go func() {
		defer close(t.done)
		for {
			select {
			case msg := <-t.slot:
				t.handler(msg)
			case <-t.stop:
				return
			}
		}
	}()
}

// Post enqueues a message on the task's slot. Posting onto another
// task's slot from inside a handler is itself a suspension point (spec
// §5, suspension point (e)) — if the target's mailbox is full the caller
// blocks until there's room or the target stops, rather than dropping
// work silently.
func (t *Task) Post(msg any) bool {
	select {
	case t.slot <- msg:
		return true
	case <-t.stop:
		return false
	}
}

// Suspend schedules tick to be posted to this task's own slot after d
// (spec §5: "timers are scheduled via suspend(duration) and deliver a
// run() tick to the same task"). The timer is tracked so Stop can cancel
// it instead of leaking a goroutine past shutdown.
func (t *Task) Suspend(d time.Duration, tick any) {
	timer := time.AfterFunc(d, func() { t.Post(tick) })
	t.mu.Lock()
	t.timers = append(t.timers, timer)
	t.mu.Unlock()
}

// Stop cancels outstanding timers and ends the dispatch loop once the
// in-flight handler (if any) returns (spec §5 cancellation: "cancels
// outstanding timers... then stops tasks"). It blocks until the goroutine
// has actually exited.
func (t *Task) Stop() {
	t.mu.Lock()
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.mu.Unlock()
	close(t.stop)
	<-t.done
}

// Name identifies the task for logging and lookup.
func (t *Task) Name() string { return t.name }

// Supervisor owns a named set of tasks and propagates shutdown to all of
// them (spec §3: "the task supervisor owns tasks; tasks borrow handles to
// the cache").
type Supervisor struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// New returns an empty Supervisor.
func New() *Supervisor {
	return &Supervisor{tasks: make(map[string]*Task)}
}

// Spawn creates, registers, and starts a new task under name. A duplicate
// name is a programming error, not a runtime condition to recover from.
func (s *Supervisor) Spawn(name string, queueDepth int, handler Handler) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		panic(fmt.Sprintf("supervisor: task %q already registered", name))
	}
	t := NewTask(name, queueDepth, handler)
	s.tasks[name] = t
	t.Start()
	return t
}

// Task looks up a previously spawned task by name.
func (s *Supervisor) Task(name string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	return t, ok
}

// Shutdown stops every registered task (spec §5: shutdown "cancels
// outstanding timers, closes sockets..., then stops tasks"; closing
// sockets is the caller's responsibility before calling Shutdown, since
// that ownership lives with the session/receiver, not the supervisor).
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			t.Stop()
			log.Debugf("supervisor: task %s stopped", t.Name())
		}(t)
	}
	wg.Wait()
}
