// Package queue implements the multi-producer, multi-consumer FIFO used to
// connect the dispatcher to each worker. It is deliberately unbounded:
// spec Non-goals explicitly exclude back-pressure negotiation, so Push never
// blocks.
//
// Chan is the thread-binding's implementation of ObjectQueue. The
// process binding (spec §5, internal/procbinding) implements the same
// interface over a pipe to a child process instead, so the dispatcher and
// lifecycle controller never need to know which binding backs a given
// worker's queues.
package queue

import (
	"container/list"
	"context"
	"sync"

	"github.com/kestrelio/recursid/internal/object"
)

// ObjectQueue is a FIFO of objects. Each queue is owned by exactly two
// roles — the worker on one side, the dispatcher on the other — so there is
// never multi-reader or multi-writer contention within a single queue.
type ObjectQueue interface {
	// Push enqueues o. Never blocks.
	Push(o object.Object)
	// TryPop dequeues at most one object without blocking.
	TryPop() (object.Object, bool)
	// Pop blocks until an object is available or ctx is done.
	Pop(ctx context.Context) (object.Object, bool)
	// Len reports the current queue length.
	Len() int
}

// Chan is the in-process (thread-binding) implementation of ObjectQueue:
// a growable, mutex-guarded linked list with condition-variable wakeups.
// A plain Go channel cannot serve here because spec §5 requires an
// unbounded queue — a buffered channel would impose an arbitrary cap and a
// bounded Push would violate "Push never blocks".
type Chan struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   *list.List
	closeCh chan struct{}
	once    sync.Once
}

// NewChan creates an empty in-process object queue.
func NewChan() *Chan {
	q := &Chan{items: list.New(), closeCh: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues o and wakes one blocked Pop, if any.
func (q *Chan) Push(o object.Object) {
	q.mu.Lock()
	q.items.PushBack(o)
	q.mu.Unlock()
	q.cond.Signal()
}

// TryPop dequeues the oldest object without blocking.
func (q *Chan) TryPop() (object.Object, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popFrontLocked()
}

// Pop blocks until an object is available or ctx is cancelled.
func (q *Chan) Pop(ctx context.Context) (object.Object, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 {
		if ctx.Err() != nil {
			return nil, false
		}
		q.cond.Wait()
	}
	o, ok := q.popFrontLocked()
	return o, ok
}

func (q *Chan) popFrontLocked() (object.Object, bool) {
	e := q.items.Front()
	if e == nil {
		return nil, false
	}
	q.items.Remove(e)
	return e.Value.(object.Object), true
}

// Len reports the current queue length.
func (q *Chan) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Command is a cooperative control-plane message sent from the dispatcher
// (or lifecycle controller) to a worker.
type Command int

const (
	// CmdDie tells a worker to finish its current object, then exit.
	CmdDie Command = iota
	// CmdLogResources tells a worker to log its queue sizes.
	CmdLogResources
)

func (c Command) String() string {
	switch c {
	case CmdDie:
		return "DIE"
	case CmdLogResources:
		return "LOG_RESOURCES"
	default:
		return "UNKNOWN"
	}
}

// CommandQueue carries control-plane commands to a worker.
type CommandQueue struct {
	mu   sync.Mutex
	cmds []Command
}

// NewCommandQueue creates an empty command queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{}
}

// Push enqueues a command.
func (q *CommandQueue) Push(c Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cmds = append(q.cmds, c)
}

// DrainAll removes and returns every queued command, in order.
func (q *CommandQueue) DrainAll() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.cmds) == 0 {
		return nil
	}
	out := q.cmds
	q.cmds = nil
	return out
}

// Len reports the number of queued commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cmds)
}
