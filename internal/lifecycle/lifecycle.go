// Package lifecycle implements the startup/shutdown state machine that owns
// every worker goroutine and the dispatcher: RUNNING -> DRAINING -> DEAD,
// per spec §4.4. It is the only place that broadcasts DIE or acquires a
// worker's processing lock from outside the worker itself.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelio/recursid/internal/dispatcher"
	"github.com/kestrelio/recursid/internal/queue"
)

// State is one of the three lifecycle states.
type State int

const (
	StateRunning State = iota
	StateDraining
	StateDead
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// SettleSleep is the idle interval between drain retries and RUNNING-state
// liveness checks. Tunable, not a contract (spec §9).
const SettleSleep = 100 * time.Millisecond

// Worker binds a dispatcher Handle to the goroutine that drives its main
// loop, so the controller can broadcast DIE, observe liveness via a closed
// done channel, and join on shutdown without reaching into module
// internals.
type Worker struct {
	Handle *dispatcher.Handle
	run    func(ctx context.Context)
	done   chan struct{}
}

// NewWorker wraps a worker's dispatcher Handle and its main-loop function —
// module.RunProducer, module.RunTransformer, or module.RunSink partially
// applied over the worker's own Base and implementation.
func NewWorker(h *dispatcher.Handle, run func(ctx context.Context)) *Worker {
	return &Worker{Handle: h, run: run, done: make(chan struct{})}
}

func (w *Worker) start(ctx context.Context) {
	go func() {
		defer close(w.done)
		w.run(ctx)
	}()
}

func (w *Worker) alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *Worker) join() { <-w.done }

func (w *Worker) die() { w.Handle.Cmd.Push(queue.CmdDie) }

// Controller drives the RUNNING -> DRAINING -> DEAD state machine and owns
// every worker's goroutine lifetime.
type Controller struct {
	Dispatcher   *dispatcher.Dispatcher
	Producers    []*Worker
	Transformers []*Worker
	Sinks        []*Worker
	Funnel       *Worker
	Logger       *slog.Logger

	settleSleep time.Duration

	stateMu sync.RWMutex
	state   State
}

// New builds a Controller in the RUNNING state. Call Start before Run.
func New(d *dispatcher.Dispatcher, producers, transformers, sinks []*Worker, funnel *Worker, logger *slog.Logger) *Controller {
	return &Controller{
		Dispatcher:   d,
		Producers:    producers,
		Transformers: transformers,
		Sinks:        sinks,
		Funnel:       funnel,
		Logger:       logger,
		settleSleep:  SettleSleep,
		state:        StateRunning,
	}
}

// State reports the controller's current lifecycle state.
func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	c.Logger.Info("lifecycle transition", slog.String("state", s.String()))
}

func (c *Controller) nonFunnelWorkers() []*Worker {
	all := make([]*Worker, 0, len(c.Producers)+len(c.Transformers)+len(c.Sinks))
	all = append(all, c.Producers...)
	all = append(all, c.Transformers...)
	all = append(all, c.Sinks...)
	return all
}

func (c *Controller) allWorkers() []*Worker {
	return append(c.nonFunnelWorkers(), c.Funnel)
}

// Start launches the funnel's goroutine, then every configured worker's, in
// that order (spec §4.4 startup: "construct the funnel, then construct each
// configured producer, transformer, sink in that order").
func (c *Controller) Start(ctx context.Context) {
	c.Funnel.start(ctx)
	for _, w := range c.nonFunnelWorkers() {
		w.start(ctx)
	}
}

// Run drives RUNNING dispatcher iterations, watching for either all
// producers dying naturally or an external shutdownRequested signal, then
// executes the DRAINING two-phase quiescence protocol and blocks until every
// worker has joined. shutdownRequested may be nil.
func (c *Controller) Run(ctx context.Context, shutdownRequested func() bool) {
	for c.State() == StateRunning {
		c.Dispatcher.RunUntilIdle()
		sleepOrDone(ctx, c.settleSleep)

		switch {
		case shutdownRequested != nil && shutdownRequested():
			c.broadcastDie(c.allWorkers())
			c.setState(StateDraining)
		case allDead(c.Producers):
			c.setState(StateDraining)
		case ctx.Err() != nil:
			c.broadcastDie(c.allWorkers())
			c.setState(StateDraining)
		}
	}

	c.drain(ctx)
	c.setState(StateDead)
}

func allDead(ws []*Worker) bool {
	for _, w := range ws {
		if w.alive() {
			return false
		}
	}
	return true
}

func (c *Controller) broadcastDie(ws []*Worker) {
	for _, w := range ws {
		w.die()
	}
}

// drain implements spec §4.4's DRAINING loop: send DIE to producers, then
// repeatedly acquire every live transformer/sink/funnel lock and check
// whether every live worker's queues are empty — the quiescence predicate —
// breaking (while still holding the locks) the moment it holds, else
// releasing, nudging the dispatcher forward one iteration, and retrying.
func (c *Controller) drain(ctx context.Context) {
	c.broadcastDie(c.Producers)

	lockable := make([]*Worker, 0, len(c.Transformers)+len(c.Sinks)+1)
	lockable = append(lockable, c.Transformers...)
	lockable = append(lockable, c.Sinks...)
	lockable = append(lockable, c.Funnel)

	for {
		held := make([]*Worker, 0, len(lockable))
		for _, w := range lockable {
			if !w.alive() {
				continue
			}
			w.Handle.Lock.Lock()
			held = append(held, w)
		}

		if quiescent(c.allWorkers()) {
			c.broadcastDie(c.allWorkers())
			for _, w := range held {
				w.Handle.Lock.Unlock()
			}
			break
		}

		for _, w := range held {
			w.Handle.Lock.Unlock()
		}
		c.Dispatcher.Iteration()
		sleepOrDone(ctx, c.settleSleep)
	}

	for _, w := range c.allWorkers() {
		w.join()
	}
}

// quiescent reports whether every live worker's send/recv queues are empty.
// A dead worker's queues are ignored — items stranded there are lost by
// design (spec §4.4 "Failure semantics").
func quiescent(ws []*Worker) bool {
	for _, w := range ws {
		if !w.alive() {
			continue
		}
		if w.Handle.ToWorker.Len() != 0 || w.Handle.FromWorker.Len() != 0 {
			return false
		}
	}
	return true
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
