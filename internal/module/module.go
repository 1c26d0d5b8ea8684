// Package module defines the worker base contract shared by producers,
// transformers, and sinks: an inbound object queue, an outbound object
// queue, a command queue, and the processing lock the lifecycle controller
// uses to detect per-worker quiescence.
package module

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/queue"
	"github.com/kestrelio/recursid/internal/telemetry"
)

// HandlerLoopSleep is the idle-poll interval for transformer/sink main
// loops. Tunable, not a contract (spec §9).
const HandlerLoopSleep = 100 * time.Millisecond

// Queues bundles the three queues and the processing lock a worker is
// constructed with.
type Queues struct {
	Recv queue.ObjectQueue    // dispatcher -> worker
	Send queue.ObjectQueue    // worker -> dispatcher
	Cmd  *queue.CommandQueue  // dispatcher -> worker
	Lock *sync.Mutex          // held for the duration of handling one object
}

// Base is embedded by every worker's runtime state. It implements the
// command-queue draining and liveness flag common to all module shapes.
type Base struct {
	Name     string
	StartTTL int
	Queues   Queues
	Logger   *slog.Logger

	dying atomic.Bool
}

// NewBase constructs a Base with fresh queues and lock.
func NewBase(name string, startTTL int, logger *slog.Logger) *Base {
	return &Base{
		Name:     name,
		StartTTL: startTTL,
		Logger:   logger,
		Queues: Queues{
			Recv: queue.NewChan(),
			Send: queue.NewChan(),
			Cmd:  queue.NewCommandQueue(),
			Lock: &sync.Mutex{},
		},
	}
}

// HandleCommandQueue drains and acts on every pending command. It must be
// called before any liveness check.
func (b *Base) HandleCommandQueue() {
	for _, cmd := range b.Queues.Cmd.DrainAll() {
		switch cmd {
		case queue.CmdDie:
			b.dying.Store(true)
		case queue.CmdLogResources:
			b.Logger.Info("queue sizes",
				slog.String("module", b.Name),
				slog.Int("recv", b.Queues.Recv.Len()),
				slog.Int("send", b.Queues.Send.Len()),
				slog.Int("cmd", b.Queues.Cmd.Len()),
			)
		}
	}
}

// StillRunning drains the command queue and reports whether DIE has not
// yet been received.
func (b *Base) StillRunning() bool {
	b.HandleCommandQueue()
	return !b.dying.Load()
}

// Dying reports whether the worker has been told to die, without draining
// the command queue (unlike StillRunning).
func (b *Base) Dying() bool { return b.dying.Load() }

// Accepter is implemented by transformers and sinks: it declares which
// object kinds a module will handle.
type Accepter interface {
	Accepts(o object.Object) bool
}

// KindSet is the common Accepter implementation: a fixed set of supported
// kinds, matching spec §3's "declared set of accepted object kinds".
type KindSet map[object.Kind]struct{}

// NewKindSet builds a KindSet from the given kinds.
func NewKindSet(kinds ...object.Kind) KindSet {
	s := make(KindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// Accepts reports whether o's kind is in the set.
func (s KindSet) Accepts(o object.Object) bool {
	_, ok := s[o.Kind()]
	return ok
}

// emit records an emitted-object metric and pushes o onto send, having
// already set its TTL/ancestors via the caller.
func emit(b *Base, o object.Object) {
	telemetry.ObjectsEmittedTotal.WithLabelValues(b.Name, string(o.Kind())).Inc()
	b.Queues.Send.Push(o)
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
