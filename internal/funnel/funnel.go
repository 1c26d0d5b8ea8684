// Package funnel implements the reserved re-emit singleton: a
// producer-shaped worker whose recv queue is the dispatcher's write target
// for re-injecting any object back into the producer layer. Exactly one
// instance exists per framework and it is never publicly registerable
// (see internal/registry).
package funnel

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrelio/recursid/internal/module"
)

// Name is the funnel's reserved module name, excluded from the public registry.
const Name = "__reemit_funnel__"

// pollTimeout bounds each Pop attempt so the funnel notices DIE promptly
// even while its recv queue is empty.
const pollTimeout = 100 * time.Millisecond

// Funnel is the singleton re-injection worker.
type Funnel struct {
	Base *module.Base
}

// New constructs a Funnel with a fresh Base.
func New(startTTL int, logger *slog.Logger) *Funnel {
	return &Funnel{Base: module.NewBase(Name, startTTL, logger)}
}

// Run copies Base.Queues.Recv into Base.Queues.Send one object at a time,
// using a short timed get so it stays responsive to DIE even with an empty
// queue. This indirection serializes re-injected traffic with producer
// traffic and lets the dispatcher treat re-emissions uniformly.
//
// The Pop/Push pair runs with Queues.Lock held, exactly like
// RunTransformer/RunSink hold it around their own per-object work: the
// lifecycle controller's DRAINING loop treats "lock acquired and every
// queue empty" as proof nothing is in flight, and that only holds if an
// object can never sit outside both queues while unlocked.
func (f *Funnel) Run(ctx context.Context) {
	for f.Base.StillRunning() {
		f.Base.Queues.Lock.Lock()
		popCtx, cancel := context.WithTimeout(ctx, pollTimeout)
		o, ok := f.Base.Queues.Recv.Pop(popCtx)
		cancel()
		if ok {
			f.Base.Queues.Send.Push(o)
		}
		f.Base.Queues.Lock.Unlock()
		if ctx.Err() != nil {
			return
		}
	}
}
