// Package dispatcher implements the central, single-threaded routing loop:
// pulling from producers, fanning out to transformers/sinks by object-kind
// compatibility, recycling transformer outputs through the funnel, and
// aging out dead TTLs into DeathLog records. See spec §4.3.
package dispatcher

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/queue"
	"github.com/kestrelio/recursid/internal/telemetry"
)

// Handle is the dispatcher-side reference to a worker: its queues (named
// from the dispatcher's point of view — ToWorker is what the dispatcher
// writes into, FromWorker is what it reads from), its processing lock, a
// liveness predicate, and — for transformers/sinks — the declared set of
// accepted kinds.
type Handle struct {
	Name       string
	ToWorker   queue.ObjectQueue
	FromWorker queue.ObjectQueue
	Cmd        *queue.CommandQueue
	Lock       *sync.Mutex
	Alive      func() bool
	// Accepts is nil for producers and the funnel; transformers/sinks must
	// set it.
	Accepts func(object.Object) bool
}

// HandleFor builds a dispatcher Handle from a worker's Base and an
// optional Accepter (nil for producers/the funnel).
func HandleFor(name string, b *module.Base, alive func() bool, accepter module.Accepter) *Handle {
	h := &Handle{
		Name:       name,
		ToWorker:   b.Queues.Recv,
		FromWorker: b.Queues.Send,
		Cmd:        b.Queues.Cmd,
		Lock:       b.Queues.Lock,
		Alive:      alive,
	}
	if accepter != nil {
		h.Accepts = accepter.Accepts
	}
	return h
}

// Dispatcher is the central routing loop. It holds no state about module
// internals beyond the Handles it was configured with.
type Dispatcher struct {
	Producers    []*Handle
	Transformers []*Handle
	Sinks        []*Handle
	Funnel       *Handle
	Logger       *slog.Logger
}

// routeDeath wraps o as a DeathLog for reason and routes it through the
// funnel's recv side, so TTL exhaustion and no-handler dead-lettering both
// happen in exactly one place.
func (d *Dispatcher) routeDeath(o object.Object, reason string) {
	dl := object.NewDeathLog(o, reason)
	telemetry.DeathLogsTotal.WithLabelValues(reason).Inc()
	d.Logger.Debug("object died", slog.String("reason", reason), slog.String("object", o.String()))
	d.Funnel.ToWorker.Push(dl)
}

// reportQueueDepths publishes each handle's current ToWorker/FromWorker
// queue length, so an operator watching /metrics can see which module is
// backing up without attaching a debugger.
func (d *Dispatcher) reportQueueDepths() {
	for _, h := range d.AllHandles() {
		telemetry.QueueDepth.WithLabelValues(h.Name, "to_worker").Set(float64(h.ToWorker.Len()))
		telemetry.QueueDepth.WithLabelValues(h.Name, "from_worker").Set(float64(h.FromWorker.Len()))
	}
}

// Iteration runs one round of: producer sweep, then transformer-output
// sweep. Returns true if any object was handled.
func (d *Dispatcher) Iteration() bool {
	handled := false
	defer d.reportQueueDepths()

	sources := make([]*Handle, 0, len(d.Producers)+1)
	sources = append(sources, d.Producers...)
	sources = append(sources, d.Funnel)

	targets := make([]*Handle, 0, len(d.Transformers)+len(d.Sinks))
	targets = append(targets, d.Transformers...)
	targets = append(targets, d.Sinks...)

	for _, src := range sources {
		o, ok := src.FromWorker.TryPop()
		if !ok {
			continue
		}
		handled = true

		if o.TTL() < 0 {
			d.routeDeath(o, "ttl_exhausted")
			continue
		}

		thisHandled := false
		for _, tgt := range targets {
			if tgt.Accepts == nil || !tgt.Accepts(o) {
				continue
			}
			thisHandled = true
			telemetry.ObjectsHandledTotal.WithLabelValues(tgt.Name, string(o.Kind())).Inc()
			tgt.ToWorker.Push(o.Clone())
		}

		if !thisHandled {
			d.routeDeath(o, "no_handler")
		}
	}

	for _, tf := range d.Transformers {
		o, ok := tf.FromWorker.TryPop()
		if !ok {
			continue
		}
		handled = true
		d.Funnel.ToWorker.Push(o)
	}

	telemetry.DispatchIterationsTotal.WithLabelValues(strconv.FormatBool(handled)).Inc()
	return handled
}

// RunUntilIdle runs Iteration repeatedly until one reports no work, giving
// fairness across modules without priorities — one item per module per
// iteration — while guaranteeing progress for every live queue.
func (d *Dispatcher) RunUntilIdle() {
	for d.Iteration() {
	}
}

// AllHandles returns every handle the dispatcher knows about, including the funnel.
func (d *Dispatcher) AllHandles() []*Handle {
	all := make([]*Handle, 0, len(d.Producers)+len(d.Transformers)+len(d.Sinks)+1)
	all = append(all, d.Producers...)
	all = append(all, d.Transformers...)
	all = append(all, d.Sinks...)
	all = append(all, d.Funnel)
	return all
}
