package module

import (
	"context"
	"log/slog"

	"github.com/kestrelio/recursid/internal/object"
)

// Producer overrides Run with source-specific I/O (file read, ZMQ
// subscribe, Kafka consume, ...). It calls the emit callback it is handed
// for every fresh object it wants injected into the pipeline; emit takes
// care of setting ttl=startTTL and ancestors="" per spec invariant 1.
//
// Run must return promptly once stillRunning() goes false or ctx is done —
// cancellation latency is bounded by one suspension point in the source
// I/O, per spec §5.
type Producer interface {
	Run(ctx context.Context, emit func(object.Object), stillRunning func() bool) error
}

// RunProducer drives p to completion, wiring its emit callback to this
// worker's send queue and TTL invariants.
func RunProducer(ctx context.Context, b *Base, p Producer) {
	emitFn := func(o object.Object) {
		object.Emit(o, b.StartTTL)
		emit(b, o)
	}
	if err := p.Run(ctx, emitFn, b.StillRunning); err != nil {
		b.Logger.Error("producer exited with error",
			slog.String("module", b.Name), slog.Any("error", err))
	}
}
