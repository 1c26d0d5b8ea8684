package module

import (
	"context"
	"log/slog"

	"github.com/kestrelio/recursid/internal/object"
)

// Sink is a terminal consumer for the object kinds it accepts. It never
// emits.
type Sink interface {
	Accepter
	Handle(ctx context.Context, in object.Object)
}

// RunSink is the default sink main loop: identical to RunTransformer but
// Handle has no return value.
func RunSink(ctx context.Context, b *Base, s Sink) {
	for b.StillRunning() {
		b.Queues.Lock.Lock()
		for {
			in, ok := b.Queues.Recv.TryPop()
			if !ok {
				break
			}
			safeSinkHandle(b, s, ctx, in)
		}
		b.Queues.Lock.Unlock()
		sleepOrDone(ctx, HandlerLoopSleep)
	}
}

func safeSinkHandle(b *Base, s Sink, ctx context.Context, in object.Object) {
	defer func() {
		if r := recover(); r != nil {
			b.Logger.Error("sink handler panicked",
				slog.String("module", b.Name), slog.Any("recover", r), slog.String("object", in.String()))
		}
	}()
	s.Handle(ctx, in)
}
