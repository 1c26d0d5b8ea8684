package module

import (
	"context"
	"log/slog"

	"github.com/kestrelio/recursid/internal/object"
)

// Transformer consumes objects it accepts and emits zero or more derived
// objects. Handle errors are the module's own concern: per spec §4.1/§7 a
// transformer must log and return no children rather than crash the
// pipeline, so RunTransformer also recovers a panicking Handle and treats
// it as "no output" for that object.
type Transformer interface {
	Accepter
	Handle(ctx context.Context, in object.Object) []object.Object
}

// RunTransformer is the default transformer main loop from spec §4.1: while
// not dying, hold the processing lock for as long as the recv queue has
// work, reemit every child of every handled object, release the lock,
// sleep.
func RunTransformer(ctx context.Context, b *Base, t Transformer) {
	for b.StillRunning() {
		b.Queues.Lock.Lock()
		for {
			in, ok := b.Queues.Recv.TryPop()
			if !ok {
				break
			}
			children := safeHandle(b, t, ctx, in)
			for _, child := range children {
				object.Reemit(child, in)
				emit(b, child)
			}
		}
		b.Queues.Lock.Unlock()
		sleepOrDone(ctx, HandlerLoopSleep)
	}
}

func safeHandle(b *Base, t Transformer, ctx context.Context, in object.Object) (children []object.Object) {
	defer func() {
		if r := recover(); r != nil {
			b.Logger.Error("transformer handler panicked, treating as no output",
				slog.String("module", b.Name), slog.Any("recover", r), slog.String("object", in.String()))
			children = nil
		}
	}()
	return t.Handle(ctx, in)
}
