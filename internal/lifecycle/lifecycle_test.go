package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kestrelio/recursid/internal/dispatcher"
	"github.com/kestrelio/recursid/internal/funnel"
	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// oneShotProducer emits a single object then returns, simulating a source
// that exits immediately once its input is exhausted.
type oneShotProducer struct{ obj object.Object }

func (p *oneShotProducer) Run(ctx context.Context, emit func(object.Object), stillRunning func() bool) error {
	emit(p.obj)
	return nil
}

// identityTransformer re-emits every LogEntry it accepts as another
// LogEntry, the cycle-inducing transformer of spec §8's termination
// property and end-to-end scenario 3.
type identityTransformer struct{}

func (identityTransformer) Accepts(o object.Object) bool { return o.Kind() == object.KindLogEntry }
func (identityTransformer) Handle(ctx context.Context, in object.Object) []object.Object {
	return []object.Object{&object.LogEntry{Line: in.(*object.LogEntry).Line}}
}

// countingSink records every object it observes.
type countingSink struct {
	accept object.Kind
	seen   []object.Object
}

func (s *countingSink) Accepts(o object.Object) bool { return o.Kind() == s.accept }
func (s *countingSink) Handle(ctx context.Context, in object.Object) {
	s.seen = append(s.seen, in.Clone())
}

func buildController(t *testing.T, startTTL int, withIdentityTransformer bool) (*Controller, *countingSink, *countingSink) {
	t.Helper()
	logger := testLogger()

	f := funnel.New(startTTL, logger)
	funnelWorker := NewWorker(
		dispatcher.HandleFor(funnel.Name, f.Base, func() bool { return true }, nil),
		func(ctx context.Context) { f.Run(ctx) },
	)
	// funnelWorker's liveness must track f.Base directly since Run's own
	// exit is what closes done; Alive() here is only used by the dispatcher
	// Handle (unused for the funnel in Iteration) so a constant true is fine.

	logBase := module.NewBase("log-sink", startTTL, logger)
	logSink := &countingSink{accept: object.KindLogEntry}
	logWorker := NewWorker(
		dispatcher.HandleFor("log-sink", logBase, logBase.Dying, logSink),
		func(ctx context.Context) { module.RunSink(ctx, logBase, logSink) },
	)

	deathBase := module.NewBase("death-sink", startTTL, logger)
	deathSink := &countingSink{accept: object.KindDeathLog}
	deathWorker := NewWorker(
		dispatcher.HandleFor("death-sink", deathBase, deathBase.Dying, deathSink),
		func(ctx context.Context) { module.RunSink(ctx, deathBase, deathSink) },
	)

	var transformers []*Worker
	if withIdentityTransformer {
		tfBase := module.NewBase("identity", startTTL, logger)
		transformers = append(transformers, NewWorker(
			dispatcher.HandleFor("identity", tfBase, tfBase.Dying, identityTransformer{}),
			func(ctx context.Context) { module.RunTransformer(ctx, tfBase, identityTransformer{}) },
		))
	}

	prodBase := module.NewBase("producer", startTTL, logger)
	seed := &object.LogEntry{Line: "seed"}
	prodWorker := NewWorker(
		dispatcher.HandleFor("producer", prodBase, prodBase.Dying, nil),
		func(ctx context.Context) { module.RunProducer(ctx, prodBase, &oneShotProducer{obj: seed}) },
	)

	d := &dispatcher.Dispatcher{
		Producers:    []*dispatcher.Handle{prodWorker.Handle},
		Transformers: handlesOf(transformers),
		Sinks:        []*dispatcher.Handle{logWorker.Handle, deathWorker.Handle},
		Funnel:       funnelWorker.Handle,
		Logger:       logger,
	}

	c := New(d, []*Worker{prodWorker}, transformers, []*Worker{logWorker, deathWorker}, funnelWorker, logger)
	c.settleSleep = 5 * time.Millisecond
	return c, logSink, deathSink
}

func handlesOf(ws []*Worker) []*dispatcher.Handle {
	hs := make([]*dispatcher.Handle, len(ws))
	for i, w := range ws {
		hs[i] = w.Handle
	}
	return hs
}

func TestScenario4_ImmediateProducerExitDrainsToEmptyAndDead(t *testing.T) {
	c, logSink, _ := buildController(t, 5, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c.Start(ctx)
	c.Run(ctx, nil)

	assert.Equal(t, StateDead, c.State())
	require.Len(t, logSink.seen, 1)
	for _, w := range c.allWorkers() {
		assert.Zero(t, w.Handle.ToWorker.Len())
		assert.Zero(t, w.Handle.FromWorker.Len())
	}
}

func TestScenario3_IdentityTransformerProducesTwoDescendantsThenDeathLog(t *testing.T) {
	c, logSink, deathSink := buildController(t, 2, true)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c.Start(ctx)
	c.Run(ctx, nil)

	assert.Equal(t, StateDead, c.State())
	// seed (ttl=2) + 2 re-emitted descendants (ttl=1, ttl=0) = 3 LogEntry
	// observations at the log sink, then exactly one DeathLog once ttl<0.
	assert.Len(t, logSink.seen, 3)
	assert.Len(t, deathSink.seen, 1)
}

func TestQuiescenceIsStableAfterDead(t *testing.T) {
	c, logSink, deathSink := buildController(t, 1, true)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c.Start(ctx)
	c.Run(ctx, nil)
	require.Equal(t, StateDead, c.State())

	seenBefore := len(logSink.seen) + len(deathSink.seen)
	c.Dispatcher.RunUntilIdle()
	assert.Equal(t, seenBefore, len(logSink.seen)+len(deathSink.seen), "no further dispatches once quiescent")
}
