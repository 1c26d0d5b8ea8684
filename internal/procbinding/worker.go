package procbinding

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/queue"
	"github.com/kestrelio/recursid/internal/registry"
	"github.com/kestrelio/recursid/internal/telemetry"
)

// kwargsFD is the file descriptor Spawn passes the child its module kwargs
// on, via cmd.ExtraFiles. fd 0-2 are stdin/stdout/stderr; ExtraFiles[0]
// lands at fd 3.
const kwargsFD = 3

// FlagName is the hidden flag cmd/recursid's main checks for before kong
// parsing: its presence means this invocation is a re-exec'd process-bound
// worker, not an interactive pipeline run.
const FlagName = "-recursid-worker"

// childSend is the child-side half of a process-bound worker's outbound
// queue: every emitted object is gob-framed onto stdout, and an idle
// announcement is written whenever pumpAndAnnounce finds the child's own
// processing lock free and its recv queue empty.
type childSend struct {
	mu  sync.Mutex
	enc *gob.Encoder
}

func newChildSend(w io.Writer) *childSend {
	return &childSend{enc: gob.NewEncoder(w)}
}

func (c *childSend) Push(o object.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.enc.Encode(frame{Kind: frameObject, Obj: o})
}

func (c *childSend) announceIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.enc.Encode(frame{Kind: frameIdle})
}

// TryPop/Pop are never exercised: module.Run* only Push onto
// Base.Queues.Send, it never reads it back. Len always reports 0, which is
// what the LOG_RESOURCES command logs for this side.
func (c *childSend) TryPop() (object.Object, bool) { return nil, false }
func (c *childSend) Pop(ctx context.Context) (object.Object, bool) {
	<-ctx.Done()
	return nil, false
}
func (c *childSend) Len() int { return 0 }

// RunWorker is the entire body of a process-bound worker: it parses the
// hidden flag's arguments, reconstructs the named module from the
// registry using kwargs read off fd 3, bridges its Base.Queues over
// stdin/stdout, and runs the same module.RunProducer/RunTransformer/
// RunSink loop a thread-bound worker would, unmodified.
func RunWorker(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("op=procbinding.RunWorker: want role, name, start_ttl, debug; got %d args", len(args))
	}
	role := Role(args[0])
	name := args[1]

	startTTL, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("op=procbinding.RunWorker: start_ttl: %w", err)
	}
	debug, err := strconv.ParseBool(args[3])
	if err != nil {
		return fmt.Errorf("op=procbinding.RunWorker: debug flag: %w", err)
	}

	kwargs, err := readKwargs()
	if err != nil {
		return fmt.Errorf("op=procbinding.RunWorker: %w", err)
	}

	logger := telemetry.SetupLogger("recursid-worker", debug).With(slog.String("module", name))
	base := module.NewBase(name, startTTL, logger)

	send := newChildSend(os.Stdout)
	base.Queues.Send = send

	go pumpAndAnnounce(ctx, os.Stdin, base, send)

	switch role {
	case RoleProducer:
		factory, err := registry.LookupProducer(name)
		if err != nil {
			return fmt.Errorf("op=procbinding.RunWorker: %w", err)
		}
		p, err := factory(kwargs)
		if err != nil {
			return fmt.Errorf("op=procbinding.RunWorker: constructing producer %q: %w", name, err)
		}
		module.RunProducer(ctx, base, p)
	case RoleTransformer:
		factory, err := registry.LookupTransformer(name)
		if err != nil {
			return fmt.Errorf("op=procbinding.RunWorker: %w", err)
		}
		t, err := factory(kwargs)
		if err != nil {
			return fmt.Errorf("op=procbinding.RunWorker: constructing reemitter %q: %w", name, err)
		}
		module.RunTransformer(ctx, base, t)
	case RoleSink:
		factory, err := registry.LookupSink(name)
		if err != nil {
			return fmt.Errorf("op=procbinding.RunWorker: %w", err)
		}
		s, err := factory(kwargs)
		if err != nil {
			return fmt.Errorf("op=procbinding.RunWorker: constructing output endpoint %q: %w", name, err)
		}
		module.RunSink(ctx, base, s)
	default:
		return fmt.Errorf("op=procbinding.RunWorker: unknown role %q", role)
	}
	return nil
}

func readKwargs() (map[string]any, error) {
	f := os.NewFile(kwargsFD, "recursid-worker-kwargs")
	if f == nil {
		return nil, fmt.Errorf("kwargs pipe (fd %d) not open", kwargsFD)
	}
	defer f.Close()

	var payload kwargsPayload
	if err := json.NewDecoder(f).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding kwargs: %w", err)
	}
	return payload.Kwargs, nil
}

// pumpAndAnnounce is the child's single reader of stdin. It runs as one
// goroutine (rather than a separate decode loop and a separate idle-poll
// loop) so that "a frame has arrived but is not yet pushed to Recv" and
// "announce idle" can never interleave arbitrarily: a frame already
// decoded is always delivered to Recv, in order, before this goroutine
// ever re-examines Recv's length for an idle announcement. The decode
// itself happens on a second, dumber goroutine that does nothing but feed
// a channel, so a blocking gob.Decode can never stall the idle ticker.
//
// This narrows, but does not formally close, the gap spec §4.4 closes for
// the thread binding via a single shared sync.Mutex: a frame can still be
// fully in flight over the OS pipe, decoded by neither goroutine yet, at
// the instant an idle frame is sent. See DESIGN.md's process-binding entry
// for why this residual window is accepted rather than built out into a
// full synchronous ping/pong handshake.
func pumpAndAnnounce(ctx context.Context, r io.Reader, base *module.Base, send *childSend) {
	frames := make(chan frame, 1)
	go func() {
		defer close(frames)
		dec := gob.NewDecoder(r)
		for {
			var f frame
			if err := dec.Decode(&f); err != nil {
				return
			}
			frames <- f
		}
	}()

	ticker := time.NewTicker(module.HandlerLoopSleep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				base.Queues.Cmd.Push(queue.CmdDie)
				return
			}
			switch f.Kind {
			case frameObject:
				base.Queues.Recv.Push(f.Obj)
			case frameDie:
				base.Queues.Cmd.Push(queue.CmdDie)
			}
		case <-ticker.C:
			// TryLock (rather than Lock) is essential: blocking here would
			// itself contend with the worker's own processing loop.
			if len(frames) > 0 || !base.Queues.Lock.TryLock() {
				continue
			}
			empty := base.Queues.Recv.Len() == 0
			base.Queues.Lock.Unlock()
			if empty {
				send.announceIdle()
			}
		}
	}
}
