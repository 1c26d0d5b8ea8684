package procbinding

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelio/recursid/internal/dispatcher"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/queue"
)

// Role selects which module.Run* loop a spawned child process drives.
type Role string

const (
	RoleProducer    Role = "producer"
	RoleTransformer Role = "transformer"
	RoleSink        Role = "sink"
)

// pollInterval bounds how often Spawn's run loop forwards a queued DIE
// command to the child. The child's idle announcements are paced by
// module.HandlerLoopSleep instead (see pumpAndAnnounce). Tunable, not a
// contract (spec §9), matching module.HandlerLoopSleep's role on the
// thread-binding side.
const pollInterval = 100 * time.Millisecond

// pipeSend is the parent-side half of a process-bound worker's inbound
// queue. Push never buffers locally — it ships the object to the child
// immediately and counts it as outstanding. The count is the process
// binding's stand-in for "still inside the worker's locked region": it
// only returns to zero once the child's idle announcement proves its own
// local recv queue is empty and it is not mid-Handle, the same instant a
// thread-bound worker's Queues.Lock would be free with nothing left to
// drain.
type pipeSend struct {
	encMu sync.Mutex
	enc   *gob.Encoder

	countMu     sync.Mutex
	outstanding int
}

func newPipeSend(w io.Writer) *pipeSend {
	return &pipeSend{enc: gob.NewEncoder(w)}
}

func (p *pipeSend) Push(o object.Object) {
	p.countMu.Lock()
	p.outstanding++
	p.countMu.Unlock()

	p.encMu.Lock()
	defer p.encMu.Unlock()
	_ = p.enc.Encode(frame{Kind: frameObject, Obj: o})
}

func (p *pipeSend) sendDie() {
	p.encMu.Lock()
	defer p.encMu.Unlock()
	_ = p.enc.Encode(frame{Kind: frameDie})
}

// TryPop/Pop are never called: the dispatcher only ever pushes to a
// Handle.ToWorker, it never pops from one.
func (p *pipeSend) TryPop() (object.Object, bool) { return nil, false }

func (p *pipeSend) Pop(ctx context.Context) (object.Object, bool) {
	<-ctx.Done()
	return nil, false
}

func (p *pipeSend) Len() int {
	p.countMu.Lock()
	defer p.countMu.Unlock()
	return p.outstanding
}

func (p *pipeSend) resetOutstanding() {
	p.countMu.Lock()
	p.outstanding = 0
	p.countMu.Unlock()
}

// pipeRecv is the parent-side half of a process-bound worker's outbound
// queue. A background goroutine decodes frames off the child's stdout:
// carried objects land on a local in-process queue.Chan, so the
// dispatcher's TryPop/Len see exactly the same shape they would for a
// thread-bound worker; idle announcements invoke onIdle, which resets the
// paired pipeSend's outstanding count.
type pipeRecv struct {
	local *queue.Chan
}

func newPipeRecv(r io.Reader, onIdle func()) *pipeRecv {
	pr := &pipeRecv{local: queue.NewChan()}
	go pr.pump(r, onIdle)
	return pr
}

func (p *pipeRecv) pump(r io.Reader, onIdle func()) {
	dec := gob.NewDecoder(r)
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			return
		}
		switch f.Kind {
		case frameObject:
			p.local.Push(f.Obj)
		case frameIdle:
			onIdle()
		}
	}
}

func (p *pipeRecv) Push(o object.Object)                        { p.local.Push(o) }
func (p *pipeRecv) TryPop() (object.Object, bool)                { return p.local.TryPop() }
func (p *pipeRecv) Pop(ctx context.Context) (object.Object, bool) { return p.local.Pop(ctx) }
func (p *pipeRecv) Len() int                                      { return p.local.Len() }

// kwargsPayload is written to the child's fd 3 as JSON. Module kwargs can
// carry credentials (e.g. the downloader's Redis DSN), so they travel over
// a dedicated pipe rather than argv or the environment, neither of which
// is safe from a concurrent `ps` on a shared host.
type kwargsPayload struct {
	Kwargs map[string]any `json:"kwargs"`
}

// Spawn re-execs selfPath as a process-bound worker for one configured
// module and returns the dispatcher Handle the caller wires into the
// pipeline, plus the run function a lifecycle.Worker drives.
func Spawn(selfPath string, role Role, name string, kwargs map[string]any, startTTL int, debug bool, logger *slog.Logger) (*dispatcher.Handle, func(ctx context.Context), error) {
	kwReadEnd, kwWriteEnd, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("op=procbinding.Spawn: kwargs pipe: %w", err)
	}

	cmd := exec.Command(selfPath,
		"-recursid-worker", string(role), name, strconv.Itoa(startTTL), strconv.FormatBool(debug))
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{kwReadEnd}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("op=procbinding.Spawn: worker %q stdin pipe: %w", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("op=procbinding.Spawn: worker %q stdout pipe: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("op=procbinding.Spawn: starting worker %q: %w", name, err)
	}
	_ = kwReadEnd.Close() // the child owns the read end now

	go func() {
		defer kwWriteEnd.Close()
		if err := writeKwargs(kwWriteEnd, kwargs); err != nil {
			logger.Error("writing worker kwargs failed", slog.String("module", name), slog.Any("error", err))
		}
	}()

	send := newPipeSend(stdin)
	recv := newPipeRecv(stdout, send.resetOutstanding)

	var exited atomic.Bool
	handle := &dispatcher.Handle{
		Name:       name,
		ToWorker:   send,
		FromWorker: recv,
		Cmd:        queue.NewCommandQueue(),
		Lock:       &sync.Mutex{},
		Alive:      func() bool { return !exited.Load() },
	}

	run := func(ctx context.Context) {
		defer exited.Store(true)
		waitDone := make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(waitDone)
		}()

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-waitDone:
				return
			case <-ctx.Done():
				send.sendDie()
				<-waitDone
				return
			case <-ticker.C:
				for _, c := range handle.Cmd.DrainAll() {
					if c == queue.CmdDie {
						send.sendDie()
					}
				}
			}
		}
	}

	return handle, run, nil
}

func writeKwargs(w io.Writer, kwargs map[string]any) error {
	return json.NewEncoder(w).Encode(kwargsPayload{Kwargs: kwargs})
}
