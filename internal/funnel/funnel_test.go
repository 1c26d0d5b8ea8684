package funnel

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunCopiesRecvToSend(t *testing.T) {
	f := New(5, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	entry := &object.LogEntry{Line: "reemitted"}
	f.Base.Queues.Recv.Push(entry)

	popCtx, popCancel := context.WithTimeout(context.Background(), time.Second)
	defer popCancel()
	got, ok := f.Base.Queues.Send.Pop(popCtx)
	require.True(t, ok)
	assert.Equal(t, entry, got)

	f.Base.Queues.Cmd.Push(queue.CmdDie)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after DIE")
	}
}

func TestRunHoldsLockAcrossPopAndPush(t *testing.T) {
	f := New(5, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	entry := &object.LogEntry{Line: "in flight"}
	f.Base.Queues.Recv.Push(entry)

	// Give Run a chance to pick the object up. Whether or not it has landed
	// on Send yet, the lock must be held throughout — acquiring it here
	// proves Run is not mid-transfer while unlocked.
	time.Sleep(10 * time.Millisecond)
	f.Base.Queues.Lock.Lock()
	recvLen := f.Base.Queues.Recv.Len()
	sendLen := f.Base.Queues.Send.Len()
	f.Base.Queues.Lock.Unlock()
	assert.Equal(t, 0, recvLen, "object must have left Recv by the time the lock is free")
	assert.Equal(t, 1, sendLen, "object must already be on Send by the time the lock is free")

	f.Base.Queues.Cmd.Push(queue.CmdDie)
	<-done
}
