package procbinding

import (
	"context"
	"encoding/gob"
	"io"
	"testing"
	"time"

	"github.com/kestrelio/recursid/internal/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTripsThroughGob(t *testing.T) {
	r, w := io.Pipe()
	defer r.Close()
	defer w.Close()

	send := newPipeSend(w)
	recv := newPipeRecv(r, func() {})

	entry := &object.LogEntry{Source: "cowrie", Line: "hello"}
	send.Push(entry)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := recv.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, entry, got)
}

func TestPipeSendLenTracksOutstandingUntilIdleAck(t *testing.T) {
	r, w := io.Pipe()
	defer r.Close()
	defer w.Close()

	send := newPipeSend(w)

	idleSeen := make(chan struct{}, 1)
	recv := newPipeRecv(r, func() {
		send.resetOutstanding()
		idleSeen <- struct{}{}
	})

	send.Push(&object.LogEntry{Line: "one"})
	send.Push(&object.LogEntry{Line: "two"})
	assert.Equal(t, 2, send.Len())

	// Drain the two object frames so they don't pile up unread, then send a
	// bare idle frame on the same wire a real child would share with its
	// object frames.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok := recv.Pop(ctx)
	require.True(t, ok)
	_, ok = recv.Pop(ctx)
	require.True(t, ok)

	go func() {
		send.encMu.Lock()
		defer send.encMu.Unlock()
		_ = send.enc.Encode(frame{Kind: frameIdle})
	}()

	select {
	case <-idleSeen:
	case <-time.After(time.Second):
		t.Fatal("onIdle callback never fired")
	}
	assert.Equal(t, 0, send.Len())
}

func TestPipeSendSendsDieFrame(t *testing.T) {
	r, w := io.Pipe()
	defer r.Close()
	defer w.Close()

	send := newPipeSend(w)
	done := make(chan frame, 1)
	go func() {
		dec := gob.NewDecoder(r)
		var f frame
		_ = dec.Decode(&f)
		done <- f
	}()

	send.sendDie()

	select {
	case f := <-done:
		assert.Equal(t, frameDie, f.Kind)
	case <-time.After(time.Second):
		t.Fatal("die frame never arrived")
	}
}
