package queue

import (
	"context"
	"testing"
	"time"

	"github.com/kestrelio/recursid/internal/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanFIFOOrderPerProducer(t *testing.T) {
	q := NewChan()
	q.Push(&object.LogEntry{Line: "a"})
	q.Push(&object.LogEntry{Line: "b"})
	q.Push(&object.LogEntry{Line: "c"})

	var got []string
	for i := 0; i < 3; i++ {
		o, ok := q.TryPop()
		require.True(t, ok)
		got = append(got, o.(*object.LogEntry).Line)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 0, q.Len())
}

func TestChanTryPopEmptyReturnsFalse(t *testing.T) {
	q := NewChan()
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestChanPopBlocksUntilPush(t *testing.T) {
	q := NewChan()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(&object.LogEntry{Line: "late"})
	}()

	o, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "late", o.(*object.LogEntry).Line)
}

func TestChanPopReturnsFalseOnContextCancel(t *testing.T) {
	q := NewChan()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}

func TestCommandQueueDrainAll(t *testing.T) {
	cq := NewCommandQueue()
	cq.Push(CmdLogResources)
	cq.Push(CmdDie)

	cmds := cq.DrainAll()
	assert.Equal(t, []Command{CmdLogResources, CmdDie}, cmds)
	assert.Equal(t, 0, cq.Len())
	assert.Nil(t, cq.DrainAll())
}
