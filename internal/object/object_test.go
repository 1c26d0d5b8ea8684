package object

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitSetsStartTTLAndEmptyAncestors(t *testing.T) {
	o := &LogEntry{Source: "test", Line: "hello"}
	Emit(o, 5)
	assert.Equal(t, 5, o.TTL())
	assert.Equal(t, "", o.Ancestors())
}

func TestReemitDecrementsTTLAndRecordsParent(t *testing.T) {
	parent := &LogEntry{Source: "test", Line: "hello"}
	Emit(parent, 5)

	child := &URLRef{URL: "https://example.com"}
	Reemit(child, parent)

	require.Equal(t, parent.TTL()-1, child.TTL())
	assert.Equal(t, 4, child.TTL())
	assert.True(t, strings.Contains(child.Ancestors(), parent.String()))
}

func TestDeathLogIsFixedTTLZeroAndTerminal(t *testing.T) {
	parent := &LogEntry{Source: "test", Line: "dying"}
	Emit(parent, 0)
	parent.SetTTL(-1)

	d := NewDeathLog(parent, "ttl_exhausted")
	assert.Equal(t, KindDeathLog, d.Kind())
	assert.Equal(t, 0, d.TTL())
	assert.Equal(t, parent.String(), d.Ancestors())
	assert.Contains(t, d.String(), "ttl_exhausted")
}

func TestCloneDoesNotAliasMutablePayload(t *testing.T) {
	orig := &BinaryBlob{Source: "test", Data: []byte{1, 2, 3}}
	clone := orig.Clone().(*BinaryBlob)
	clone.Data[0] = 99

	assert.Equal(t, byte(1), orig.Data[0])
	assert.Equal(t, byte(99), clone.Data[0])
}

func TestRegisterKindAllowsNewVariantsWithoutTouchingDispatcher(t *testing.T) {
	const kindCustom Kind = "CustomTestKind"
	assert.False(t, IsRegistered(kindCustom))
	RegisterKind(kindCustom, &LogEntry{})
	assert.True(t, IsRegistered(kindCustom))
}

func TestReemitChainEndsWithinStartTTLPlusOneHops(t *testing.T) {
	const startTTL = 5
	parent := &LogEntry{Source: "seed", Line: "x"}
	Emit(parent, startTTL)

	var cur Object = parent
	hops := 0
	for cur.TTL() >= 0 {
		child := &LogEntry{Source: "seed", Line: "x"}
		Reemit(child, cur)
		cur = child
		hops++
		if hops > startTTL+2 {
			t.Fatal("object survived more than startTTL+1 hops")
		}
	}
	assert.LessOrEqual(t, hops, startTTL+1)
}
