package fluentdzmq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestNewRequiresFluentdZMQKey(t *testing.T) {
	_, err := New(map[string]any{})
	assert.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	p, err := New(map[string]any{"fluentd_zmq_key": "cowrie"})
	require.NoError(t, err)
	prod := p.(*Producer)
	assert.Equal(t, "127.0.0.1", prod.host)
	assert.Equal(t, 5556, prod.port)
	assert.Equal(t, "tcp", prod.protocol)
}

func TestDecodeFrameParsesForwardProtocolBatch(t *testing.T) {
	batch, err := msgpack.Marshal([]any{
		[]any{"cowrie", int64(1234), map[string]any{"input": "hello"}},
		[]any{"glastopf", int64(5678), map[string]any{"http_body": "world"}},
	})
	require.NoError(t, err)

	frame := append([]byte("cowrie.key "), batch...)
	records := decodeFrame(frame)
	require.Len(t, records, 2)
	assert.Equal(t, "cowrie", records[0].Type)
	assert.Equal(t, "hello", records[0].Fields["input"])
	assert.Equal(t, "glastopf", records[1].Type)
}

func TestDecodeFrameIgnoresMalformedInput(t *testing.T) {
	assert.Nil(t, decodeFrame([]byte("no-space-separator")))
	assert.Nil(t, decodeFrame([]byte("key notmsgpack")))
}
