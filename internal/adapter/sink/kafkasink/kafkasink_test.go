package kafkasink

import (
	"testing"

	"github.com/kestrelio/recursid/internal/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresBrokersAndTopic(t *testing.T) {
	_, err := New(map[string]any{})
	assert.Error(t, err)

	_, err = New(map[string]any{"brokers": []any{"localhost:9092"}})
	assert.Error(t, err)

	_, err = New(map[string]any{"topic": "honeypot"})
	assert.Error(t, err)
}

func TestNewSucceedsWithoutDialingABroker(t *testing.T) {
	// kgo.NewClient only validates configuration; it never connects until
	// the client is used to produce or consume, so this must not require a
	// live broker.
	s, err := New(map[string]any{"brokers": []any{"localhost:9092"}, "topic": "honeypot"})
	require.NoError(t, err)
	defer s.(*Sink).Close()
}

func TestAcceptsEveryKind(t *testing.T) {
	s, err := New(map[string]any{"brokers": []any{"localhost:9092"}, "topic": "honeypot"})
	require.NoError(t, err)
	defer s.(*Sink).Close()

	assert.True(t, s.Accepts(&object.LogEntry{}))
	assert.True(t, s.Accepts(&object.DeathLog{}))
	assert.True(t, s.Accepts(&object.JSONRecord{}))
}
