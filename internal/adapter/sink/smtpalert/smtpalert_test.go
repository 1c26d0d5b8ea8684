package smtpalert

import (
	"strings"
	"testing"

	"github.com/kestrelio/recursid/internal/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresRecipients(t *testing.T) {
	_, err := New(map[string]any{"host": "smtp.example.com", "from": "a@example.com"})
	assert.Error(t, err)
}

func TestNewDefaultsPortAndTLS(t *testing.T) {
	s, err := New(map[string]any{
		"host": "smtp.example.com",
		"from": "a@example.com",
		"to":   []any{"b@example.com"},
	})
	require.NoError(t, err)
	sink := s.(*Sink)
	assert.Equal(t, 587, sink.port)
	assert.True(t, sink.useTLS)
}

func TestBuildMessageIncludesHeadersAndBody(t *testing.T) {
	s, err := New(map[string]any{
		"host": "smtp.example.com",
		"from": "alerts@example.com",
		"to":   []any{"ops@example.com", "sec@example.com"},
	})
	require.NoError(t, err)
	sink := s.(*Sink)

	msg := string(sink.buildMessage(&object.LogEntry{Line: "intrusion detected"}))
	assert.True(t, strings.Contains(msg, "From: alerts@example.com"))
	assert.True(t, strings.Contains(msg, "To: ops@example.com, sec@example.com"))
	assert.True(t, strings.Contains(msg, "intrusion detected"))
}

func TestNewRejectsInvalidMatchRegex(t *testing.T) {
	_, err := New(map[string]any{
		"host":        "smtp.example.com",
		"from":        "a@example.com",
		"to":          []any{"b@example.com"},
		"match_regex": "(unclosed",
	})
	assert.Error(t, err)
}

func TestHandleSkipsWhenMatchRegexDoesNotMatch(t *testing.T) {
	s, err := New(map[string]any{
		"host":        "smtp.example.com",
		"from":        "a@example.com",
		"to":          []any{"b@example.com"},
		"match_regex": "intrusion",
	})
	require.NoError(t, err)
	sink := s.(*Sink)
	assert.False(t, sink.matchRegex.MatchString((&object.LogEntry{Line: "benign"}).String()))
	assert.True(t, sink.matchRegex.MatchString((&object.LogEntry{Line: "intrusion detected"}).String()))
}

func TestAcceptsLogEntryAndDeathLog(t *testing.T) {
	s, err := New(map[string]any{
		"host": "smtp.example.com",
		"from": "a@example.com",
		"to":   []any{"b@example.com"},
	})
	require.NoError(t, err)
	assert.True(t, s.Accepts(&object.LogEntry{}))
	assert.True(t, s.Accepts(&object.DeathLog{}))
	assert.False(t, s.Accepts(&object.URLRef{}))
}
