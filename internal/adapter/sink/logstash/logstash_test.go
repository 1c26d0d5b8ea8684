package logstash

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/kestrelio/recursid/internal/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresHostAndPort(t *testing.T) {
	_, err := New(map[string]any{})
	assert.Error(t, err)

	_, err = New(map[string]any{"host": "localhost"})
	assert.Error(t, err)
}

func TestNewRejectsUnknownProtocol(t *testing.T) {
	_, err := New(map[string]any{"host": "localhost", "port": float64(1), "protocol": "sctp"})
	assert.Error(t, err)
}

func TestHandleShipsNewlineDelimitedJSON(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		if scanner.Scan() {
			received <- scanner.Text()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	s, err := New(map[string]any{"host": host, "port": float64(port)})
	require.NoError(t, err)

	s.(*Sink).Handle(context.Background(), &object.LogEntry{Line: "hello world"})

	select {
	case line := <-received:
		var msg wireMessage
		require.NoError(t, json.Unmarshal([]byte(line), &msg))
		assert.Contains(t, msg.Message, "hello world")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for logstash message")
	}
}

func TestAcceptsOnlyLogEntry(t *testing.T) {
	s, err := New(map[string]any{"host": "localhost", "port": float64(1)})
	require.NoError(t, err)
	assert.True(t, s.Accepts(&object.LogEntry{}))
	assert.False(t, s.Accepts(&object.DeathLog{}))
}
