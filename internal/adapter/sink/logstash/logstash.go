// Package logstash implements the Logstash output endpoint (spec §4.6): it
// ships each LogEntry to a Logstash listener as a newline-delimited JSON
// document over TCP or UDP. There is no corpus library for the Logstash
// wire protocol itself — it is newline-delimited JSON over a plain
// socket — so this adapts net.Dial directly rather than reaching for a
// dependency that does not exist in the pack.
package logstash

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kestrelio/recursid/internal/kwargs"
	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/registry"
)

const dialTimeout = 5 * time.Second

// Sink ships LogEntry objects to a Logstash listener. The connection is
// opened lazily on first use and kept open, mirroring the source's
// once-only setup_logger.
type Sink struct {
	addr     string
	protocol string
	logger   *slog.Logger
	conn     net.Conn
	module.KindSet
}

type wireMessage struct {
	Message string `json:"message"`
}

// New constructs a logstash_output sink. Configuration:
// host (required), port (required).
// protocol (optional, default "tcp") - "tcp" or "udp".
func New(kw map[string]any) (module.Sink, error) {
	host, err := kwargs.RequiredString(kw, "host")
	if err != nil {
		return nil, fmt.Errorf("op=logstash.New: %w", err)
	}
	port, err := kwargs.Int(kw, "port", 0)
	if err != nil {
		return nil, fmt.Errorf("op=logstash.New: %w", err)
	}
	if port <= 0 {
		return nil, fmt.Errorf("op=logstash.New: port is required")
	}
	protocol, err := kwargs.String(kw, "protocol", "tcp")
	if err != nil {
		return nil, fmt.Errorf("op=logstash.New: %w", err)
	}
	if protocol != "tcp" && protocol != "udp" {
		return nil, fmt.Errorf("op=logstash.New: protocol must be tcp or udp, got %q", protocol)
	}

	return &Sink{
		addr:     net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		protocol: protocol,
		logger:   slog.Default(),
		KindSet:  module.NewKindSet(object.KindLogEntry),
	}, nil
}

func init() {
	if err := registry.RegisterSink("logstash_output", func(kw map[string]any) (module.Sink, error) {
		return New(kw)
	}); err != nil {
		panic(err)
	}
}

// Handle ships in as a newline-delimited JSON document.
func (s *Sink) Handle(_ context.Context, in object.Object) {
	line, err := json.Marshal(wireMessage{Message: in.String()})
	if err != nil {
		s.logger.Error("failed to encode logstash message", "error", err)
		return
	}
	line = append(line, '\n')

	if err := s.send(line); err != nil {
		s.logger.Error("failed to ship to logstash, reconnecting", "addr", s.addr, "error", err)
		s.conn = nil
		if err := s.send(line); err != nil {
			s.logger.Error("failed to ship to logstash after reconnect", "addr", s.addr, "error", err)
		}
	}
}

func (s *Sink) send(line []byte) error {
	if s.conn == nil {
		conn, err := net.DialTimeout(s.protocol, s.addr, dialTimeout)
		if err != nil {
			return err
		}
		s.conn = conn
	}
	_, err := s.conn.Write(line)
	return err
}
