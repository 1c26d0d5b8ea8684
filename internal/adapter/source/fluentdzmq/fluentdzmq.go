// Package fluentdzmq implements the Fluentd-over-ZeroMQ input endpoint
// (spec §4.5): subscribing to a ZMQ PUB socket keyed by a topic prefix,
// msgpack-decoding each Fluentd forward-protocol batch, and emitting one
// FluentdRecord per entry.
package fluentdzmq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kestrelio/recursid/internal/kwargs"
	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/registry"
)

// Producer subscribes to a ZMQ PUB socket and decodes Fluentd forward
// protocol batches published under fluentdZMQKey.
type Producer struct {
	fluentdZMQKey string
	host          string
	port          int
	protocol      string
}

// New constructs a fluentd_zmq producer. Configuration:
// fluentd_zmq_key (required) - the topic key to subscribe to.
// host (optional, default "127.0.0.1"), port (optional, default 5556),
// protocol (optional, default "tcp").
func New(kw map[string]any) (module.Producer, error) {
	key, err := kwargs.RequiredString(kw, "fluentd_zmq_key")
	if err != nil {
		return nil, fmt.Errorf("op=fluentdzmq.New: %w", err)
	}
	host, err := kwargs.String(kw, "host", "127.0.0.1")
	if err != nil {
		return nil, fmt.Errorf("op=fluentdzmq.New: %w", err)
	}
	port, err := kwargs.Int(kw, "port", 5556)
	if err != nil {
		return nil, fmt.Errorf("op=fluentdzmq.New: %w", err)
	}
	protocol, err := kwargs.String(kw, "protocol", "tcp")
	if err != nil {
		return nil, fmt.Errorf("op=fluentdzmq.New: %w", err)
	}
	return &Producer{fluentdZMQKey: key, host: host, port: port, protocol: protocol}, nil
}

func init() {
	if err := registry.RegisterProducer("fluentd_zmq", func(kw map[string]any) (module.Producer, error) {
		return New(kw)
	}); err != nil {
		panic(err)
	}
}

// pollInterval bounds how long one sub.RecvBytes call blocks before
// stillRunning is rechecked.
const pollInterval = 500 * time.Millisecond

// Run subscribes to the configured ZMQ endpoint and emits a FluentdRecord
// per decoded forward-protocol entry until stillRunning goes false.
func (p *Producer) Run(ctx context.Context, emit func(object.Object), stillRunning func() bool) error {
	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return fmt.Errorf("op=fluentdzmq.Run: creating socket: %w", err)
	}
	defer sub.Close()

	endpoint := fmt.Sprintf("%s://%s:%d", p.protocol, p.host, p.port)
	if err := sub.Connect(endpoint); err != nil {
		return fmt.Errorf("op=fluentdzmq.Run: connecting to %s: %w", endpoint, err)
	}
	if err := sub.SetSubscribe(p.fluentdZMQKey); err != nil {
		return fmt.Errorf("op=fluentdzmq.Run: subscribing: %w", err)
	}
	// Recv blocks indefinitely with no timeout option in zmq4's simple API;
	// a short poll interval is used instead so stillRunning is rechecked
	// promptly, per spec §5's bounded-cancellation-latency requirement.
	if err := sub.SetRcvtimeo(pollInterval); err != nil {
		return fmt.Errorf("op=fluentdzmq.Run: setting recv timeout: %w", err)
	}

	for stillRunning() && ctx.Err() == nil {
		raw, err := sub.RecvBytes(0)
		if err != nil {
			// SetRcvtimeo makes a timed-out Recv fail with EAGAIN; that is
			// the expected poll tick, not a real error.
			if errors.Is(err, syscall.EAGAIN) {
				continue
			}
			return fmt.Errorf("op=fluentdzmq.Run: recv: %w", err)
		}

		for _, rec := range decodeFrame(raw) {
			emit(rec)
		}
	}
	return nil
}

// decodeFrame splits a raw ZMQ frame into its "<key> <msgpack-batch>" parts
// and decodes the batch into FluentdRecords. Factored out of Run so it can
// be exercised without a live ZMQ socket.
func decodeFrame(raw []byte) []*object.FluentdRecord {
	parts := bytes.SplitN(raw, []byte(" "), 2)
	if len(parts) != 2 {
		return nil
	}

	// Each batch is a list of [tag, time, record] tuples (the Fluentd
	// forward protocol). Decoding into []any keeps this resilient to
	// whatever shape the record map takes, the same way JSONRecord carries
	// an untyped map[string]any.
	var batch []any
	if err := msgpack.Unmarshal(parts[1], &batch); err != nil {
		return nil
	}

	var out []*object.FluentdRecord
	for _, raw := range batch {
		tuple, ok := raw.([]any)
		if !ok || len(tuple) != 3 {
			continue
		}
		tag, _ := tuple[0].(string)
		record, _ := tuple[2].(map[string]any)
		out = append(out, &object.FluentdRecord{
			JSONRecord: object.JSONRecord{Fields: record},
			Type:       tag,
		})
	}
	return out
}
