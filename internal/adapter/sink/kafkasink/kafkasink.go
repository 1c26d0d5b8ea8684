// Package kafkasink implements the Kafka/Redpanda output endpoint (spec
// §4.5 expansion): an alternative egress for the same log pipeline
// kafkasource can consume from, producing one record per accepted object
// via the corpus's `github.com/twmb/franz-go` client — the producer half
// of the stack kafkasource already exercises from the consumer side.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/kestrelio/recursid/internal/kwargs"
	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/registry"
)

type wireMessage struct {
	Message string `json:"message"`
}

// Sink ships every accepted object to a Kafka/Redpanda topic as a JSON
// record, keyed by the object's kind so a downstream consumer can
// partition by record type without inspecting the payload.
type Sink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// New constructs a kafka_output sink. Configuration:
// brokers (required) - seed broker addresses.
// topic (required) - topic to produce to.
func New(kw map[string]any) (module.Sink, error) {
	brokers, err := kwargs.StringSlice(kw, "brokers", nil)
	if err != nil {
		return nil, fmt.Errorf("op=kafkasink.New: %w", err)
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=kafkasink.New: brokers must name at least one seed broker")
	}
	topic, err := kwargs.RequiredString(kw, "topic")
	if err != nil {
		return nil, fmt.Errorf("op=kafkasink.New: %w", err)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("op=kafkasink.New: creating client: %w", err)
	}

	return &Sink{
		client: client,
		topic:  topic,
		logger: slog.Default(),
	}, nil
}

func init() {
	if err := registry.RegisterSink("kafka_output", func(kw map[string]any) (module.Sink, error) {
		return New(kw)
	}); err != nil {
		panic(err)
	}
}

// Accepts reports true for every object kind: unlike logstash_output,
// kafka_output is a general-purpose egress for any object that reaches it.
func (s *Sink) Accepts(object.Object) bool { return true }

// Handle produces in as a JSON record on the configured topic. Errors are
// logged, never fatal — matching spec §4.5/§7's "log and treat as no
// output" handler contract.
func (s *Sink) Handle(ctx context.Context, in object.Object) {
	line, err := json.Marshal(wireMessage{Message: in.String()})
	if err != nil {
		s.logger.Error("failed to encode kafka message", "error", err)
		return
	}

	record := &kgo.Record{Topic: s.topic, Key: []byte(in.Kind()), Value: line}
	results := s.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		s.logger.Error("failed to produce to kafka", "topic", s.topic, "error", err)
	}
}

// Close releases the underlying Kafka client. Exercised by pipeline.Build
// when constructing a throwaway instance purely to read Accepts for a
// process-bound worker (internal/procbinding).
func (s *Sink) Close() error {
	s.client.Close()
	return nil
}
