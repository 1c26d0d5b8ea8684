// Package registry holds the process-wide, partitioned mapping of module
// name to module class (spec §3 "Registry"). Registration validates that a
// class belongs to its partition and rejects the reserved funnel class from
// public registration.
package registry

import (
	"fmt"
	"sync"

	"github.com/kestrelio/recursid/internal/funnel"
	"github.com/kestrelio/recursid/internal/module"
)

// ProducerFactory builds a Producer from its configured keyword arguments.
type ProducerFactory func(kwargs map[string]any) (module.Producer, error)

// TransformerFactory builds a Transformer from its configured keyword arguments.
type TransformerFactory func(kwargs map[string]any) (module.Transformer, error)

// SinkFactory builds a Sink from its configured keyword arguments.
type SinkFactory func(kwargs map[string]any) (module.Sink, error)

var (
	mu           sync.RWMutex
	producers    = map[string]ProducerFactory{}
	transformers = map[string]TransformerFactory{}
	sinks        = map[string]SinkFactory{}
)

// RegisterProducer adds name to the producer table. Registering the
// reserved funnel name is always rejected.
func RegisterProducer(name string, f ProducerFactory) error {
	if name == funnel.Name {
		return fmt.Errorf("registry: %q is the reserved funnel class and cannot be registered", name)
	}
	mu.Lock()
	defer mu.Unlock()
	producers[name] = f
	return nil
}

// RegisterTransformer adds name to the transformer table.
func RegisterTransformer(name string, f TransformerFactory) error {
	if name == funnel.Name {
		return fmt.Errorf("registry: %q is the reserved funnel class and cannot be registered", name)
	}
	mu.Lock()
	defer mu.Unlock()
	transformers[name] = f
	return nil
}

// RegisterSink adds name to the sink table.
func RegisterSink(name string, f SinkFactory) error {
	if name == funnel.Name {
		return fmt.Errorf("registry: %q is the reserved funnel class and cannot be registered", name)
	}
	mu.Lock()
	defer mu.Unlock()
	sinks[name] = f
	return nil
}

// LookupProducer resolves a configured producer module name.
func LookupProducer(name string) (ProducerFactory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := producers[name]
	if !ok {
		return nil, fmt.Errorf("input endpoint module not found: %s", name)
	}
	return f, nil
}

// LookupTransformer resolves a configured transformer (reemitter) module name.
func LookupTransformer(name string) (TransformerFactory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := transformers[name]
	if !ok {
		return nil, fmt.Errorf("reemitter module not found: %s", name)
	}
	return f, nil
}

// LookupSink resolves a configured sink (output endpoint) module name.
func LookupSink(name string) (SinkFactory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := sinks[name]
	if !ok {
		return nil, fmt.Errorf("output endpoint module not found: %s", name)
	}
	return f, nil
}
