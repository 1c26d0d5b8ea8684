// Package pipeline wires a validated config.Document into a runnable
// dispatcher and lifecycle controller: resolving every configured module
// name against the registry, constructing it, and assembling the handles
// the dispatcher and lifecycle controller operate on (spec §4.4 startup).
//
// Under the thread binding, construction is fully resolved before any
// worker goroutine is started: Build reports every configuration or
// construction error before Start launches a single goroutine. Under the
// process binding, Build spawns each module's child process as it reaches
// that module; if a later module fails, Build returns the error without
// sending DIE to the children already spawned.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kestrelio/recursid/internal/config"
	"github.com/kestrelio/recursid/internal/dispatcher"
	"github.com/kestrelio/recursid/internal/funnel"
	"github.com/kestrelio/recursid/internal/lifecycle"
	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/procbinding"
	"github.com/kestrelio/recursid/internal/registry"
)

// Pipeline bundles the dispatcher and lifecycle controller built from one
// configuration document.
type Pipeline struct {
	Dispatcher *dispatcher.Dispatcher
	Controller *lifecycle.Controller
}

// Build resolves and constructs every module named in doc, in order
// (producers, then transformers, then sinks), wiring them to a fresh
// dispatcher and lifecycle controller.
//
// debug is passed through to a worker's own logger when doc.ConcurrencyBinding
// is config.BindingProcess; it plays no role for config.BindingThread, which
// shares this process's logger directly.
func Build(doc config.Document, debug bool, logger *slog.Logger) (*Pipeline, error) {
	f := funnel.New(doc.StartTTL, logger)
	funnelWorker := lifecycle.NewWorker(
		dispatcher.HandleFor(funnel.Name, f.Base, func() bool { return true }, nil),
		func(ctx context.Context) { f.Run(ctx) },
	)

	var selfPath string
	if doc.ConcurrencyBinding == config.BindingProcess {
		p, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("op=pipeline.Build: resolving own executable for process binding: %w", err)
		}
		selfPath = p
	}
	b := builder{doc: doc, debug: debug, selfPath: selfPath, logger: logger}

	producers, producerHandles, err := b.buildProducers()
	if err != nil {
		return nil, err
	}
	transformers, transformerHandles, err := b.buildTransformers()
	if err != nil {
		return nil, err
	}
	sinks, sinkHandles, err := b.buildSinks()
	if err != nil {
		return nil, err
	}

	d := &dispatcher.Dispatcher{
		Producers:    producerHandles,
		Transformers: transformerHandles,
		Sinks:        sinkHandles,
		Funnel:       funnelWorker.Handle,
		Logger:       logger,
	}

	c := lifecycle.New(d, producers, transformers, sinks, funnelWorker, logger)
	return &Pipeline{Dispatcher: d, Controller: c}, nil
}

// builder carries the per-Build state buildProducers/buildTransformers/
// buildSinks share: which binding to construct workers under, and (for the
// process binding) the path to re-exec.
type builder struct {
	doc      config.Document
	debug    bool
	selfPath string
	logger   *slog.Logger
}

func (b *builder) buildProducers() ([]*lifecycle.Worker, []*dispatcher.Handle, error) {
	workers := make([]*lifecycle.Worker, 0, len(b.doc.InputEndpointModules))
	handles := make([]*dispatcher.Handle, 0, len(b.doc.InputEndpointModules))
	for _, spec := range b.doc.InputEndpointModules {
		if b.doc.ConcurrencyBinding == config.BindingProcess {
			h, run, err := procbinding.Spawn(b.selfPath, procbinding.RoleProducer, spec.Name, spec.Kwargs, b.doc.StartTTL, b.debug, b.logger)
			if err != nil {
				return nil, nil, fmt.Errorf("op=pipeline.Build: spawning producer %q: %w", spec.Name, err)
			}
			workers = append(workers, lifecycle.NewWorker(h, run))
			handles = append(handles, h)
			continue
		}
		factory, err := registry.LookupProducer(spec.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("op=pipeline.Build: %w", err)
		}
		p, err := factory(spec.Kwargs)
		if err != nil {
			return nil, nil, fmt.Errorf("op=pipeline.Build: constructing producer %q: %w", spec.Name, err)
		}
		base := module.NewBase(spec.Name, b.doc.StartTTL, b.logger)
		h := dispatcher.HandleFor(spec.Name, base, base.Dying, nil)
		workers = append(workers, lifecycle.NewWorker(h, func(ctx context.Context) { module.RunProducer(ctx, base, p) }))
		handles = append(handles, h)
	}
	return workers, handles, nil
}

func (b *builder) buildTransformers() ([]*lifecycle.Worker, []*dispatcher.Handle, error) {
	workers := make([]*lifecycle.Worker, 0, len(b.doc.ReemitterModules))
	handles := make([]*dispatcher.Handle, 0, len(b.doc.ReemitterModules))
	for _, spec := range b.doc.ReemitterModules {
		if b.doc.ConcurrencyBinding == config.BindingProcess {
			h, run, err := procbinding.Spawn(b.selfPath, procbinding.RoleTransformer, spec.Name, spec.Kwargs, b.doc.StartTTL, b.debug, b.logger)
			if err != nil {
				return nil, nil, fmt.Errorf("op=pipeline.Build: spawning reemitter %q: %w", spec.Name, err)
			}
			// Accepts must be evaluated dispatcher-side even for a
			// process-bound transformer, so a throwaway in-process instance
			// is still constructed purely to supply its Accepter — it never
			// runs, never touches its own queues.
			factory, err := registry.LookupTransformer(spec.Name)
			if err != nil {
				return nil, nil, fmt.Errorf("op=pipeline.Build: %w", err)
			}
			tf, err := factory(spec.Kwargs)
			if err != nil {
				return nil, nil, fmt.Errorf("op=pipeline.Build: constructing reemitter %q: %w", spec.Name, err)
			}
			h.Accepts = tf.Accepts
			closeIfCloser(tf)
			workers = append(workers, lifecycle.NewWorker(h, run))
			handles = append(handles, h)
			continue
		}
		factory, err := registry.LookupTransformer(spec.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("op=pipeline.Build: %w", err)
		}
		tf, err := factory(spec.Kwargs)
		if err != nil {
			return nil, nil, fmt.Errorf("op=pipeline.Build: constructing reemitter %q: %w", spec.Name, err)
		}
		base := module.NewBase(spec.Name, b.doc.StartTTL, b.logger)
		h := dispatcher.HandleFor(spec.Name, base, base.Dying, tf)
		workers = append(workers, lifecycle.NewWorker(h, func(ctx context.Context) { module.RunTransformer(ctx, base, tf) }))
		handles = append(handles, h)
	}
	return workers, handles, nil
}

func (b *builder) buildSinks() ([]*lifecycle.Worker, []*dispatcher.Handle, error) {
	workers := make([]*lifecycle.Worker, 0, len(b.doc.OutputEndpointModules))
	handles := make([]*dispatcher.Handle, 0, len(b.doc.OutputEndpointModules))
	for _, spec := range b.doc.OutputEndpointModules {
		if b.doc.ConcurrencyBinding == config.BindingProcess {
			h, run, err := procbinding.Spawn(b.selfPath, procbinding.RoleSink, spec.Name, spec.Kwargs, b.doc.StartTTL, b.debug, b.logger)
			if err != nil {
				return nil, nil, fmt.Errorf("op=pipeline.Build: spawning output endpoint %q: %w", spec.Name, err)
			}
			factory, err := registry.LookupSink(spec.Name)
			if err != nil {
				return nil, nil, fmt.Errorf("op=pipeline.Build: %w", err)
			}
			s, err := factory(spec.Kwargs)
			if err != nil {
				return nil, nil, fmt.Errorf("op=pipeline.Build: constructing output endpoint %q: %w", spec.Name, err)
			}
			h.Accepts = s.Accepts
			closeIfCloser(s)
			workers = append(workers, lifecycle.NewWorker(h, run))
			handles = append(handles, h)
			continue
		}
		factory, err := registry.LookupSink(spec.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("op=pipeline.Build: %w", err)
		}
		s, err := factory(spec.Kwargs)
		if err != nil {
			return nil, nil, fmt.Errorf("op=pipeline.Build: constructing output endpoint %q: %w", spec.Name, err)
		}
		base := module.NewBase(spec.Name, b.doc.StartTTL, b.logger)
		h := dispatcher.HandleFor(spec.Name, base, base.Dying, s)
		workers = append(workers, lifecycle.NewWorker(h, func(ctx context.Context) { module.RunSink(ctx, base, s) }))
		handles = append(handles, h)
	}
	return workers, handles, nil
}

// closeIfCloser releases a process-bound transformer/sink's shadow
// instance — constructed in this process only to read its Accepts method,
// never run — if it holds a real resource (a DB handle, an open socket).
func closeIfCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}

// Start launches every worker goroutine.
func (p *Pipeline) Start(ctx context.Context) {
	p.Controller.Start(ctx)
}

// Run drives the lifecycle controller until shutdown completes.
func (p *Pipeline) Run(ctx context.Context, shutdownRequested func() bool) {
	p.Controller.Run(ctx, shutdownRequested)
}
