// Package filesource implements the file-based input endpoints (spec
// §4.5): reading a file line by line and emitting each non-empty line as a
// FluentdRecord, or a block of text as LogEntry lines.
package filesource

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kestrelio/recursid/internal/kwargs"
	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/registry"
)

// FluentdJSONFile emits one FluentdRecord per non-empty line of a file.
type FluentdJSONFile struct {
	filename string
	fluentdType string
}

// New constructs a fluentd_json_file producer. Configuration:
// filename (required) - path to the file to read.
// fluentd_type (optional, default "") - the Type field of every emitted record.
func New(kw map[string]any) (module.Producer, error) {
	filename, err := kwargs.RequiredString(kw, "filename")
	if err != nil {
		return nil, fmt.Errorf("op=filesource.New: %w", err)
	}
	fluentdType, err := kwargs.String(kw, "fluentd_type", "")
	if err != nil {
		return nil, fmt.Errorf("op=filesource.New: %w", err)
	}
	return &FluentdJSONFile{filename: filename, fluentdType: fluentdType}, nil
}

func init() {
	if err := registry.RegisterProducer("fluentd_json_file", func(kw map[string]any) (module.Producer, error) {
		return New(kw)
	}); err != nil {
		panic(err)
	}
}

// Run reads the file once and emits a FluentdRecord per non-empty line,
// then returns: a file source has no ongoing feed once fully read.
func (p *FluentdJSONFile) Run(ctx context.Context, emit func(object.Object), stillRunning func() bool) error {
	f, err := os.Open(p.filename)
	if err != nil {
		return fmt.Errorf("op=FluentdJSONFile.Run: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if !stillRunning() || ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		emit(&object.FluentdRecord{
			JSONRecord: object.JSONRecord{Fields: map[string]any{"input": line}},
			Type:       p.fluentdType,
		})
	}
	return scanner.Err()
}

// EmitLines emits each line of a configured block of text as a LogEntry.
type EmitLines struct {
	text string
}

// NewEmitLines constructs an emit_lines producer. Configuration:
// text (required) - the block of text to split into LogEntry lines.
func NewEmitLines(kw map[string]any) (module.Producer, error) {
	text, err := kwargs.RequiredString(kw, "text")
	if err != nil {
		return nil, fmt.Errorf("op=filesource.NewEmitLines: %w", err)
	}
	return &EmitLines{text: text}, nil
}

func init() {
	if err := registry.RegisterProducer("emit_lines", func(kw map[string]any) (module.Producer, error) {
		return NewEmitLines(kw)
	}); err != nil {
		panic(err)
	}
}

// Run emits every line of the configured text block, then returns.
func (p *EmitLines) Run(ctx context.Context, emit func(object.Object), stillRunning func() bool) error {
	for _, line := range strings.Split(p.text, "\n") {
		if !stillRunning() || ctx.Err() != nil {
			return nil
		}
		emit(&object.LogEntry{Line: line})
	}
	return nil
}
