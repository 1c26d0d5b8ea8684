// Package stdoutlog implements the log output endpoint (spec §4.6): it
// logs every LogEntry and DeathLog it receives at a configured level.
package stdoutlog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kestrelio/recursid/internal/kwargs"
	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/registry"
)

var levelByName = map[string]slog.Level{
	"DEBUG":    slog.LevelDebug,
	"INFO":     slog.LevelInfo,
	"WARN":     slog.LevelWarn,
	"ERROR":    slog.LevelError,
	"CRITICAL": slog.LevelError,
}

// Sink logs every accepted object at a fixed level.
type Sink struct {
	level  slog.Level
	logger *slog.Logger
	module.KindSet
}

// New constructs a log_output sink. Configuration:
// level (optional, default "INFO") - one of DEBUG, INFO, WARN, ERROR, CRITICAL.
func New(kw map[string]any) (module.Sink, error) {
	levelName, err := kwargs.String(kw, "level", "INFO")
	if err != nil {
		return nil, fmt.Errorf("op=stdoutlog.New: %w", err)
	}
	level, ok := levelByName[levelName]
	if !ok {
		return nil, fmt.Errorf("op=stdoutlog.New: invalid logging level %q", levelName)
	}
	return &Sink{
		level:   level,
		logger:  slog.Default(),
		KindSet: module.NewKindSet(object.KindLogEntry, object.KindDeathLog),
	}, nil
}

func init() {
	if err := registry.RegisterSink("log_output", func(kw map[string]any) (module.Sink, error) {
		return New(kw)
	}); err != nil {
		panic(err)
	}
}

// Handle logs in at the configured level.
func (s *Sink) Handle(ctx context.Context, in object.Object) {
	s.logger.Log(ctx, s.level, in.String())
}
