// Package telemetry provides structured logging, metrics, and the
// circuit-breaker primitive shared by the recursid modules.
package telemetry

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// SetupLogger configures a JSON slog logger. debug raises verbosity to
// slog.LevelDebug, matching the CLI's -d/--debug flag. Every line carries a
// run_id generated once per process so one pipeline run's log lines can be
// correlated across the process's own restarts or overlapping deployments.
func SetupLogger(service string, debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if debug {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(
		slog.String("service", service),
		slog.String("run_id", uuid.New().String()),
	)
}
