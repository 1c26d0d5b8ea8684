// Command recursid runs the recursive, TTL-bounded, type-fanout
// data-processing pipeline described by a JSON configuration document.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kestrelio/recursid/internal/config"
	"github.com/kestrelio/recursid/internal/pipeline"
	"github.com/kestrelio/recursid/internal/procbinding"
	"github.com/kestrelio/recursid/internal/telemetry"

	// Adapter packages register themselves into internal/registry on
	// import; the CLI never references their exported names directly.
	_ "github.com/kestrelio/recursid/internal/adapter/sink/kafkasink"
	_ "github.com/kestrelio/recursid/internal/adapter/sink/localstore"
	_ "github.com/kestrelio/recursid/internal/adapter/sink/logstash"
	_ "github.com/kestrelio/recursid/internal/adapter/sink/s3store"
	_ "github.com/kestrelio/recursid/internal/adapter/sink/smtpalert"
	_ "github.com/kestrelio/recursid/internal/adapter/sink/sqlitededup"
	_ "github.com/kestrelio/recursid/internal/adapter/sink/stdoutlog"
	_ "github.com/kestrelio/recursid/internal/adapter/source/filesource"
	_ "github.com/kestrelio/recursid/internal/adapter/source/fluentdzmq"
	_ "github.com/kestrelio/recursid/internal/adapter/source/kafkasource"
	_ "github.com/kestrelio/recursid/internal/adapter/transform/downloader"
	_ "github.com/kestrelio/recursid/internal/adapter/transform/urlextract"
	_ "github.com/kestrelio/recursid/internal/adapter/transform/virustotal"
)

// cli is the kong-parsed command line, spec §6: one positional config path
// (or "-" for stdin), -d/--debug, and --template (handled separately below,
// since its "KEY VAL KEY VAL ..." grammar has no kong equivalent).
type cli struct {
	ConfigPath string `arg:"" name:"config" default:"-" help:"Path to the JSON pipeline configuration document, or - for stdin."`
	Debug      bool   `short:"d" help:"Raise log verbosity to debug."`
}

const metricsAddr = ":9090"

func main() {
	os.Exit(run())
}

func run() int {
	// A process-bound worker (internal/procbinding, spec §5) re-execs this
	// same binary with a hidden flag ahead of anything kong would parse; it
	// never touches config.Load, the registry blank imports above are what
	// let it resolve its one module by name.
	if len(os.Args) > 1 && os.Args[1] == procbinding.FlagName {
		return runWorker(os.Args[2:])
	}

	kongArgs, templateTokens := splitTemplateFlag(os.Args[1:])

	var c cli
	parser, err := kong.New(&c,
		kong.Name("recursid"),
		kong.Description("Recursive, TTL-bounded, type-fanout data-processing pipeline."),
		kong.Exit(func(int) {}), // we own the process exit code
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if _, err := parser.Parse(kongArgs); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	templateVars, err := config.ParseTemplateArgs(templateTokens)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := telemetry.SetupLogger("recursid", c.Debug)

	doc, err := config.Load(c.ConfigPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		return 1
	}
	if err := doc.ApplyTemplate(templateVars); err != nil {
		logger.Error("template substitution failed", "error", err)
		return 1
	}

	p, err := pipeline.Build(doc, c.Debug, logger)
	if err != nil {
		logger.Error("pipeline construction failed", "error", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	telemetry.InitMetrics()
	go func() {
		if err := telemetry.Serve(ctx, metricsAddr); err != nil {
			logger.Error("metrics server exited", "error", err)
		}
	}()

	p.Start(ctx)
	p.Run(ctx, nil)
	return 0
}

// runWorker hands off to internal/procbinding for a re-exec'd process-bound
// worker. It never parses the pipeline config, never starts the metrics
// server, and exits as soon as its single module's Run loop returns (spec
// §4.4's dispatcher/lifecycle concerns are entirely the parent's).
func runWorker(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := procbinding.RunWorker(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// splitTemplateFlag extracts the flat "--template KEY VAL KEY VAL ..." run
// of tokens from args: kong's flag grammar has no notion of a flag followed
// by a variable-length run of bare values, so it is pulled out before
// handing the rest to kong.Parse.
func splitTemplateFlag(args []string) (remaining []string, templateTokens []string) {
	for i := 0; i < len(args); i++ {
		if args[i] != "--template" {
			remaining = append(remaining, args[i])
			continue
		}
		j := i + 1
		for j < len(args) && !strings.HasPrefix(args[j], "-") {
			templateTokens = append(templateTokens, args[j])
			j++
		}
		i = j - 1
	}
	return remaining, templateTokens
}
