// Package localstore implements the local filesystem output endpoint
// (spec §4.6): it writes each DownloadedBlob's content to a file named by
// its SHA-256 digest, skipping digests already on disk.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kestrelio/recursid/internal/kwargs"
	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/registry"
)

// Sink writes DownloadedBlob content to outputDir/<sha256>.
type Sink struct {
	outputDir string
	logger    *slog.Logger
	module.KindSet
}

// New constructs a local_store sink. Configuration:
// output_dir (required) - directory DownloadedBlob content is written into.
func New(kw map[string]any) (module.Sink, error) {
	outputDir, err := kwargs.RequiredString(kw, "output_dir")
	if err != nil {
		return nil, fmt.Errorf("op=localstore.New: %w", err)
	}
	return &Sink{
		outputDir: outputDir,
		logger:    slog.Default(),
		KindSet:   module.NewKindSet(object.KindDownloadedBlob),
	}, nil
}

func init() {
	if err := registry.RegisterSink("local_store", func(kw map[string]any) (module.Sink, error) {
		return New(kw)
	}); err != nil {
		panic(err)
	}
}

// Handle writes blob.Data to outputDir/<sha256>, refusing to overwrite an
// existing file for that digest (the source's "xb" exclusive-create mode).
func (s *Sink) Handle(_ context.Context, in object.Object) {
	blob, ok := in.(*object.DownloadedBlob)
	if !ok {
		return
	}

	outputFile := filepath.Join(s.outputDir, blob.SHA256)
	f, err := os.OpenFile(outputFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			s.logger.Info("not outputting, file already exists", "path", outputFile)
			return
		}
		s.logger.Error("failed to open output file", "path", outputFile, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(blob.Data); err != nil {
		s.logger.Error("failed to write output file", "path", outputFile, "error", err)
		return
	}
	s.logger.Debug("wrote file", "path", outputFile)
}
