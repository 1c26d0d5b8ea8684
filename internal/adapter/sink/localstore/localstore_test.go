package localstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrelio/recursid/internal/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresOutputDir(t *testing.T) {
	_, err := New(map[string]any{})
	assert.Error(t, err)
}

func TestHandleWritesFileNamedByDigest(t *testing.T) {
	dir := t.TempDir()
	s, err := New(map[string]any{"output_dir": dir})
	require.NoError(t, err)

	blob := &object.DownloadedBlob{SHA256: "abc123", Data: []byte("hello")}
	s.(*Sink).Handle(context.Background(), blob)

	got, err := os.ReadFile(filepath.Join(dir, "abc123"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestHandleSkipsExistingDigest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc123"), []byte("original"), 0o644))

	s, err := New(map[string]any{"output_dir": dir})
	require.NoError(t, err)

	blob := &object.DownloadedBlob{SHA256: "abc123", Data: []byte("overwrite")}
	s.(*Sink).Handle(context.Background(), blob)

	got, err := os.ReadFile(filepath.Join(dir, "abc123"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}

func TestAcceptsOnlyDownloadedBlob(t *testing.T) {
	s, err := New(map[string]any{"output_dir": t.TempDir()})
	require.NoError(t, err)
	assert.True(t, s.Accepts(&object.DownloadedBlob{}))
	assert.False(t, s.Accepts(&object.LogEntry{}))
}
