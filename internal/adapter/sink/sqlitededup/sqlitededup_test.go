package sqlitededup

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kestrelio/recursid/internal/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	s, err := New(map[string]any{
		"db_filename": filepath.Join(t.TempDir(), "dedup.db"),
		"db_table":    "downloads",
	})
	require.NoError(t, err)
	return s.(*Sink)
}

func TestNewRejectsInvalidTableName(t *testing.T) {
	_, err := New(map[string]any{
		"db_filename": filepath.Join(t.TempDir(), "dedup.db"),
		"db_table":    "1invalid",
	})
	assert.Error(t, err)

	_, err = New(map[string]any{
		"db_filename": filepath.Join(t.TempDir(), "dedup.db"),
		"db_table":    "bad-name",
	})
	assert.Error(t, err)
}

func TestHandleInsertsNewEntryOnce(t *testing.T) {
	s := newTestSink(t)
	blob := &object.DownloadedBlob{URL: "http://example.com/x", SHA256: "abc"}

	s.Handle(context.Background(), blob)
	s.Handle(context.Background(), blob)

	var count int
	row := s.db.QueryRow("SELECT COUNT(*) FROM downloads WHERE url=? AND hash=?", blob.URL, blob.SHA256)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestAcceptsOnlyDownloadedBlob(t *testing.T) {
	s := newTestSink(t)
	assert.True(t, s.Accepts(&object.DownloadedBlob{}))
	assert.False(t, s.Accepts(&object.LogEntry{}))
}
