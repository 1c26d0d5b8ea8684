// Package sqlitededup implements the SQLite dedup output endpoint (spec
// §4.6): it remembers (hash, url) pairs for DownloadedBlob objects in a
// SQLite table, inserting only pairs it has not already recorded.
package sqlitededup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kestrelio/recursid/internal/kwargs"
	"github.com/kestrelio/recursid/internal/module"
	"github.com/kestrelio/recursid/internal/object"
	"github.com/kestrelio/recursid/internal/registry"
)

// validTableName matches the source's hand-rolled table-name check:
// letters, digits, and underscore only, not starting with a digit.
var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Sink records DownloadedBlob (hash, url) pairs in a SQLite table,
// creating it on first use if absent.
type Sink struct {
	db      *sql.DB
	table   string
	logger  *slog.Logger
	ensured bool
	module.KindSet
}

// New constructs a sqlite_dedup sink. Configuration:
// db_filename (required) - path to the SQLite database file.
// db_table (required) - table name; must match ^[A-Za-z_][A-Za-z0-9_]*$.
func New(kw map[string]any) (module.Sink, error) {
	dbFilename, err := kwargs.RequiredString(kw, "db_filename")
	if err != nil {
		return nil, fmt.Errorf("op=sqlitededup.New: %w", err)
	}
	table, err := kwargs.RequiredString(kw, "db_table")
	if err != nil {
		return nil, fmt.Errorf("op=sqlitededup.New: %w", err)
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("op=sqlitededup.New: table name %q is invalid: must start with a letter or "+
			"underscore and contain only letters, digits, and underscores", table)
	}

	db, err := sql.Open("sqlite", dbFilename)
	if err != nil {
		return nil, fmt.Errorf("op=sqlitededup.New: opening %q: %w", dbFilename, err)
	}

	return &Sink{
		db:      db,
		table:   table,
		logger:  slog.Default(),
		KindSet: module.NewKindSet(object.KindDownloadedBlob),
	}, nil
}

func init() {
	if err := registry.RegisterSink("sqlite_dedup", func(kw map[string]any) (module.Sink, error) {
		return New(kw)
	}); err != nil {
		panic(err)
	}
}

// Handle inserts (hash, url) into the table unless it is already present.
func (s *Sink) Handle(ctx context.Context, in object.Object) {
	blob, ok := in.(*object.DownloadedBlob)
	if !ok {
		return
	}

	if err := s.ensureTable(ctx); err != nil {
		s.logger.Error("failed to ensure table", "table", s.table, "error", err)
		return
	}

	var count int
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE url=? AND hash=?", s.table),
		blob.URL, blob.SHA256)
	if err := row.Scan(&count); err != nil {
		s.logger.Error("failed to query dedup table", "table", s.table, "error", err)
		return
	}
	if count > 0 {
		s.logger.Debug("entry already present, not adding", "url", blob.URL, "hash", blob.SHA256)
		return
	}

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (hash, url, insert_time) VALUES (?, ?, ?)", s.table),
		blob.SHA256, blob.URL, time.Now().UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		s.logger.Error("failed to insert dedup entry", "table", s.table, "error", err)
		return
	}
	s.logger.Debug("entry not present, added", "url", blob.URL, "hash", blob.SHA256)
}

func (s *Sink) ensureTable(ctx context.Context) error {
	if s.ensured {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (hash TEXT, url TEXT, insert_time TEXT)", s.table))
	if err != nil {
		return err
	}
	s.ensured = true
	return nil
}
