package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// connPragmas are applied to every connection. The credential tables are tiny,
// so the page cache stays small.
var connPragmas = []string{
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
	"cache_size(-8000)",
}

// DB holds the credential database behind two pools. The writer is limited to
// a single connection so whole-state saves never hit "database is locked";
// the reader serves Load.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
	path   string
}

// NewDB opens the on-disk database at dbPath in WAL mode.
func NewDB(ctx context.Context, dbPath string) (*DB, error) {
	return openDB(ctx, dbPath, buildDSN(dbPath, append([]string{"journal_mode(WAL)"}, connPragmas...)))
}

// Path returns the database file the DB was opened on.
func (db *DB) Path() string { return db.path }

func buildDSN(target string, pragmas []string, params ...string) string {
	query := make([]string, 0, len(pragmas)+len(params))
	query = append(query, params...)
	for _, p := range pragmas {
		query = append(query, "_pragma="+p)
	}
	return fmt.Sprintf("file:%s?%s", target, strings.Join(query, "&"))
}

func openDB(ctx context.Context, path, dsn string) (*DB, error) {
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if err := writer.PingContext(ctx); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(2)

	if err := reader.PingContext(ctx); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	return &DB{Writer: writer, Reader: reader, path: path}, nil
}

// Close closes both reader and writer connections. Returns the first error encountered.
func (db *DB) Close() error {
	var firstErr error

	if err := db.Reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}

	if err := db.Writer.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close writer: %w", err)
	}

	return firstErr
}
