package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const memoryPath = ":memory:"

// Options tune the SQLite connection. Zero values fall back to defaults.
type Options struct {
	// BusyTimeout is how long a writer waits on a locked database.
	BusyTimeout time.Duration
	// ConnMaxLifetime recycles the single connection; ignored for in-memory databases.
	ConnMaxLifetime time.Duration
}

// DefaultOptions suit the single-process trading core.
func DefaultOptions() Options {
	return Options{
		BusyTimeout:     5 * time.Second,
		ConnMaxLifetime: time.Hour,
	}
}

// Database holds the SQLite handle shared by the scheduler, manual monitor and API.
type Database struct {
	DB *sql.DB
}

// New opens (and creates if needed) the SQLite database at path with DefaultOptions.
func New(path string) (*Database, error) {
	return Open(path, DefaultOptions())
}

// Open opens the database at path. ":memory:" yields a private in-memory
// database that lives as long as the returned handle.
func Open(path string, opts Options) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultOptions().BusyTimeout
	}

	inMemory := path == memoryPath
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	handle, err := sql.Open("sqlite", dsn(path, inMemory, opts))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers; an in-memory database also dies with its connection.
	handle.SetMaxOpenConns(1)
	handle.SetMaxIdleConns(1)
	if inMemory {
		handle.SetConnMaxLifetime(0)
	} else {
		handle.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := handle.Ping(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &Database{DB: handle}, nil
}

// dsn builds the modernc connection string. Pragmas are applied per connection.
func dsn(path string, inMemory bool, opts Options) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	if !inMemory {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
