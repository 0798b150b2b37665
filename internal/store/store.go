package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/schema"
)

// Metadata keys in lofi_metadata.
const (
	metaSchemaVersion = "schema_version"
	metaSchemaHash    = "schema_hash"
)

// Catalog resolves logical table definitions. *schema.Registry implements it.
type Catalog interface {
	Table(name string) (schema.Table, error)
}

// Store provides durable record storage.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db      *sql.DB
	path    string
	catalog Catalog
	ids     IDGenerator
	now     func() time.Time
}

type options struct {
	busyTimeout time.Duration
	readConns   int
	catalog     Catalog
	ids         IDGenerator
	now         func() time.Time
}

// Option configures Open.
type Option func(*options)

// WithBusyTimeout sets how long a connection waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithReadConns sets the number of pooled connections available to readers
// in addition to the single writer connection.
func WithReadConns(n int) Option {
	return func(o *options) { o.readConns = n }
}

// WithCatalog sets the table definitions record operations resolve against.
func WithCatalog(c Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithIDGenerator replaces the UUIDv7 record id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithClock replaces the wall clock used for timestamp columns.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Open creates or opens a SQLite database at the given path and ensures the
// metadata table exists. In-memory databases are not supported because each
// pooled connection would see its own database.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - busy timeout for lock contention (default 5 seconds)
//   - Foreign key enforcement
func Open(path string, opts ...Option) (*Store, error) {
	o := options{
		busyTimeout: 5 * time.Second,
		readConns:   4,
		ids:         UUIDv7Generator{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if path == "" || path == ":memory:" {
		return nil, fmt.Errorf("open database: a file path is required")
	}
	if o.readConns < 1 {
		o.readConns = 1
	}

	db, err := sql.Open("sqlite3", dsn(path, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One writer plus the read pool.
	db.SetMaxOpenConns(o.readConns + 1)
	db.SetMaxIdleConns(o.readConns + 1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + ident(schema.MetadataTable) + ` (
		key TEXT PRIMARY KEY NOT NULL,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create metadata table: %w", err)
	}

	return &Store{db: db, path: path, catalog: o.catalog, ids: o.ids, now: o.now}, nil
}

// dsn builds a mattn/go-sqlite3 URI. Per-connection pragmas go in the DSN
// so every pooled connection gets them.
func dsn(path string, busy time.Duration) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// applyPragmas re-asserts database-wide settings.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SchemaVersion returns the applied schema version, or 0 for a fresh
// database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	v, ok, err := readMeta(ctx, s.db, metaSchemaVersion)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("corrupt schema version %q: %w", v, err)
	}
	return n, nil
}

// SchemaHash returns the hash of the applied schema, or "" if unset.
func (s *Store) SchemaHash(ctx context.Context) (string, error) {
	v, _, err := readMeta(ctx, s.db, metaSchemaHash)
	return v, err
}

// SetSchemaMeta records the applied schema version and hash atomically.
func (s *Store) SetSchemaMeta(ctx context.Context, version int, hash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set schema meta: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := writeMeta(ctx, tx, metaSchemaVersion, strconv.Itoa(version)); err != nil {
		return err
	}
	if err := writeMeta(ctx, tx, metaSchemaHash, hash); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set schema meta: commit: %w", err)
	}
	return nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readMeta(ctx context.Context, q queryer, key string) (string, bool, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT value FROM `+ident(schema.MetadataTable)+` WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read metadata %q: %w", key, err)
	}
	return v, true, nil
}

func writeMeta(ctx context.Context, q queryer, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO `+ident(schema.MetadataTable)+` (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("write metadata %q: %w", key, err)
	}
	return nil
}

// table resolves a logical table through the catalog.
func (s *Store) table(name string) (schema.Table, error) {
	if s.catalog == nil {
		return schema.Table{}, dberr.Schemaf("no schema registered")
	}
	return s.catalog.Table(name)
}

// mapConstraint turns SQLite constraint failures into ConstraintErrors.
func mapConstraint(table string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return dberr.Constraint(table, err)
	}
	return err
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
