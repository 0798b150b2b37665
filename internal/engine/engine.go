package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/migration"
	"github.com/roach88/lofi/internal/schema"
	"github.com/roach88/lofi/internal/store"
)

// WriteMode selects how a writer behaves while another write is open.
type WriteMode string

const (
	// WriteModeQueue waits for the open write to finish (default).
	WriteModeQueue WriteMode = "queue"

	// WriteModeFailFast fails immediately with dberr.ErrWriteBusy.
	WriteModeFailFast WriteMode = "fail-fast"
)

// ParseWriteMode parses a configured write mode. Empty means queue.
func ParseWriteMode(s string) (WriteMode, error) {
	switch WriteMode(s) {
	case "", WriteModeQueue:
		return WriteModeQueue, nil
	case WriteModeFailFast:
		return WriteModeFailFast, nil
	default:
		return "", fmt.Errorf("unknown write mode %q (want queue or fail-fast)", s)
	}
}

// Engine owns one database: its schema, its single logical writer and its
// live observations.
//
// Thread-safety: all methods are safe for concurrent use.
type Engine struct {
	store    *store.Store
	registry *schema.Registry
	schema   schema.Schema
	logger   *slog.Logger
	clock    *Clock
	hub      *hub
	mode     WriteMode

	// writeSem has capacity 1; holding its slot is holding the writer.
	writeSem chan struct{}

	previous  int
	closing   chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

type options struct {
	logger *slog.Logger
	mode   WriteMode
	store  []store.Option
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the engine's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithWriteMode sets the behavior of concurrent writers. Default: queue.
func WithWriteMode(m WriteMode) Option {
	return func(o *options) { o.mode = m }
}

// WithIDGenerator replaces the UUIDv7 record id generator.
func WithIDGenerator(g store.IDGenerator) Option {
	return func(o *options) { o.store = append(o.store, store.WithIDGenerator(g)) }
}

// WithNow replaces the wall clock used for timestamp columns.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.store = append(o.store, store.WithClock(now)) }
}

// WithReadConns sets the size of the read connection pool.
func WithReadConns(n int) Option {
	return func(o *options) { o.store = append(o.store, store.WithReadConns(n)) }
}

// WithBusyTimeout sets the SQLite busy timeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.store = append(o.store, store.WithBusyTimeout(d)) }
}

// Open opens the database at path and brings it to schema s.
//
// A fresh database is materialized directly at s. An existing database is
// upgraded through ms by the migration runner, one version per
// transaction. A stored version above s.Version, a missing migration or a
// failed step returns an error and no engine: the database is left at the
// last fully applied version.
func Open(ctx context.Context, path string, s schema.Schema, ms []migration.Migration, opts ...Option) (*Engine, error) {
	o := options{
		logger: slog.Default(),
		mode:   WriteModeQueue,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if _, err := ParseWriteMode(string(o.mode)); err != nil {
		return nil, err
	}

	reg := schema.NewRegistry()
	if err := reg.Register(s); err != nil {
		return nil, err
	}
	normalized, _ := reg.Current()

	st, err := store.Open(path, append([]store.Option{store.WithCatalog(reg)}, o.store...)...)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:    st,
		registry: reg,
		schema:   normalized,
		logger:   o.logger,
		clock:    NewClock(),
		hub:      newHub(),
		mode:     o.mode,
		writeSem: make(chan struct{}, 1),
		closing:  make(chan struct{}),
	}
	if err := e.prepare(ctx, ms); err != nil {
		st.Close()
		return nil, err
	}

	e.logger.Info("engine opened",
		"path", path,
		"schema_version", normalized.Version,
		"write_mode", string(e.mode),
	)
	return e, nil
}

// prepare materializes or migrates physical storage to e.schema.
func (e *Engine) prepare(ctx context.Context, ms []migration.Migration) error {
	target := e.schema
	hash := e.registry.Hash()

	stored, err := e.store.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	storedHash, err := e.store.SchemaHash(ctx)
	if err != nil {
		return fmt.Errorf("read schema hash: %w", err)
	}
	e.previous = stored

	if stored == 0 {
		e.logger.Info("materializing schema", "version", target.Version, "tables", len(target.Tables))
		if err := schema.Materialize(ctx, e.store, target); err != nil {
			return err
		}
		return e.store.SetSchemaMeta(ctx, target.Version, hash)
	}

	if stored == target.Version && storedHash != "" && storedHash != hash {
		return dberr.Schemaf("schema version %d differs from the stored schema of the same version; declare a new version and a migration", stored)
	}

	applied, err := migration.Apply(ctx, e.store, stored, target, ms)
	if err != nil {
		e.logger.Error("migration failed",
			"from", stored,
			"to", target.Version,
			"applied", applied,
			"error", err,
		)
		return err
	}
	if applied != stored {
		e.logger.Info("schema migrated", "from", stored, "to", applied)
	}

	// Verifies stored column types and adds declared indexes.
	if err := schema.Materialize(ctx, e.store, target); err != nil {
		return err
	}
	if applied == stored && storedHash == hash {
		return nil
	}
	return e.store.SetSchemaMeta(ctx, target.Version, hash)
}

// Close releases every observation and closes the database.
// Close waits for an open write to finish; it must not be called from
// inside a write function. Subsequent calls return the first result.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.closing)
		e.writeSem <- struct{}{}
		e.hub.close()
		e.closeErr = e.store.Close()
		e.logger.Info("engine closed", "seq", e.clock.Current())
	})
	return e.closeErr
}

func (e *Engine) checkOpen() error {
	if e.closed.Load() {
		return errClosed()
	}
	return nil
}

func errClosed() error {
	return dberr.ErrClosed
}

// Schema returns the normalized schema the engine runs at.
func (e *Engine) Schema() schema.Schema {
	return e.schema
}

// Version returns the schema version the engine runs at.
func (e *Engine) Version() int {
	return e.schema.Version
}

// PreviousVersion returns the stored schema version found at Open,
// 0 for a fresh database.
func (e *Engine) PreviousVersion() int {
	return e.previous
}

// Hash returns the hash of the engine's schema.
func (e *Engine) Hash() string {
	return e.registry.Hash()
}

// Path returns the database file path.
func (e *Engine) Path() string {
	return e.store.Path()
}

// Seq returns the sequence number of the last commit.
func (e *Engine) Seq() int64 {
	return e.clock.Current()
}

// Observers returns the number of live observations.
func (e *Engine) Observers() int {
	return e.hub.Len()
}
