package schema

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/lofi/internal/dberr"
)

// Registry holds the current schema and enforces that registered versions
// strictly increase over its lifetime.
//
// Thread-safe: all methods may be called concurrently.
type Registry struct {
	mu      sync.RWMutex
	current *Schema
	hash    string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register validates s and makes its normalized form current.
// Fails with SchemaError when s is invalid or its version does not exceed
// the previously registered version.
func (r *Registry) Register(s Schema) error {
	if err := Validate(s); err != nil {
		return err
	}
	n := Normalize(s)
	h, err := Hash(n)
	if err != nil {
		return fmt.Errorf("hash schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && n.Version <= r.current.Version {
		return dberr.Schemaf("schema version %d does not exceed registered version %d",
			n.Version, r.current.Version)
	}
	r.current = &n
	r.hash = h
	return nil
}

// Current returns the registered schema.
// ok is false if nothing has been registered yet.
func (r *Registry) Current() (s Schema, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return Schema{}, false
	}
	return *r.current, true
}

// Version returns the registered version, or 0 when empty.
func (r *Registry) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return 0
	}
	return r.current.Version
}

// Hash returns the registered schema hash, or "" when empty.
func (r *Registry) Hash() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hash
}

// Table returns the named table of the registered schema.
// Unknown tables are a ValidationError: callers hit this on reads and writes.
func (r *Registry) Table(name string) (Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return Table{}, dberr.Schemaf("no schema registered")
	}
	t, ok := r.current.Table(name)
	if !ok {
		return Table{}, dberr.Validationf(name, "", "unknown table %q", name)
	}
	return t, nil
}

// Materializer creates physical storage for declared tables.
// EnsureTable must be idempotent: existing tables gain any missing columns
// and indexes, and stored rows are left untouched.
type Materializer interface {
	EnsureTable(ctx context.Context, t Table) error
}

// Materialize validates s and asks m to ensure every declared table exists.
func Materialize(ctx context.Context, m Materializer, s Schema) error {
	if err := Validate(s); err != nil {
		return err
	}
	for _, t := range Normalize(s).Tables {
		if err := m.EnsureTable(ctx, t); err != nil {
			return fmt.Errorf("materialize table %q: %w", t.Name, err)
		}
	}
	return nil
}
