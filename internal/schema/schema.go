package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/ir"
)

// Reserved physical names.
const (
	ColumnID      = "id"
	ColumnStatus  = "_status"
	ColumnChanged = "_changed"
	MetadataTable = "lofi_metadata"
)

// ColumnType is a primitive column type.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeBoolean ColumnType = "boolean"
	TypeDate    ColumnType = "date"
)

// Kind returns the ir kind values of this column type carry.
func (t ColumnType) Kind() ir.Kind {
	switch t {
	case TypeString:
		return ir.KindString
	case TypeNumber:
		return ir.KindNumber
	case TypeBoolean:
		return ir.KindBool
	case TypeDate:
		return ir.KindDate
	default:
		return ir.KindNull
	}
}

// Valid reports whether t is a supported column type.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeDate:
		return true
	}
	return false
}

// Timestamp tags a column maintained by the record store.
type Timestamp string

const (
	TimestampNone    Timestamp = ""
	TimestampCreated Timestamp = "created"
	TimestampUpdated Timestamp = "updated"
)

// Column is a single column definition.
type Column struct {
	Name      string     `yaml:"name" json:"name"`
	Type      ColumnType `yaml:"type" json:"type"`
	Optional  bool       `yaml:"optional,omitempty" json:"optional,omitempty"`
	ReadOnly  bool       `yaml:"readonly,omitempty" json:"readonly,omitempty"`
	Indexed   bool       `yaml:"indexed,omitempty" json:"indexed,omitempty"`
	Unique    bool       `yaml:"unique,omitempty" json:"unique,omitempty"`
	Timestamp Timestamp  `yaml:"timestamp,omitempty" json:"timestamp,omitempty"`
}

// Table is a named, ordered set of columns.
type Table struct {
	Name    string   `yaml:"name" json:"name"`
	Columns []Column `yaml:"columns" json:"columns"`
}

// Column looks up a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the declared column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Schema is a versioned set of tables.
type Schema struct {
	Version int     `yaml:"version" json:"version"`
	Tables  []Table `yaml:"tables" json:"tables"`
}

// Table looks up a table by name.
func (s Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// TableNames returns the declared table names in declaration order.
func (s Schema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that a schema is self-consistent.
// Returns a SchemaError describing the first problem found.
func Validate(s Schema) error {
	if s.Version < 1 {
		return dberr.Schemaf("version must be a positive integer, got %d", s.Version)
	}
	if len(s.Tables) == 0 {
		return dberr.Schemaf("schema must declare at least one table")
	}

	seen := make(map[string]bool, len(s.Tables))
	for i, t := range s.Tables {
		if err := ValidateTable(t); err != nil {
			return fmt.Errorf("tables[%d]: %w", i, err)
		}
		key := strings.ToLower(t.Name)
		if seen[key] {
			return dberr.Schemaf("duplicate table name %q", t.Name)
		}
		seen[key] = true
	}
	return nil
}

// ValidateTable checks a single table definition.
// Table and column names compare case-insensitively, as SQLite does.
func ValidateTable(t Table) error {
	if err := validateTableName(t.Name); err != nil {
		return err
	}
	if len(t.Columns) == 0 {
		return dberr.Schemaf("table %q must declare at least one column", t.Name)
	}

	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if err := ValidateColumn(t.Name, c); err != nil {
			return err
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return dberr.Schemaf("table %q: duplicate column name %q", t.Name, c.Name)
		}
		seen[key] = true
	}
	return nil
}

// ValidateColumn checks a single column definition belonging to table.
func ValidateColumn(table string, c Column) error {
	if c.Name == "" {
		return dberr.Schemaf("table %q: column name is required", table)
	}
	if !identPattern.MatchString(c.Name) {
		return dberr.Schemaf("table %q: invalid column name %q", table, c.Name)
	}
	if strings.EqualFold(c.Name, ColumnID) || strings.HasPrefix(c.Name, "_") {
		return dberr.Schemaf("table %q: column name %q is reserved", table, c.Name)
	}
	if !c.Type.Valid() {
		return dberr.Schemaf("table %q: column %q has unsupported type %q", table, c.Name, c.Type)
	}
	switch c.Timestamp {
	case TimestampNone:
	case TimestampCreated, TimestampUpdated:
		if c.Type != TypeNumber && c.Type != TypeDate {
			return dberr.Schemaf("table %q: timestamp column %q must be number or date", table, c.Name)
		}
	default:
		return dberr.Schemaf("table %q: column %q has unknown timestamp kind %q", table, c.Name, c.Timestamp)
	}
	return nil
}

func validateTableName(name string) error {
	if name == "" {
		return dberr.Schemaf("table name is required")
	}
	if !identPattern.MatchString(name) {
		return dberr.Schemaf("invalid table name %q", name)
	}
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "lofi_") || strings.HasPrefix(lower, "sqlite_") {
		return dberr.Schemaf("table name %q is reserved", name)
	}
	return nil
}

// Normalize returns a copy of s with inferred column metadata filled in.
// Slices are copied so the caller's schema is never mutated.
func Normalize(s Schema) Schema {
	out := Schema{Version: s.Version, Tables: make([]Table, len(s.Tables))}
	for i, t := range s.Tables {
		out.Tables[i] = NormalizeTable(t)
	}
	return out
}

// NormalizeTable returns a copy of t with inferred column metadata.
func NormalizeTable(t Table) Table {
	out := Table{Name: t.Name, Columns: make([]Column, len(t.Columns))}
	for i, c := range t.Columns {
		out.Columns[i] = NormalizeColumn(c)
	}
	return out
}

// NormalizeColumn infers timestamp tags for the conventional
// created_at/updated_at columns. Timestamp columns are read-only.
func NormalizeColumn(c Column) Column {
	if c.Timestamp == TimestampNone && (c.Type == TypeNumber || c.Type == TypeDate) {
		switch c.Name {
		case "created_at":
			c.Timestamp = TimestampCreated
		case "updated_at":
			c.Timestamp = TimestampUpdated
		}
	}
	if c.Timestamp != TimestampNone {
		c.ReadOnly = true
	}
	return c
}

// Hash returns a stable content hash of the normalized schema.
func Hash(s Schema) (string, error) {
	n := Normalize(s)
	tables := make([]any, len(n.Tables))
	for i, t := range n.Tables {
		cols := make([]any, len(t.Columns))
		for j, c := range t.Columns {
			cols[j] = map[string]any{
				"name":      c.Name,
				"type":      string(c.Type),
				"optional":  c.Optional,
				"readonly":  c.ReadOnly,
				"indexed":   c.Indexed,
				"unique":    c.Unique,
				"timestamp": string(c.Timestamp),
			}
		}
		tables[i] = map[string]any{"name": t.Name, "columns": cols}
	}
	return ir.HashWithDomain(ir.DomainSchema, map[string]any{
		"version": n.Version,
		"tables":  tables,
	})
}
