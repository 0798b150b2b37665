package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/ir"
	"github.com/roach88/lofi/internal/schema"
)

// Record is a snapshot of one stored row.
//
// Records are values: mutating storage never changes a Record already
// returned. Re-fetch by ID for current state.
type Record struct {
	ID      string
	Table   string
	Status  ir.Status
	changed []string
	values  ir.Object
}

// Get returns the value of a declared column. Unset columns read as Null.
func (r *Record) Get(column string) ir.Value {
	if v, ok := r.values[column]; ok && v != nil {
		return v
	}
	return ir.Null{}
}

// String returns a string column; ok is false for null or other kinds.
func (r *Record) String(column string) (s string, ok bool) {
	v, ok := r.Get(column).(ir.String)
	return string(v), ok
}

// Number returns a number column; ok is false for null or other kinds.
func (r *Record) Number(column string) (n float64, ok bool) {
	v, ok := r.Get(column).(ir.Number)
	return float64(v), ok
}

// Bool returns a boolean column; ok is false for null or other kinds.
func (r *Record) Bool(column string) (b bool, ok bool) {
	v, ok := r.Get(column).(ir.Bool)
	return bool(v), ok
}

// Time returns a date column; ok is false for null or other kinds.
func (r *Record) Time(column string) (t time.Time, ok bool) {
	v, ok := r.Get(column).(ir.Date)
	if !ok {
		return time.Time{}, false
	}
	return v.Time(), true
}

// Values returns a copy of the column values.
func (r *Record) Values() ir.Object {
	return r.values.Clone()
}

// ChangedFields returns the sorted names of columns dirtied since creation.
func (r *Record) ChangedFields() []string {
	return append([]string{}, r.changed...)
}

// IsDeleted reports whether the record is a tombstone.
func (r *Record) IsDeleted() bool {
	return r.Status == ir.StatusDeleted
}

// Equal reports whether two snapshots hold identical state.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.ID != o.ID || r.Table != o.Table || r.Status != o.Status {
		return false
	}
	if len(r.changed) != len(o.changed) {
		return false
	}
	for i := range r.changed {
		if r.changed[i] != o.changed[i] {
			return false
		}
	}
	keys := map[string]bool{}
	for k := range r.values {
		keys[k] = true
	}
	for k := range o.values {
		keys[k] = true
	}
	for k := range keys {
		if !ir.Equal(r.Get(k), o.Get(k)) {
			return false
		}
	}
	return true
}

// Map renders the record as plain Go values for JSON and YAML output:
// id, _status, _changed, and every column (nulls included).
func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.values)+3)
	m[schema.ColumnID] = r.ID
	m[schema.ColumnStatus] = string(r.Status)
	m[schema.ColumnChanged] = r.ChangedFields()
	for k, v := range r.values {
		m[k] = ir.ToAny(v)
	}
	return m
}

// MarshalJSON renders Map as canonical JSON.
func (r *Record) MarshalJSON() ([]byte, error) {
	return ir.MarshalCanonical(r.Map())
}

func (r *Record) clone() *Record {
	return &Record{
		ID:      r.ID,
		Table:   r.Table,
		Status:  r.Status,
		changed: append([]string{}, r.changed...),
		values:  r.values.Clone(),
	}
}

// Draft collects column assignments inside Create and Update.
//
// Set validates eagerly against the table's closed column set; the first
// failure sticks and is returned by the enclosing operation.
type Draft struct {
	table    schema.Table
	values   ir.Object
	touched  map[string]bool
	creating bool
	err      error
}

func newDraft(t schema.Table, values ir.Object, creating bool) *Draft {
	return &Draft{
		table:    t,
		values:   values,
		touched:  make(map[string]bool),
		creating: creating,
	}
}

// Set assigns v to column. v may be an ir.Value or a plain Go value
// (string, number, bool, time.Time, nil) convertible to the column's type.
func (d *Draft) Set(column string, v any) {
	if d.err != nil {
		return
	}
	c, ok := d.table.Column(column)
	if !ok {
		d.err = dberr.Validationf(d.table.Name, column, "unknown column %q", column)
		return
	}
	if c.ReadOnly && !d.creating {
		d.err = dberr.Validationf(d.table.Name, column, "column %q is read-only", column)
		return
	}
	val, err := ir.Coerce(v, c.Type.Kind())
	if err != nil {
		d.err = dberr.Validationf(d.table.Name, column, "column %q: %v", column, err)
		return
	}
	if !ir.Valid(val) {
		d.err = dberr.Validationf(d.table.Name, column, "column %q: number must be finite", column)
		return
	}
	if ir.IsNull(val) && !c.Optional {
		d.err = dberr.Validationf(d.table.Name, column, "column %q is required", column)
		return
	}
	d.values[column] = val
	d.touched[column] = true
}

// SetAll assigns every entry of values in column-name order.
func (d *Draft) SetAll(values map[string]any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.Set(k, values[k])
	}
}

// Get returns the draft's current value for column.
func (d *Draft) Get(column string) ir.Value {
	if v, ok := d.values[column]; ok && v != nil {
		return v
	}
	return ir.Null{}
}

// Err returns the first assignment error.
func (d *Draft) Err() error {
	return d.err
}

// touchedColumns returns the assigned column names in declaration order.
func (d *Draft) touchedColumns() []string {
	var cols []string
	for _, c := range d.table.Columns {
		if d.touched[c.Name] {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// stampTimestamps fills timestamp columns. On create, unset created and
// updated columns get now; on update, updated columns always get now.
func (d *Draft) stampTimestamps(now time.Time) {
	for _, c := range d.table.Columns {
		stamp := false
		switch c.Timestamp {
		case schema.TimestampCreated:
			stamp = d.creating && !d.touched[c.Name]
		case schema.TimestampUpdated:
			stamp = !d.creating || !d.touched[c.Name]
		}
		if !stamp {
			continue
		}
		d.values[c.Name] = timestampValue(c.Type, now)
		d.touched[c.Name] = true
	}
}

func timestampValue(t schema.ColumnType, now time.Time) ir.Value {
	if t == schema.TypeDate {
		return ir.NewDate(now)
	}
	return ir.Number(now.UnixMilli())
}

// checkRequired fails when a required column holds null.
func (d *Draft) checkRequired() error {
	for _, c := range d.table.Columns {
		if !c.Optional && ir.IsNull(d.Get(c.Name)) {
			return dberr.Validationf(d.table.Name, c.Name, "column %q is required", c.Name)
		}
	}
	return nil
}

// decodeColumn converts a scanned SQLite value to the column's kind.
func decodeColumn(raw any, c schema.Column) (ir.Value, error) {
	if raw == nil {
		return ir.Null{}, nil
	}
	switch c.Type {
	case schema.TypeString:
		switch v := raw.(type) {
		case string:
			return ir.String(v), nil
		case []byte:
			return ir.String(v), nil
		}
	case schema.TypeNumber:
		switch v := raw.(type) {
		case float64:
			return ir.Number(v), nil
		case int64:
			return ir.Number(v), nil
		}
	case schema.TypeBoolean:
		switch v := raw.(type) {
		case int64:
			return ir.Bool(v != 0), nil
		case bool:
			return ir.Bool(v), nil
		}
	case schema.TypeDate:
		switch v := raw.(type) {
		case int64:
			return ir.Date(v), nil
		case float64:
			return ir.Date(int64(v)), nil
		case time.Time:
			return ir.NewDate(v), nil
		}
	}
	return nil, fmt.Errorf("column %q: cannot decode %T as %s", c.Name, raw, c.Type)
}

func encodeChanged(fields []string) (string, error) {
	data, err := ir.MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("marshal changed fields: %w", err)
	}
	return string(data), nil
}

func decodeChanged(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return []string{}, nil
	}
	var fields []string
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, fmt.Errorf("unmarshal changed fields: %w", err)
	}
	return fields, nil
}

// unionSorted merges b into a, deduplicated and sorted.
func unionSorted(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		set[s] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
