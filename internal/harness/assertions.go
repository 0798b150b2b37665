package harness

import (
	"fmt"
	"slices"
	"sort"

	"github.com/roach88/lofi/internal/ir"
	"github.com/roach88/lofi/internal/schema"
)

// check evaluates an expectation against a successful step's event.
// Returns one message per mismatch.
func (h *Harness) check(want *Expect, ev TraceEvent) []string {
	if want == nil {
		return nil
	}
	var errs []string

	if want.Status != "" || want.Changed != nil || len(want.Values) > 0 {
		if ev.Record == nil {
			errs = append(errs, "expected a record, step produced none")
		} else {
			errs = append(errs, h.checkRecord(want, ev.Table, ev.Record)...)
		}
	}

	if want.Count != nil {
		got, ok := countOf(ev)
		switch {
		case !ok:
			errs = append(errs, "expected a count, step produced none")
		case got != *want.Count:
			errs = append(errs, fmt.Sprintf("count: expected %d, got %d", *want.Count, got))
		}
	}

	if want.IDs != nil {
		if ev.Records == nil {
			errs = append(errs, "expected records, step produced none")
		} else if got := idsOf(ev.Records); !slices.Equal(got, want.IDs) {
			errs = append(errs, fmt.Sprintf("ids: expected %v, got %v", want.IDs, got))
		}
	}
	return errs
}

func (h *Harness) checkRecord(want *Expect, table string, rec map[string]any) []string {
	var errs []string
	if want.Status != "" && rec[schema.ColumnStatus] != want.Status {
		errs = append(errs, fmt.Sprintf("status: expected %s, got %v", want.Status, rec[schema.ColumnStatus]))
	}
	if want.Changed != nil {
		got, _ := rec[schema.ColumnChanged].([]string)
		if !slices.Equal(got, want.Changed) {
			errs = append(errs, fmt.Sprintf("changed: expected %v, got %v", want.Changed, got))
		}
	}
	if len(want.Values) > 0 {
		tbl, ok := h.engine.Schema().Table(table)
		if !ok {
			return append(errs, fmt.Sprintf("unknown table %q", table))
		}
		errs = append(errs, matchValues(tbl, rec, want.Values)...)
	}
	return errs
}

// matchValues checks that rec contains every expected column value (subset
// match). Expected values are coerced to the column's type first, so YAML
// integers match number columns and RFC 3339 strings match dates.
func matchValues(tbl schema.Table, rec map[string]any, want map[string]any) []string {
	cols := make([]string, 0, len(want))
	for col := range want {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var errs []string
	for _, col := range cols {
		if col == schema.ColumnID {
			if rec[col] != want[col] {
				errs = append(errs, fmt.Sprintf("values.id: expected %v, got %v", want[col], rec[col]))
			}
			continue
		}
		c, ok := tbl.Column(col)
		if !ok {
			errs = append(errs, fmt.Sprintf("values.%s: unknown column", col))
			continue
		}
		expected, err := ir.Coerce(want[col], c.Type.Kind())
		if err != nil {
			errs = append(errs, fmt.Sprintf("values.%s: %v", col, err))
			continue
		}
		actual, err := ir.Coerce(rec[col], c.Type.Kind())
		if err != nil {
			errs = append(errs, fmt.Sprintf("values.%s: %v", col, err))
			continue
		}
		if !ir.Equal(expected, actual) {
			errs = append(errs, fmt.Sprintf("values.%s: expected %v, got %v", col, ir.ToAny(expected), rec[col]))
		}
	}
	return errs
}

func countOf(ev TraceEvent) (int, bool) {
	switch {
	case ev.Count != nil:
		return *ev.Count, true
	case ev.Records != nil:
		return len(ev.Records), true
	}
	return 0, false
}

func idsOf(records []any) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if m, ok := r.(map[string]any); ok {
			id, _ := m[schema.ColumnID].(string)
			ids = append(ids, id)
		}
	}
	return ids
}
