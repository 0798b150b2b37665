// Package querysql compiles queryir queries to parameterized SQLite SQL.
//
// Every query is ordered: the caller's sort keys come first and the record
// id (COLLATE BINARY) always breaks ties. Values are always bound as
// parameters and never interpolated.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/lofi/internal/ir"
	"github.com/roach88/lofi/internal/queryir"
	"github.com/roach88/lofi/internal/schema"
)

// Ident quotes an identifier for SQLite.
func Ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Columns returns the physical column list of a table in select order:
// the reserved columns followed by the declared columns.
func Columns(t schema.Table) []string {
	cols := []string{schema.ColumnID, schema.ColumnStatus, schema.ColumnChanged}
	return append(cols, t.ColumnNames()...)
}

// Compile resolves q against t and returns a SELECT over Columns(t).
func Compile(q queryir.Query, t schema.Table) (string, []any, error) {
	rq, err := queryir.Resolve(q, t)
	if err != nil {
		return "", nil, err
	}

	quoted := make([]string, 0, len(t.Columns)+3)
	for _, c := range Columns(t) {
		quoted = append(quoted, Ident(c))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(" FROM ")
	b.WriteString(Ident(t.Name))

	params, err := writeWhere(&b, rq.Where)
	if err != nil {
		return "", nil, err
	}
	writeOrderBy(&b, rq.Sort)
	params = writePage(&b, rq, params)
	return b.String(), params, nil
}

// CompileCount resolves q against t and returns a SELECT COUNT(*).
// Pagination bounds apply to the counted set.
func CompileCount(q queryir.Query, t schema.Table) (string, []any, error) {
	rq, err := queryir.Resolve(q, t)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	paged := rq.Limit > 0 || rq.Offset > 0
	if paged {
		b.WriteString("SELECT COUNT(*) FROM (SELECT ")
		b.WriteString(Ident(schema.ColumnID))
		b.WriteString(" FROM ")
	} else {
		b.WriteString("SELECT COUNT(*) FROM ")
	}
	b.WriteString(Ident(t.Name))

	params, err := writeWhere(&b, rq.Where)
	if err != nil {
		return "", nil, err
	}
	if paged {
		writeOrderBy(&b, rq.Sort)
		params = writePage(&b, rq, params)
		b.WriteString(")")
	}
	return b.String(), params, nil
}

func writeWhere(b *strings.Builder, preds []queryir.Predicate) ([]any, error) {
	if len(preds) == 0 {
		return []any{}, nil
	}
	sql, params, err := compilePredicate(queryir.And{Predicates: preds})
	if err != nil {
		return nil, err
	}
	b.WriteString(" WHERE ")
	b.WriteString(sql)
	return params, nil
}

// writeOrderBy always ends with the id tie-break.
func writeOrderBy(b *strings.Builder, keys []queryir.SortKey) {
	b.WriteString(" ORDER BY ")
	for _, k := range keys {
		if k.Column == schema.ColumnID {
			continue
		}
		b.WriteString(Ident(k.Column))
		if k.Desc {
			b.WriteString(" DESC, ")
		} else {
			b.WriteString(" ASC, ")
		}
	}
	b.WriteString(Ident(schema.ColumnID))
	if idDesc(keys) {
		b.WriteString(" DESC COLLATE BINARY")
	} else {
		b.WriteString(" ASC COLLATE BINARY")
	}
}

// idDesc reports whether an explicit id sort key asked for descending order.
func idDesc(keys []queryir.SortKey) bool {
	for _, k := range keys {
		if k.Column == schema.ColumnID {
			return k.Desc
		}
	}
	return false
}

func writePage(b *strings.Builder, q queryir.Query, params []any) []any {
	switch {
	case q.Limit > 0:
		b.WriteString(" LIMIT ?")
		params = append(params, int64(q.Limit))
	case q.Offset > 0:
		b.WriteString(" LIMIT -1")
	default:
		return params
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET ?")
		params = append(params, int64(q.Offset))
	}
	return params
}

func compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Compare:
		return compileCompare(pred)
	case queryir.In:
		return compileIn(pred)
	case queryir.And:
		return compileJunction(pred.Predicates, " AND ", "1 = 1")
	case queryir.Or:
		return compileJunction(pred.Predicates, " OR ", "1 = 0")
	case queryir.StatusIs:
		return compileStatus(pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

var comparisonOps = map[queryir.Op]string{
	queryir.OpEq:  "=",
	queryir.OpNeq: "IS NOT",
	queryir.OpGt:  ">",
	queryir.OpGte: ">=",
	queryir.OpLt:  "<",
	queryir.OpLte: "<=",
}

func compileCompare(c queryir.Compare) (string, []any, error) {
	v, ok := c.Value.(ir.Value)
	if !ok {
		return "", nil, fmt.Errorf("unresolved value for column %q: %T", c.Column, c.Value)
	}
	col := Ident(c.Column)
	if ir.IsNull(v) {
		switch c.Op {
		case queryir.OpEq:
			return col + " IS NULL", []any{}, nil
		case queryir.OpNeq:
			return col + " IS NOT NULL", []any{}, nil
		}
		return "", nil, fmt.Errorf("operator %s cannot compare against null", c.Op)
	}
	op, ok := comparisonOps[c.Op]
	if !ok {
		return "", nil, fmt.Errorf("unknown operator %q", c.Op)
	}
	return fmt.Sprintf("%s %s ?", col, op), []any{Param(v)}, nil
}

func compileIn(in queryir.In) (string, []any, error) {
	placeholders := make([]string, len(in.Values))
	params := make([]any, len(in.Values))
	for i, raw := range in.Values {
		v, ok := raw.(ir.Value)
		if !ok {
			return "", nil, fmt.Errorf("unresolved value for column %q: %T", in.Column, raw)
		}
		placeholders[i] = "?"
		params[i] = Param(v)
	}
	col := Ident(in.Column)
	list := strings.Join(placeholders, ", ")
	if in.Negate {
		return fmt.Sprintf("(%s IS NULL OR %s NOT IN (%s))", col, col, list), params, nil
	}
	return fmt.Sprintf("%s IN (%s)", col, list), params, nil
}

func compileJunction(preds []queryir.Predicate, sep, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, []any{}, nil
	}
	parts := make([]string, 0, len(preds))
	params := []any{}
	for _, p := range preds {
		sql, ps, err := compilePredicate(p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, ps...)
	}
	if len(parts) == 1 {
		return parts[0], params, nil
	}
	return "(" + strings.Join(parts, sep) + ")", params, nil
}

func compileStatus(s queryir.StatusIs) (string, []any, error) {
	placeholders := make([]string, len(s.Statuses))
	params := make([]any, len(s.Statuses))
	for i, st := range s.Statuses {
		placeholders[i] = "?"
		params[i] = string(st)
	}
	op := "IN"
	if s.Negate {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", Ident(schema.ColumnStatus), op, strings.Join(placeholders, ", ")), params, nil
}

// Param converts a value to its SQLite parameter form:
// strings as TEXT, numbers as REAL, booleans as 0/1, dates as epoch ms.
func Param(v ir.Value) any {
	switch val := v.(type) {
	case ir.String:
		return string(val)
	case ir.Number:
		return float64(val)
	case ir.Bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case ir.Date:
		return int64(val)
	default:
		return nil
	}
}
