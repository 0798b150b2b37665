package queryir

import (
	"fmt"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/ir"
	"github.com/roach88/lofi/internal/schema"
)

// ColumnID names the record identifier in predicates and sort keys.
const ColumnID = schema.ColumnID

// Validate checks q against table t.
func Validate(q Query, t schema.Table) error {
	_, err := Resolve(q, t)
	return err
}

// Resolve checks q against table t and returns a copy whose predicate
// values are ir.Values of the referenced column's kind.
// Errors are ValidationErrors naming the offending column.
func Resolve(q Query, t schema.Table) (Query, error) {
	if q.Table != t.Name {
		return Query{}, dberr.Validationf(q.Table, "", "query table %q does not match %q", q.Table, t.Name)
	}
	if q.Limit < 0 {
		return Query{}, dberr.Validationf(t.Name, "", "limit must not be negative, got %d", q.Limit)
	}
	if q.Offset < 0 {
		return Query{}, dberr.Validationf(t.Name, "", "offset must not be negative, got %d", q.Offset)
	}

	r := resolver{table: t}
	out := q.clone()
	for i, p := range out.Where {
		rp, err := r.predicate(p)
		if err != nil {
			return Query{}, err
		}
		out.Where[i] = rp
	}
	for _, k := range out.Sort {
		if _, err := r.kind(k.Column); err != nil {
			return Query{}, err
		}
	}
	return out, nil
}

type resolver struct {
	table schema.Table
}

// kind returns the value kind of a queryable column.
func (r resolver) kind(column string) (ir.Kind, error) {
	if column == ColumnID {
		return ir.KindString, nil
	}
	c, ok := r.table.Column(column)
	if !ok {
		return ir.KindNull, dberr.Validationf(r.table.Name, column, "unknown column %q", column)
	}
	return c.Type.Kind(), nil
}

func (r resolver) value(column string, k ir.Kind, v any) (ir.Value, error) {
	val, err := ir.Coerce(v, k)
	if err != nil {
		return nil, dberr.Validationf(r.table.Name, column, "column %q: %v", column, err)
	}
	if !ir.Valid(val) {
		return nil, dberr.Validationf(r.table.Name, column, "column %q: number must be finite", column)
	}
	return val, nil
}

func (r resolver) predicate(p Predicate) (Predicate, error) {
	switch pred := p.(type) {
	case Compare:
		return r.compare(pred)
	case *Compare:
		if pred == nil {
			return nil, r.nilPredicate()
		}
		return r.compare(*pred)
	case In:
		return r.in(pred)
	case *In:
		if pred == nil {
			return nil, r.nilPredicate()
		}
		return r.in(*pred)
	case And:
		preds, err := r.all(pred.Predicates)
		return And{Predicates: preds}, err
	case *And:
		if pred == nil {
			return nil, r.nilPredicate()
		}
		preds, err := r.all(pred.Predicates)
		return And{Predicates: preds}, err
	case Or:
		preds, err := r.all(pred.Predicates)
		return Or{Predicates: preds}, err
	case *Or:
		if pred == nil {
			return nil, r.nilPredicate()
		}
		preds, err := r.all(pred.Predicates)
		return Or{Predicates: preds}, err
	case StatusIs:
		return r.status(pred)
	case *StatusIs:
		if pred == nil {
			return nil, r.nilPredicate()
		}
		return r.status(*pred)
	case nil:
		return nil, r.nilPredicate()
	default:
		return nil, dberr.Validationf(r.table.Name, "", "unsupported predicate type %T", p)
	}
}

func (r resolver) nilPredicate() error {
	return dberr.Validationf(r.table.Name, "", "predicate is nil")
}

func (r resolver) all(preds []Predicate) ([]Predicate, error) {
	out := make([]Predicate, len(preds))
	for i, p := range preds {
		rp, err := r.predicate(p)
		if err != nil {
			return nil, err
		}
		out[i] = rp
	}
	return out, nil
}

func (r resolver) compare(c Compare) (Predicate, error) {
	if !c.Op.Valid() {
		return nil, dberr.Validationf(r.table.Name, c.Column, "unknown operator %q", c.Op)
	}
	k, err := r.kind(c.Column)
	if err != nil {
		return nil, err
	}
	v, err := r.value(c.Column, k, c.Value)
	if err != nil {
		return nil, err
	}
	if c.Op.Ordered() && ir.IsNull(v) {
		return nil, dberr.Validationf(r.table.Name, c.Column, "operator %s cannot compare against null", c.Op)
	}
	if k == ir.KindBool && c.Op.Ordered() {
		return nil, dberr.Validationf(r.table.Name, c.Column, "operator %s is not defined for boolean column %q", c.Op, c.Column)
	}
	return Compare{Column: c.Column, Op: c.Op, Value: v}, nil
}

func (r resolver) in(in In) (Predicate, error) {
	k, err := r.kind(in.Column)
	if err != nil {
		return nil, err
	}
	if len(in.Values) == 0 {
		return nil, dberr.Validationf(r.table.Name, in.Column, "IN list for column %q is empty", in.Column)
	}
	values := make([]any, len(in.Values))
	for i, raw := range in.Values {
		v, err := r.value(in.Column, k, raw)
		if err != nil {
			return nil, err
		}
		if ir.IsNull(v) {
			return nil, dberr.Validationf(r.table.Name, in.Column, "IN list for column %q contains null", in.Column)
		}
		values[i] = v
	}
	return In{Column: in.Column, Values: values, Negate: in.Negate}, nil
}

func (r resolver) status(s StatusIs) (Predicate, error) {
	if len(s.Statuses) == 0 {
		return nil, dberr.Validationf(r.table.Name, schema.ColumnStatus, "status list is empty")
	}
	for _, st := range s.Statuses {
		if _, err := ir.ParseStatus(string(st)); err != nil {
			return nil, dberr.Validationf(r.table.Name, schema.ColumnStatus, "%v", err)
		}
	}
	return StatusIs{Statuses: append([]ir.Status(nil), s.Statuses...), Negate: s.Negate}, nil
}

// String renders a predicate for logs and error messages.
func String(p Predicate) string {
	switch pred := p.(type) {
	case Compare:
		return fmt.Sprintf("%s %s %v", pred.Column, pred.Op, pred.Value)
	case In:
		if pred.Negate {
			return fmt.Sprintf("%s not in %v", pred.Column, pred.Values)
		}
		return fmt.Sprintf("%s in %v", pred.Column, pred.Values)
	case And:
		return fmt.Sprintf("and%v", stringsOf(pred.Predicates))
	case Or:
		return fmt.Sprintf("or%v", stringsOf(pred.Predicates))
	case StatusIs:
		if pred.Negate {
			return fmt.Sprintf("status not in %v", pred.Statuses)
		}
		return fmt.Sprintf("status in %v", pred.Statuses)
	default:
		return fmt.Sprintf("%T", p)
	}
}

func stringsOf(preds []Predicate) []string {
	out := make([]string, len(preds))
	for i, p := range preds {
		out[i] = String(p)
	}
	return out
}
