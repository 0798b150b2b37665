package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/lofi/internal/schema"
)

// CompileSchema parses a CUE value into a Schema and validates it.
//
// The value is the schema struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`schema: {version: 1, tables: [...]}`)
//	s, err := CompileSchema(v.LookupPath(cue.ParsePath("schema")))
func CompileSchema(v cue.Value) (*schema.Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError("schema", err)
	}

	version, err := requiredInt(v, "schema", "version")
	if err != nil {
		return nil, err
	}

	s := &schema.Schema{Version: version}
	tablesVal := v.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, &CompileError{Field: "schema.tables", Message: "tables are required", Pos: v.Pos()}
	}
	iter, err := tablesVal.List()
	if err != nil {
		return nil, formatCUEError("schema.tables", err)
	}
	for i := 0; iter.Next(); i++ {
		t, err := compileTable(iter.Value(), fmt.Sprintf("schema.tables[%d]", i))
		if err != nil {
			return nil, err
		}
		s.Tables = append(s.Tables, t)
	}

	if err := schema.Validate(*s); err != nil {
		return nil, &CompileError{Field: "schema", Message: err.Error(), Pos: v.Pos()}
	}
	return s, nil
}

func compileTable(v cue.Value, field string) (schema.Table, error) {
	name, err := requiredString(v, field, "name")
	if err != nil {
		return schema.Table{}, err
	}
	cols, err := compileColumns(v.LookupPath(cue.ParsePath("columns")), field+".columns")
	if err != nil {
		return schema.Table{}, err
	}
	return schema.Table{Name: name, Columns: cols}, nil
}

func compileColumns(v cue.Value, field string) ([]schema.Column, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: field, Message: "columns are required", Pos: v.Pos()}
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(field, err)
	}

	var cols []schema.Column
	for i := 0; iter.Next(); i++ {
		c, err := compileColumn(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, nil
}

func compileColumn(v cue.Value, field string) (schema.Column, error) {
	var c schema.Column
	var err error

	if c.Name, err = requiredString(v, field, "name"); err != nil {
		return c, err
	}
	typ, err := requiredString(v, field, "type")
	if err != nil {
		return c, err
	}
	c.Type = schema.ColumnType(typ)
	if !c.Type.Valid() {
		return c, &CompileError{
			Field:   field + ".type",
			Message: fmt.Sprintf("unsupported column type %q (want string, number, boolean or date)", typ),
			Pos:     v.LookupPath(cue.ParsePath("type")).Pos(),
		}
	}

	flags := []struct {
		label string
		dst   *bool
	}{
		{"optional", &c.Optional},
		{"readonly", &c.ReadOnly},
		{"indexed", &c.Indexed},
		{"unique", &c.Unique},
	}
	for _, f := range flags {
		if *f.dst, err = optionalBool(v, field, f.label); err != nil {
			return c, err
		}
	}

	ts, err := optionalString(v, field, "timestamp")
	if err != nil {
		return c, err
	}
	c.Timestamp = schema.Timestamp(ts)
	return c, nil
}

func requiredString(v cue.Value, field, label string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(label))
	if !fv.Exists() {
		return "", &CompileError{Field: field + "." + label, Message: label + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(field+"."+label, err)
	}
	return s, nil
}

func optionalString(v cue.Value, field, label string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(label))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(field+"."+label, err)
	}
	return s, nil
}

func requiredInt(v cue.Value, field, label string) (int, error) {
	fv := v.LookupPath(cue.ParsePath(label))
	if !fv.Exists() {
		return 0, &CompileError{Field: field + "." + label, Message: label + " is required", Pos: v.Pos()}
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(field+"."+label, err)
	}
	return int(n), nil
}

func optionalBool(v cue.Value, field, label string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(label))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(field+"."+label, err)
	}
	return b, nil
}
