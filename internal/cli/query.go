package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/engine"
	"github.com/roach88/lofi/internal/ir"
	"github.com/roach88/lofi/internal/queryir"
	"github.com/roach88/lofi/internal/schema"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Decl           string   // declarations directory
	Where          []string // col=value equality filters
	Sort           []string // col[:asc|desc] sort keys
	Limit          int
	Offset         int
	ExcludeDeleted bool
	Count          bool
}

// QueryResult holds the rows or count a query produced.
type QueryResult struct {
	Table   string           `json:"table"`
	Count   int              `json:"count"`
	Records []*engine.Record `json:"records,omitempty"`
}

func (r QueryResult) String() string {
	if r.Records == nil {
		return fmt.Sprintf("%d", r.Count)
	}
	var b strings.Builder
	for _, rec := range r.Records {
		data, err := rec.MarshalJSON()
		if err != nil {
			fmt.Fprintf(&b, "%s: %v\n", rec.ID, err)
			continue
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "(%d records)", r.Count)
	return b.String()
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "Fetch or count records in a table",
		Long: `Fetch or count records matching equality filters.

Filter values are parsed as the column's type; "null" matches a null
value. Deleted records are included unless --exclude-deleted is set.

Examples:
  lofi query users --decl ./decl --db app.db
  lofi query users --decl ./decl --where age=30 --sort name:desc --limit 10
  lofi query users --decl ./decl --where _status=deleted --count`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Decl, "decl", "", "declarations directory (required)")
	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "equality filter col=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Sort, "sort", nil, "sort key col[:asc|desc] (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of records to skip")
	cmd.Flags().BoolVar(&opts.ExcludeDeleted, "exclude-deleted", false, "exclude records marked deleted")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print the number of matching records only")
	_ = cmd.MarkFlagRequired("decl")

	return cmd
}

func runQuery(opts *QueryOptions, table string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	e, _, err := openEngine(cmd.Context(), opts.RootOptions, opts.Decl, cmd)
	if err != nil {
		return formatter.Fail("failed to open database", err)
	}
	defer e.Close()

	q, err := buildQuery(e, table, opts)
	if err != nil {
		return formatter.Fail("invalid query", err)
	}
	formatter.VerboseLog("Query: %s", queryir.String(queryir.AllOf(q.Descriptor().Where...)))

	ctx := cmd.Context()
	if opts.Count {
		n, err := q.Count(ctx)
		if err != nil {
			return formatter.Fail("query failed", err)
		}
		return formatter.Success(QueryResult{Table: table, Count: n})
	}

	records, err := q.Fetch(ctx)
	if err != nil {
		return formatter.Fail("query failed", err)
	}
	return formatter.Success(QueryResult{Table: table, Count: len(records), Records: records})
}

// buildQuery turns the command-line filters into a table query.
func buildQuery(e *engine.Engine, table string, opts *QueryOptions) (engine.TableQuery, error) {
	tbl, ok := e.Schema().Table(table)
	if !ok {
		return engine.TableQuery{}, dberr.Validationf(table, "", "unknown table %q", table)
	}

	var preds []queryir.Predicate
	for _, w := range opts.Where {
		p, err := parseWhere(tbl, w)
		if err != nil {
			return engine.TableQuery{}, err
		}
		preds = append(preds, p)
	}
	if opts.ExcludeDeleted {
		preds = append(preds, queryir.NotDeleted())
	}

	keys := make([]queryir.SortKey, 0, len(opts.Sort))
	for _, raw := range opts.Sort {
		k, err := parseSort(table, raw)
		if err != nil {
			return engine.TableQuery{}, err
		}
		keys = append(keys, k)
	}

	return e.Table(table).
		Query(preds...).
		SortBy(keys...).
		Take(opts.Limit).
		Skip(opts.Offset), nil
}

// parseWhere parses "col=value" using the column's type.
func parseWhere(tbl schema.Table, expr string) (queryir.Predicate, error) {
	col, raw, ok := strings.Cut(expr, "=")
	if !ok || col == "" {
		return nil, dberr.Validationf(tbl.Name, "", "invalid filter %q (want col=value)", expr)
	}
	switch col {
	case schema.ColumnID:
		return queryir.Eq(col, raw), nil
	case schema.ColumnStatus:
		st, err := ir.ParseStatus(raw)
		if err != nil {
			return nil, dberr.Validationf(tbl.Name, col, "%v", err)
		}
		return queryir.WithStatus(st), nil
	}

	c, ok := tbl.Column(col)
	if !ok {
		return nil, dberr.Validationf(tbl.Name, col, "unknown column %q", col)
	}
	v, err := ir.ParseText(raw, c.Type.Kind())
	if err != nil {
		return nil, dberr.Validationf(tbl.Name, col, "%v", err)
	}
	return queryir.Eq(col, v), nil
}

// parseSort parses "col", "col:asc" or "col:desc".
func parseSort(table, raw string) (queryir.SortKey, error) {
	col, dir, _ := strings.Cut(raw, ":")
	if col == "" {
		return queryir.SortKey{}, dberr.Validationf(table, "", "invalid sort key %q", raw)
	}
	switch dir {
	case "", "asc":
		return queryir.Asc(col), nil
	case "desc":
		return queryir.Desc(col), nil
	default:
		return queryir.SortKey{}, dberr.Validationf(table, col, "invalid sort direction in %q", raw)
	}
}
