package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/migration"
	"github.com/roach88/lofi/internal/querysql"
	"github.com/roach88/lofi/internal/schema"
)

func ident(name string) string { return querysql.Ident(name) }

// sqlType maps a column type to its SQLite storage type.
func sqlType(t schema.ColumnType) string {
	switch t {
	case schema.TypeNumber:
		return "REAL"
	case schema.TypeBoolean, schema.TypeDate:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// zeroValue is the backfill for a required column added to existing rows.
func zeroValue(t schema.ColumnType) any {
	switch t {
	case schema.TypeNumber:
		return float64(0)
	case schema.TypeBoolean, schema.TypeDate:
		return int64(0)
	default:
		return ""
	}
}

func createTableSQL(t schema.Table) string {
	defs := []string{
		ident(schema.ColumnID) + " TEXT PRIMARY KEY NOT NULL",
		ident(schema.ColumnStatus) + " TEXT NOT NULL",
		ident(schema.ColumnChanged) + " TEXT NOT NULL DEFAULT '[]'",
	}
	for _, c := range t.Columns {
		defs = append(defs, ident(c.Name)+" "+sqlType(c.Type))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", ident(t.Name), strings.Join(defs, ",\n\t"))
}

// indexSQL returns the index statements for declared and reserved columns.
func indexSQL(t schema.Table) []string {
	stmts := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
			ident("idx_"+t.Name+"_status"), ident(t.Name), ident(schema.ColumnStatus)),
	}
	for _, c := range t.Columns {
		stmts = append(stmts, columnIndexSQL(t.Name, c)...)
	}
	return stmts
}

func columnIndexSQL(table string, c schema.Column) []string {
	var stmts []string
	if c.Unique {
		stmts = append(stmts, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s(%s)",
			ident("uq_"+table+"_"+c.Name), ident(table), ident(c.Name)))
	} else if c.Indexed {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
			ident("idx_"+table+"_"+c.Name), ident(table), ident(c.Name)))
	}
	return stmts
}

func tableExists(ctx context.Context, q queryer, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", name, err)
	}
	return n > 0, nil
}

// tableColumns returns the physical columns of a table, name to declared type.
func tableColumns(ctx context.Context, q queryer, name string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", ident(name)))
	if err != nil {
		return nil, fmt.Errorf("table info %q: %w", name, err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var (
			cid        int
			colName    string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("scan table info %q: %w", name, err)
		}
		cols[strings.ToLower(colName)] = strings.ToUpper(colType)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info %q: %w", name, err)
	}
	return cols, nil
}

func createTable(ctx context.Context, q queryer, t schema.Table) error {
	if _, err := q.ExecContext(ctx, createTableSQL(t)); err != nil {
		return fmt.Errorf("create table %q: %w", t.Name, err)
	}
	for _, stmt := range indexSQL(t) {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return mapConstraint(t.Name, fmt.Errorf("create index on %q: %w", t.Name, err))
		}
	}
	return nil
}

func addColumn(ctx context.Context, q queryer, table string, c schema.Column) error {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", ident(table), ident(c.Name), sqlType(c.Type))
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add column %q.%q: %w", table, c.Name, err)
	}
	if !c.Optional {
		fill := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s IS NULL", ident(table), ident(c.Name), ident(c.Name))
		if _, err := q.ExecContext(ctx, fill, zeroValue(c.Type)); err != nil {
			return fmt.Errorf("backfill column %q.%q: %w", table, c.Name, err)
		}
	}
	for _, idx := range columnIndexSQL(table, c) {
		if _, err := q.ExecContext(ctx, idx); err != nil {
			return mapConstraint(table, fmt.Errorf("index column %q.%q: %w", table, c.Name, err))
		}
	}
	return nil
}

// EnsureTable creates t if missing, adds missing declared columns and
// indexes, and leaves stored rows untouched. Implements schema.Materializer.
func (s *Store) EnsureTable(ctx context.Context, t schema.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ensure table %q: begin tx: %w", t.Name, err)
	}
	defer tx.Rollback() // No-op if committed

	exists, err := tableExists(ctx, tx, t.Name)
	if err != nil {
		return err
	}
	if !exists {
		if err := createTable(ctx, tx, t); err != nil {
			return err
		}
		return tx.Commit()
	}

	cols, err := tableColumns(ctx, tx, t.Name)
	if err != nil {
		return err
	}
	for _, c := range t.Columns {
		stored, ok := cols[strings.ToLower(c.Name)]
		if !ok {
			if err := addColumn(ctx, tx, t.Name, c); err != nil {
				return err
			}
			continue
		}
		if stored != sqlType(c.Type) {
			return dberr.Schemaf("column %q.%q is stored as %s but declared %s",
				t.Name, c.Name, stored, c.Type)
		}
	}
	for _, stmt := range indexSQL(t) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return mapConstraint(t.Name, fmt.Errorf("create index on %q: %w", t.Name, err))
		}
	}
	return tx.Commit()
}

// txDDL runs migration steps on an open transaction.
type txDDL struct {
	tx *sql.Tx
}

func (d *txDDL) CreateTable(ctx context.Context, t schema.Table) error {
	return createTable(ctx, d.tx, t)
}

func (d *txDDL) AddColumn(ctx context.Context, table string, c schema.Column) error {
	exists, err := tableExists(ctx, d.tx, table)
	if err != nil {
		return err
	}
	if !exists {
		return dberr.Migrationf("add column %q: table %q does not exist", c.Name, table)
	}
	return addColumn(ctx, d.tx, table, c)
}

// Migrate runs fn in one transaction and records version as the applied
// schema version before committing. Implements migration.Target.
func (s *Store) Migrate(ctx context.Context, version int, fn func(ctx context.Context, ddl migration.DDL) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate to version %d: begin tx: %w", version, err)
	}
	defer tx.Rollback() // No-op if committed

	current, _, err := readMeta(ctx, tx, metaSchemaVersion)
	if err != nil {
		return err
	}
	if cur, _ := strconv.Atoi(current); cur >= version {
		return dberr.Migrationf("stored schema version %d is not below %d", cur, version)
	}

	if err := fn(ctx, &txDDL{tx: tx}); err != nil {
		return err
	}
	if err := writeMeta(ctx, tx, metaSchemaVersion, strconv.Itoa(version)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to version %d: commit: %w", version, err)
	}
	return nil
}
