// Package postgres implements the driver.Driver capability for PostgreSQL,
// backed by jackc/pgx/v5 (via its database/sql-compatible stdlib adapter so
// the session manager can keep treating every back-end as a *sql.DB).
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/mantis/gatewayd/internal/driver"
)

// Driver implements driver.Driver for PostgreSQL.
type Driver struct{}

// New creates a new PostgreSQL driver.
func New() *Driver {
	return &Driver{}
}

func (d *Driver) Name() string { return "postgres" }

func (d *Driver) QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// Connect opens a PostgreSQL connection. Accepted schemes are postgres://,
// postgresql://, and pg:// (the last two are aliases normalized here).
func (d *Driver) Connect(ctx context.Context, connStr string, password string) (*sql.DB, driver.ConnectionInfo, error) {
	dsn := normalizeScheme(connStr)

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, driver.ConnectionInfo{}, fmt.Errorf("parse dsn: %w", err)
	}
	if password != "" {
		cfg.Password = password
	}

	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, driver.ConnectionInfo{}, fmt.Errorf("ping postgres: %w", err)
	}

	info := driver.ConnectionInfo{
		Driver:   "postgres",
		Database: cfg.Database,
		Host:     cfg.Host,
		Port:     int(cfg.Port),
		User:     cfg.User,
	}
	return db, info, nil
}

// normalizeScheme rewrites postgresql:// and pg:// to postgres:// so
// pgx.ParseConfig accepts the spec's recognized aliases.
func normalizeScheme(connStr string) string {
	if u, err := url.Parse(connStr); err == nil {
		switch u.Scheme {
		case "postgresql", "pg":
			u.Scheme = "postgres"
			return u.String()
		}
	}
	return connStr
}

func (d *Driver) Query(ctx context.Context, db *sql.DB, stmt string, args []interface{}) (*driver.ResultSet, error) {
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func (d *Driver) Exec(ctx context.Context, db *sql.DB, stmt string, args []interface{}) (int64, error) {
	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return -1, nil
	}
	return affected, nil
}

func (d *Driver) PaginatedQuery(ctx context.Context, db *sql.DB, table string, offset, limit int, orderBy string) (*driver.ResultSet, error) {
	schema, tbl, err := driver.SplitQualifiedTable(table)
	if err != nil {
		return nil, err
	}
	qualified := d.qualify(schema, tbl)

	order := ""
	if orderBy != "" {
		if err := driver.ValidateIdentifier(orderBy); err != nil {
			return nil, fmt.Errorf("invalid order column: %w", err)
		}
		order = " ORDER BY " + d.QuoteIdentifier(orderBy)
	}
	stmt := fmt.Sprintf("SELECT * FROM %s%s LIMIT $1 OFFSET $2", qualified, order)
	return d.Query(ctx, db, stmt, []interface{}{limit, offset})
}

func (d *Driver) qualify(schema, table string) string {
	if schema == "" {
		return d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

func (d *Driver) ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (d *Driver) GetTableSchema(ctx context.Context, db *sql.DB, table string) (*driver.Schema, error) {
	schema, tbl, err := driver.SplitQualifiedTable(table)
	if err != nil {
		return nil, err
	}
	if schema == "" {
		schema = "public"
	}

	colRows, err := db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, tbl)
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	defer colRows.Close()

	pkCols := make(map[string]bool)
	pkRows, err := db.QueryContext(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1 AND tc.table_name = $2`, schema, tbl)
	if err != nil {
		return nil, fmt.Errorf("primary key: %w", err)
	}
	defer pkRows.Close()
	for pkRows.Next() {
		var col string
		if err := pkRows.Scan(&col); err != nil {
			return nil, err
		}
		pkCols[col] = true
	}
	if err := pkRows.Err(); err != nil {
		return nil, err
	}

	var columns []driver.ColumnSchema
	for colRows.Next() {
		var name, dtype string
		var nullable bool
		if err := colRows.Scan(&name, &dtype, &nullable); err != nil {
			return nil, err
		}
		columns = append(columns, driver.ColumnSchema{
			Name: name, DataType: dtype, Nullable: nullable, PrimaryKey: pkCols[name],
		})
	}
	if err := colRows.Err(); err != nil {
		return nil, err
	}

	idxRows, err := db.QueryContext(ctx, `
		SELECT indexname, indexdef FROM pg_indexes
		WHERE schemaname = $1 AND tablename = $2`, schema, tbl)
	if err != nil {
		return nil, fmt.Errorf("indexes: %w", err)
	}
	defer idxRows.Close()

	var indexes []driver.IndexSchema
	for idxRows.Next() {
		var name, def string
		if err := idxRows.Scan(&name, &def); err != nil {
			return nil, err
		}
		indexes = append(indexes, driver.IndexSchema{
			Name:   name,
			Unique: strings.Contains(def, "UNIQUE"),
		})
	}
	if err := idxRows.Err(); err != nil {
		return nil, err
	}

	fkRows, err := db.QueryContext(ctx, `
		SELECT kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu ON tc.constraint_name = kcu.constraint_name
		JOIN information_schema.constraint_column_usage ccu ON tc.constraint_name = ccu.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1 AND tc.table_name = $2`, schema, tbl)
	if err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}
	defer fkRows.Close()

	var fks []driver.ForeignKeySchema
	for fkRows.Next() {
		var col, refTable, refCol string
		if err := fkRows.Scan(&col, &refTable, &refCol); err != nil {
			return nil, err
		}
		fks = append(fks, driver.ForeignKeySchema{Column: col, ReferencedTable: refTable, ReferencedColumn: refCol})
	}
	if err := fkRows.Err(); err != nil {
		return nil, err
	}

	return &driver.Schema{Columns: columns, Indexes: indexes, ForeignKeys: fks}, nil
}

// EstimateRowCount reads pg_class.reltuples, which tracks the planner's
// last-ANALYZE estimate rather than an exact live count.
func (d *Driver) EstimateRowCount(ctx context.Context, db *sql.DB, table string) (int64, error) {
	schema, tbl, err := driver.SplitQualifiedTable(table)
	if err != nil {
		return -1, err
	}
	if schema == "" {
		schema = "public"
	}
	var estimate float64
	err = db.QueryRowContext(ctx, `
		SELECT reltuples FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`, schema, tbl).Scan(&estimate)
	if err != nil || estimate < 0 {
		return -1, nil
	}
	return int64(estimate), nil
}

func (d *Driver) ExactRowCount(ctx context.Context, db *sql.DB, table string) (int64, error) {
	schema, tbl, err := driver.SplitQualifiedTable(table)
	if err != nil {
		return 0, err
	}
	var count int64
	err = db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", d.qualify(schema, tbl))).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

func (d *Driver) UpdateCell(ctx context.Context, db *sql.DB, table, column string, value interface{}, pk map[string]interface{}) error {
	schema, tbl, err := driver.SplitQualifiedTable(table)
	if err != nil {
		return err
	}
	if err := driver.ValidateIdentifier(column); err != nil {
		return err
	}
	where, args, err := whereClause(d, pk, 2)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s", d.qualify(schema, tbl), d.QuoteIdentifier(column), where)
	_, err = db.ExecContext(ctx, stmt, append([]interface{}{value}, args...)...)
	return err
}

func (d *Driver) DeleteRow(ctx context.Context, db *sql.DB, table string, pk map[string]interface{}) error {
	schema, tbl, err := driver.SplitQualifiedTable(table)
	if err != nil {
		return err
	}
	where, args, err := whereClause(d, pk, 1)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", d.qualify(schema, tbl), where)
	_, err = db.ExecContext(ctx, stmt, args...)
	return err
}

func (d *Driver) InsertRow(ctx context.Context, db *sql.DB, table string, values map[string]interface{}) error {
	schema, tbl, err := driver.SplitQualifiedTable(table)
	if err != nil {
		return err
	}
	cols, placeholders, args, err := insertParts(d, values)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.qualify(schema, tbl), cols, placeholders)
	_, err = db.ExecContext(ctx, stmt, args...)
	return err
}

// cancelHandle carries the pgconn-level cancel request, which must be
// issued on a fresh TCP connection, never the one currently blocked inside
// the query -- PostgreSQL's wire protocol requires this.
type cancelHandle struct {
	cancel func(context.Context) error
}

func (d *Driver) PrepareCancel(ctx context.Context, db *sql.DB) (driver.CancelHandle, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn for cancel: %w", err)
	}
	defer conn.Close()

	var cancel func(context.Context) error
	err = conn.Raw(func(raw interface{}) error {
		stdlibConn, ok := raw.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected connection type %T", raw)
		}
		pgConn := stdlibConn.Conn().PgConn()
		cancel = func(ctx context.Context) error {
			return pgConn.CancelRequest(ctx)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bind cancel hook: %w", err)
	}
	return &cancelHandle{cancel: cancel}, nil
}

func (d *Driver) CancelQuery(handle driver.CancelHandle) error {
	h, ok := handle.(*cancelHandle)
	if !ok || h == nil || h.cancel == nil {
		return fmt.Errorf("invalid cancel handle")
	}
	return h.cancel(context.Background())
}

func (d *Driver) FreeCancelHandle(handle driver.CancelHandle) {}

func (d *Driver) Close() error { return nil }

func scanRows(rows *sql.Rows) (*driver.ResultSet, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	columns := make([]driver.Column, len(colTypes))
	for i, ct := range colTypes {
		columns[i] = driver.Column{Name: ct.Name(), DataType: ct.DatabaseTypeName()}
	}

	var resultRows [][]driver.Cell
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]driver.Cell, len(values))
		for i, v := range values {
			row[i] = driver.ConvertValue(v)
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &driver.ResultSet{Columns: columns, Rows: resultRows}, nil
}

func whereClause(d *Driver, pk map[string]interface{}, startIndex int) (string, []interface{}, error) {
	if len(pk) == 0 {
		return "", nil, fmt.Errorf("primary key values required")
	}
	var parts []string
	var args []interface{}
	i := startIndex
	for col, val := range pk {
		if err := driver.ValidateIdentifier(col); err != nil {
			return "", nil, err
		}
		parts = append(parts, d.QuoteIdentifier(col)+" = $"+strconv.Itoa(i))
		args = append(args, val)
		i++
	}
	return strings.Join(parts, " AND "), args, nil
}

func insertParts(d *Driver, values map[string]interface{}) (cols, placeholders string, args []interface{}, err error) {
	if len(values) == 0 {
		return "", "", nil, fmt.Errorf("values required")
	}
	var colParts, phParts []string
	i := 1
	for col, val := range values {
		if err := driver.ValidateIdentifier(col); err != nil {
			return "", "", nil, err
		}
		colParts = append(colParts, d.QuoteIdentifier(col))
		phParts = append(phParts, "$"+strconv.Itoa(i))
		args = append(args, val)
		i++
	}
	return strings.Join(colParts, ", "), strings.Join(phParts, ", "), args, nil
}
