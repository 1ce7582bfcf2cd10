// Package sqlite implements the driver.Driver capability for embedded SQLite
// databases, using the pure-Go modernc.org/sqlite driver so the daemon stays
// a single static binary with no cgo dependency.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/mantis/gatewayd/internal/driver"
)

// Driver implements driver.Driver for SQLite.
type Driver struct{}

// New creates a new SQLite driver.
func New() *Driver {
	return &Driver{}
}

func (d *Driver) Name() string { return "sqlite" }

func (d *Driver) QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// Connect opens a SQLite file. connStr is the filesystem path, optionally
// prefixed with "sqlite://", which is stripped here. password is unused.
func (d *Driver) Connect(ctx context.Context, connStr string, password string) (*sql.DB, driver.ConnectionInfo, error) {
	path := strings.TrimPrefix(connStr, "sqlite://")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, driver.ConnectionInfo{}, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer at a time; keep the pool to a single
	// connection so cancellation and interrupt semantics stay simple.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, driver.ConnectionInfo{}, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, driver.ConnectionInfo{
		Driver:   "sqlite",
		Database: path,
	}, nil
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
	if err := driver.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	order := ""
	if orderBy != "" {
		if err := driver.ValidateIdentifier(orderBy); err != nil {
			return nil, fmt.Errorf("invalid order column: %w", err)
		}
		order = " ORDER BY " + d.QuoteIdentifier(orderBy)
	}
	stmt := fmt.Sprintf("SELECT * FROM %s%s LIMIT ? OFFSET ?", d.QuoteIdentifier(table), order)
	return d.Query(ctx, db, stmt, []interface{}{limit, offset})
}

func (d *Driver) ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
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
	if err := driver.ValidateIdentifier(table); err != nil {
		return nil, err
	}

	colRows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", d.QuoteIdentifier(table)))
	if err != nil {
		return nil, fmt.Errorf("table_info: %w", err)
	}
	defer colRows.Close()

	var columns []driver.ColumnSchema
	for colRows.Next() {
		var cid int
		var name, dtype string
		var notNull, pk int
		var dflt sql.NullString
		if err := colRows.Scan(&cid, &name, &dtype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		columns = append(columns, driver.ColumnSchema{
			Name:       name,
			DataType:   dtype,
			Nullable:   notNull == 0,
			PrimaryKey: pk > 0,
		})
	}
	if err := colRows.Err(); err != nil {
		return nil, err
	}

	idxRows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", d.QuoteIdentifier(table)))
	if err != nil {
		return nil, fmt.Errorf("index_list: %w", err)
	}
	defer idxRows.Close()

	var indexes []driver.IndexSchema
	for idxRows.Next() {
		var seq int
		var name string
		var unique int
		var origin, partial string
		if err := idxRows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, err
		}
		cols, err := d.indexColumns(ctx, db, name)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, driver.IndexSchema{Name: name, Columns: cols, Unique: unique == 1})
	}
	if err := idxRows.Err(); err != nil {
		return nil, err
	}

	fkRows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", d.QuoteIdentifier(table)))
	if err != nil {
		return nil, fmt.Errorf("foreign_key_list: %w", err)
	}
	defer fkRows.Close()

	var fks []driver.ForeignKeySchema
	for fkRows.Next() {
		var id, seq int
		var refTable, from, to, onUpdate, onDelete, match string
		if err := fkRows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}
		fks = append(fks, driver.ForeignKeySchema{Column: from, ReferencedTable: refTable, ReferencedColumn: to})
	}
	if err := fkRows.Err(); err != nil {
		return nil, err
	}

	return &driver.Schema{Columns: columns, Indexes: indexes, ForeignKeys: fks}, nil
}

func (d *Driver) indexColumns(ctx context.Context, db *sql.DB, index string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", d.QuoteIdentifier(index)))
	if err != nil {
		return nil, fmt.Errorf("index_info: %w", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name string
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// EstimateRowCount reads sqlite_stat1, populated by ANALYZE. Returns -1 if
// the table has never been analyzed.
func (d *Driver) EstimateRowCount(ctx context.Context, db *sql.DB, table string) (int64, error) {
	if err := driver.ValidateIdentifier(table); err != nil {
		return -1, err
	}
	var stat string
	err := db.QueryRowContext(ctx, `SELECT stat FROM sqlite_stat1 WHERE tbl = ?`, table).Scan(&stat)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return -1, nil
	}
	var rowCount int64
	if _, scanErr := fmt.Sscanf(stat, "%d", &rowCount); scanErr != nil {
		return -1, nil
	}
	return rowCount, nil
}

func (d *Driver) ExactRowCount(ctx context.Context, db *sql.DB, table string) (int64, error) {
	if err := driver.ValidateIdentifier(table); err != nil {
		return 0, err
	}
	var count int64
	err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", d.QuoteIdentifier(table))).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

func (d *Driver) UpdateCell(ctx context.Context, db *sql.DB, table, column string, value interface{}, pk map[string]interface{}) error {
	if err := driver.ValidateIdentifier(table); err != nil {
		return err
	}
	if err := driver.ValidateIdentifier(column); err != nil {
		return err
	}
	where, args, err := whereClause(d, pk)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s", d.QuoteIdentifier(table), d.QuoteIdentifier(column), where)
	_, err = db.ExecContext(ctx, stmt, append([]interface{}{value}, args...)...)
	return err
}

func (d *Driver) DeleteRow(ctx context.Context, db *sql.DB, table string, pk map[string]interface{}) error {
	if err := driver.ValidateIdentifier(table); err != nil {
		return err
	}
	where, args, err := whereClause(d, pk)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", d.QuoteIdentifier(table), where)
	_, err = db.ExecContext(ctx, stmt, args...)
	return err
}

func (d *Driver) InsertRow(ctx context.Context, db *sql.DB, table string, values map[string]interface{}) error {
	if err := driver.ValidateIdentifier(table); err != nil {
		return err
	}
	cols, placeholders, args, err := insertParts(d, values)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.QuoteIdentifier(table), cols, placeholders)
	_, err = db.ExecContext(ctx, stmt, args...)
	return err
}

// cancelHandle bundles the connection's raw *sqlite3.conn interrupt method,
// captured via db.Conn + driver.Conn.Raw so CancelQuery can call it from a
// different goroutine than the one blocked inside the query.
type cancelHandle struct {
	mu        sync.Mutex
	interrupt func()
}

// PrepareCancel borrows the pool's single connection just long enough to
// capture its interrupt hook, then returns it to the pool so the query that
// follows runs on that same connection. Because SQLite serializes writers,
// this is the same mechanism the command-line shell uses for Ctrl-C.
func (d *Driver) PrepareCancel(ctx context.Context, db *sql.DB) (driver.CancelHandle, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn for cancel: %w", err)
	}
	defer conn.Close()
	h := &cancelHandle{}
	err = conn.Raw(func(raw interface{}) error {
		type interrupter interface{ Interrupt() }
		if in, ok := raw.(interrupter); ok {
			h.interrupt = in.Interrupt
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bind interrupt hook: %w", err)
	}
	return h, nil
}

func (d *Driver) CancelQuery(handle driver.CancelHandle) error {
	h, ok := handle.(*cancelHandle)
	if !ok || h == nil {
		return fmt.Errorf("invalid cancel handle")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.interrupt != nil {
		h.interrupt()
	}
	return nil
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

func whereClause(d *Driver, pk map[string]interface{}) (string, []interface{}, error) {
	if len(pk) == 0 {
		return "", nil, fmt.Errorf("primary key values required")
	}
	var parts []string
	var args []interface{}
	for col, val := range pk {
		if err := driver.ValidateIdentifier(col); err != nil {
			return "", nil, err
		}
		parts = append(parts, d.QuoteIdentifier(col)+" = ?")
		args = append(args, val)
	}
	return strings.Join(parts, " AND "), args, nil
}

func insertParts(d *Driver, values map[string]interface{}) (cols, placeholders string, args []interface{}, err error) {
	if len(values) == 0 {
		return "", "", nil, fmt.Errorf("values required")
	}
	var colParts, phParts []string
	for col, val := range values {
		if err := driver.ValidateIdentifier(col); err != nil {
			return "", "", nil, err
		}
		colParts = append(colParts, d.QuoteIdentifier(col))
		phParts = append(phParts, "?")
		args = append(args, val)
	}
	return strings.Join(colParts, ", "), strings.Join(phParts, ", "), args, nil
}
