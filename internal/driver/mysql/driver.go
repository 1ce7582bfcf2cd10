// Package mysql implements the driver.Driver capability for MySQL and
// MariaDB, backed by github.com/go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/mantis/gatewayd/internal/driver"
)

// Driver implements driver.Driver for MySQL/MariaDB.
type Driver struct{}

// New creates a new MySQL driver.
func New() *Driver {
	return &Driver{}
}

func (d *Driver) Name() string { return "mysql" }

func (d *Driver) QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
	}
	return strings.Join(parts, ".")
}

// Connect opens a MySQL connection. connStr is expected in DSN form
// (user:pass@tcp(host:port)/dbname) or as a mysql:// or mariadb:// URL,
// which is normalized into a DSN before being handed to the driver.
func (d *Driver) Connect(ctx context.Context, connStr string, password string) (*sql.DB, driver.ConnectionInfo, error) {
	dsn := connStr
	if strings.HasPrefix(connStr, "mysql://") || strings.HasPrefix(connStr, "mariadb://") {
		normalized, err := urlToDSN(connStr)
		if err != nil {
			return nil, driver.ConnectionInfo{}, fmt.Errorf("parse dsn: %w", err)
		}
		dsn = normalized
	}

	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return nil, driver.ConnectionInfo{}, fmt.Errorf("parse dsn: %w", err)
	}
	if password != "" {
		cfg.Passwd = password
	}
	cfg.ParseTime = true
	cfg.InterpolateParams = false

	connector, err := mysqldriver.NewConnector(cfg)
	if err != nil {
		return nil, driver.ConnectionInfo{}, fmt.Errorf("new connector: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, driver.ConnectionInfo{}, fmt.Errorf("ping mysql: %w", err)
	}
	connectors.Store(db, connector)

	host, port := splitHostPort(cfg.Addr)
	info := driver.ConnectionInfo{
		Driver:   "mysql",
		Database: cfg.DBName,
		Host:     host,
		Port:     port,
		User:     cfg.User,
	}
	return db, info, nil
}

func urlToDSN(raw string) (string, error) {
	_, rest, _ := strings.Cut(raw, "://")
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return "", fmt.Errorf("missing @ in mysql url")
	}
	userinfo, hostpart := rest[:at], rest[at+1:]
	addr, path := hostpart, "/"
	if slash := strings.Index(hostpart, "/"); slash >= 0 {
		addr, path = hostpart[:slash], hostpart[slash:]
	}
	return fmt.Sprintf("%s@tcp(%s)%s", userinfo, addr, path), nil
}

func splitHostPort(addr string) (string, int) {
	host, portStr, ok := strings.Cut(addr, ":")
	if !ok {
		return addr, 3306
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 3306
	}
	return host, port
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
	stmt := fmt.Sprintf("SELECT * FROM %s%s LIMIT ? OFFSET ?", qualified, order)
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
		WHERE table_schema = DATABASE()
		ORDER BY table_name`)
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
	_, tbl, err := driver.SplitQualifiedTable(table)
	if err != nil {
		return nil, err
	}

	colRows, err := db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES', column_key = 'PRI'
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`, tbl)
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	defer colRows.Close()

	var columns []driver.ColumnSchema
	for colRows.Next() {
		var name, dtype string
		var nullable, primaryKey bool
		if err := colRows.Scan(&name, &dtype, &nullable, &primaryKey); err != nil {
			return nil, err
		}
		columns = append(columns, driver.ColumnSchema{
			Name: name, DataType: dtype, Nullable: nullable, PrimaryKey: primaryKey,
		})
	}
	if err := colRows.Err(); err != nil {
		return nil, err
	}

	idxRows, err := db.QueryContext(ctx, `
		SELECT index_name, non_unique, column_name
		FROM information_schema.statistics
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY index_name, seq_in_index`, tbl)
	if err != nil {
		return nil, fmt.Errorf("indexes: %w", err)
	}
	defer idxRows.Close()

	idxOrder := []string{}
	idxCols := map[string][]string{}
	idxUnique := map[string]bool{}
	for idxRows.Next() {
		var name string
		var nonUnique int
		var col string
		if err := idxRows.Scan(&name, &nonUnique, &col); err != nil {
			return nil, err
		}
		if _, seen := idxCols[name]; !seen {
			idxOrder = append(idxOrder, name)
		}
		idxCols[name] = append(idxCols[name], col)
		idxUnique[name] = nonUnique == 0
	}
	if err := idxRows.Err(); err != nil {
		return nil, err
	}
	var indexes []driver.IndexSchema
	for _, name := range idxOrder {
		indexes = append(indexes, driver.IndexSchema{
			Name: name, Columns: idxCols[name], Unique: idxUnique[name],
		})
	}

	fkRows, err := db.QueryContext(ctx, `
		SELECT column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE() AND table_name = ? AND referenced_table_name IS NOT NULL`, tbl)
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

// EstimateRowCount reads information_schema.TABLES.TABLE_ROWS, an engine
// statistic refreshed on ANALYZE TABLE rather than a live count.
func (d *Driver) EstimateRowCount(ctx context.Context, db *sql.DB, table string) (int64, error) {
	_, tbl, err := driver.SplitQualifiedTable(table)
	if err != nil {
		return -1, err
	}
	var estimate sql.NullInt64
	err = db.QueryRowContext(ctx, `
		SELECT table_rows FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?`, tbl).Scan(&estimate)
	if err != nil || !estimate.Valid {
		return -1, nil
	}
	return estimate.Int64, nil
}

func (d *Driver) ExactRowCount(ctx context.Context, db *sql.DB, table string) (int64, error) {
	_, tbl, err := driver.SplitQualifiedTable(table)
	if err != nil {
		return 0, err
	}
	var count int64
	err = db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", d.qualify("", tbl))).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

func (d *Driver) UpdateCell(ctx context.Context, db *sql.DB, table, column string, value interface{}, pk map[string]interface{}) error {
	_, tbl, err := driver.SplitQualifiedTable(table)
	if err != nil {
		return err
	}
	if err := driver.ValidateIdentifier(column); err != nil {
		return err
	}
	where, args, err := whereClause(d, pk)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s", d.qualify("", tbl), d.QuoteIdentifier(column), where)
	_, err = db.ExecContext(ctx, stmt, append([]interface{}{value}, args...)...)
	return err
}

func (d *Driver) DeleteRow(ctx context.Context, db *sql.DB, table string, pk map[string]interface{}) error {
	_, tbl, err := driver.SplitQualifiedTable(table)
	if err != nil {
		return err
	}
	where, args, err := whereClause(d, pk)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", d.qualify("", tbl), where)
	_, err = db.ExecContext(ctx, stmt, args...)
	return err
}

func (d *Driver) InsertRow(ctx context.Context, db *sql.DB, table string, values map[string]interface{}) error {
	_, tbl, err := driver.SplitQualifiedTable(table)
	if err != nil {
		return err
	}
	cols, placeholders, args, err := insertParts(d, values)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.qualify("", tbl), cols, placeholders)
	_, err = db.ExecContext(ctx, stmt, args...)
	return err
}

// connectors remembers the driver.Connector each *sql.DB was opened with, so
// CancelQuery can dial a fresh side connection without re-parsing a DSN.
// Entries live for the lifetime of the *sql.DB; nothing evicts them here,
// session teardown simply stops referencing the key.
var connectors sync.Map // map[*sql.DB]*mysqldriver.Connector

// cancelHandle captures the connection id of the dedicated connection the
// in-flight query runs on. CancelQuery opens a fresh side connection and
// issues KILL QUERY, because MySQL offers no native context-cancel wiring
// through database/sql -- the original connection is busy running the
// statement we want to interrupt.
type cancelHandle struct {
	connID    int64
	connector *mysqldriver.Connector
}

func (d *Driver) PrepareCancel(ctx context.Context, db *sql.DB) (driver.CancelHandle, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn for cancel: %w", err)
	}
	defer conn.Close()

	var connID int64
	if err := conn.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&connID); err != nil {
		return nil, fmt.Errorf("connection_id: %w", err)
	}

	var connector *mysqldriver.Connector
	if v, ok := connectors.Load(db); ok {
		connector = v.(*mysqldriver.Connector)
	}
	return &cancelHandle{connID: connID, connector: connector}, nil
}

func (d *Driver) CancelQuery(handle driver.CancelHandle) error {
	h, ok := handle.(*cancelHandle)
	if !ok || h == nil {
		return fmt.Errorf("invalid cancel handle")
	}
	if h.connector == nil {
		return fmt.Errorf("cancel handle has no side-connection binding")
	}
	killDB := sql.OpenDB(h.connector)
	defer killDB.Close()
	_, err := killDB.ExecContext(context.Background(), fmt.Sprintf("KILL QUERY %d", h.connID))
	return err
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
