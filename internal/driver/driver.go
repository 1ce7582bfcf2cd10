// Package driver defines the database capability interface implemented by
// each back-end (SQLite, PostgreSQL, MySQL/MariaDB) and the shared result-set
// sanitization rules the dispatcher relies on regardless of which back-end
// answered a request.
package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CellKind identifies the JSON-serializable shape of a result cell.
type CellKind string

const (
	KindInteger   CellKind = "integer"
	KindFloating  CellKind = "floating"
	KindBoolean   CellKind = "boolean"
	KindText      CellKind = "text"
	KindBlob      CellKind = "blob"
	KindTimestamp CellKind = "timestamp"
	KindNull      CellKind = "null"
)

// Cell is a single typed value in a ResultSet row.
type Cell struct {
	Kind  CellKind    `json:"kind"`
	Value interface{} `json:"value"`
}

// Column describes one column of a ResultSet.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// ResultSet is the rectangular table returned by Query and PaginatedQuery.
type ResultSet struct {
	Columns []Column
	Rows    [][]Cell
	// Truncated is set by Sanitize when rows beyond MaxResultRows were dropped.
	Truncated bool
}

// Schema describes a table's structure as returned by GetTableSchema.
type Schema struct {
	Columns     []ColumnSchema     `json:"columns"`
	Indexes     []IndexSchema      `json:"indexes"`
	ForeignKeys []ForeignKeySchema `json:"foreign_keys"`
}

// ColumnSchema describes one column's metadata.
type ColumnSchema struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

// IndexSchema describes one index.
type IndexSchema struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// ForeignKeySchema describes one foreign key constraint.
type ForeignKeySchema struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// ConnectionInfo is descriptive metadata held by a session slot for the
// connections list operation. It never includes credentials.
type ConnectionInfo struct {
	Driver   string `json:"driver"`
	Database string `json:"database"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
}

// CancelHandle is an opaque, driver-specific token bound to the connection
// state at the moment PrepareCancel was called. It must remain safe to pass
// to CancelQuery from a goroutine other than the one blocked inside the
// cancellable driver call.
type CancelHandle interface{}

// ErrNotSupported is returned by a driver for a capability it deliberately
// leaves unimplemented. The dispatcher surfaces this as "not supported"
// rather than treating it as a hard failure.
var ErrNotSupported = errors.New("capability not supported by driver")

// Driver is the capability interface each database back-end implements.
// The session manager and async workers invoke these methods without any
// knowledge of which concrete back-end is mounted on a slot.
type Driver interface {
	// Name returns the driver identifier (e.g. "sqlite", "postgres", "mysql").
	Name() string

	// QuoteIdentifier quotes a (possibly schema-qualified) identifier in the
	// driver's native style.
	QuoteIdentifier(name string) string

	// Connect opens a logical connection and returns descriptive metadata
	// for ConnectionInfo, parsed out of the connection string.
	Connect(ctx context.Context, connStr string, password string) (*sql.DB, ConnectionInfo, error)

	// Query runs a statement expected to return rows.
	Query(ctx context.Context, db *sql.DB, stmt string, args []interface{}) (*ResultSet, error)

	// Exec runs a statement not expected to return rows, returning the
	// number of affected rows, or -1 if the driver cannot report one.
	Exec(ctx context.Context, db *sql.DB, stmt string, args []interface{}) (int64, error)

	// PaginatedQuery reads a page of a table.
	PaginatedQuery(ctx context.Context, db *sql.DB, table string, offset, limit int, orderBy string) (*ResultSet, error)

	// ListTables returns all table names visible to the connection.
	ListTables(ctx context.Context, db *sql.DB) ([]string, error)

	// GetTableSchema returns a table's columns, indexes, and foreign keys.
	GetTableSchema(ctx context.Context, db *sql.DB, table string) (*Schema, error)

	// EstimateRowCount returns a fast, approximate row count drawn from
	// catalog statistics, or -1 if no estimate is available.
	EstimateRowCount(ctx context.Context, db *sql.DB, table string) (int64, error)

	// ExactRowCount returns the exact row count via COUNT(*).
	ExactRowCount(ctx context.Context, db *sql.DB, table string) (int64, error)

	// UpdateCell updates a single cell identified by primary key values.
	UpdateCell(ctx context.Context, db *sql.DB, table, column string, value interface{}, pk map[string]interface{}) error

	// DeleteRow deletes a single row identified by primary key values.
	DeleteRow(ctx context.Context, db *sql.DB, table string, pk map[string]interface{}) error

	// InsertRow inserts a single row.
	InsertRow(ctx context.Context, db *sql.DB, table string, values map[string]interface{}) error

	// PrepareCancel produces a cancel handle bound to the connection's
	// current state. Returns ErrNotSupported if the driver cannot cancel.
	PrepareCancel(ctx context.Context, db *sql.DB) (CancelHandle, error)

	// CancelQuery signals the engine to interrupt the statement bound to
	// handle. Must be safe to call concurrently with the blocked call it
	// targets. Best-effort: the in-flight call may still succeed, error, or
	// return a partial result.
	CancelQuery(handle CancelHandle) error

	// FreeCancelHandle releases resources held by handle. Called exactly
	// once per successful PrepareCancel.
	FreeCancelHandle(handle CancelHandle)

	// Close tears down driver-level (not connection-level) resources.
	// Called once at daemon shutdown.
	Close() error
}

// MaxFieldSize bounds the byte length of a single text/blob cell before it
// is replaced with a placeholder string.
const MaxFieldSize = 32 * 1024

// MaxResultRows bounds the number of rows returned in a single result set.
const MaxResultRows = 1 << 20

// Sanitize enforces MaxFieldSize and MaxResultRows on rs in place, returning
// rs for convenience. It is shared by all three drivers so the placeholder
// format is identical regardless of back-end.
func Sanitize(rs *ResultSet, maxFieldSize int, maxResultRows int) *ResultSet {
	if maxFieldSize <= 0 {
		maxFieldSize = MaxFieldSize
	}
	if maxResultRows <= 0 {
		maxResultRows = MaxResultRows
	}

	if len(rs.Rows) > maxResultRows {
		rs.Rows = rs.Rows[:maxResultRows]
		rs.Truncated = true
	}

	for _, row := range rs.Rows {
		for i, cell := range row {
			row[i] = sanitizeCell(cell, maxFieldSize)
		}
	}
	return rs
}

func sanitizeCell(c Cell, maxFieldSize int) Cell {
	switch c.Kind {
	case KindText:
		if s, ok := c.Value.(string); ok && len(s) > maxFieldSize {
			return Cell{Kind: KindText, Value: placeholder("TEXT", len(s))}
		}
	case KindBlob:
		switch v := c.Value.(type) {
		case []byte:
			if len(v) > maxFieldSize {
				return Cell{Kind: KindBlob, Value: placeholder("DATA", len(v))}
			}
		case string:
			if len(v) > maxFieldSize {
				return Cell{Kind: KindBlob, Value: placeholder("DATA", len(v))}
			}
		}
	}
	return c
}

// placeholder renders the fixed "[<kind>: N bytes]" string used for
// oversized cells. Content is a pure function of kind and byte size.
func placeholder(kind string, size int) string {
	return fmt.Sprintf("[%s: %d bytes]", kind, size)
}

// ConvertValue converts database/sql scan results into ResultSet cells,
// classifying the Go runtime type into a CellKind.
func ConvertValue(v interface{}) Cell {
	switch val := v.(type) {
	case nil:
		return Cell{Kind: KindNull, Value: nil}
	case int64:
		return Cell{Kind: KindInteger, Value: val}
	case float64:
		return Cell{Kind: KindFloating, Value: val}
	case bool:
		return Cell{Kind: KindBoolean, Value: val}
	case []byte:
		return Cell{Kind: KindBlob, Value: val}
	case string:
		return Cell{Kind: KindText, Value: val}
	default:
		return Cell{Kind: KindText, Value: fmt.Sprintf("%v", val)}
	}
}
