package protocol

// ConnectResult is the result of a successful "connect" call.
type ConnectResult struct {
	ConnID int64 `json:"conn_id"`
}

// ConnectionRecord is one entry of the "connections" result array.
type ConnectionRecord struct {
	ID       int64  `json:"id"`
	Driver   string `json:"driver"`
	Database string `json:"database"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
}

// SchemaResult is the result of a "schema" call.
type SchemaResult struct {
	Columns     []ColumnResult     `json:"columns"`
	Indexes     []IndexResult      `json:"indexes"`
	ForeignKeys []ForeignKeyResult `json:"foreign_keys"`
}

// ColumnResult describes one column.
type ColumnResult struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

// IndexResult describes one index.
type IndexResult struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns,omitempty"`
	Unique  bool     `json:"unique"`
}

// ForeignKeyResult describes one foreign key.
type ForeignKeyResult struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// CellResult is one typed value in a RowsetResult row.
type CellResult struct {
	Kind  string      `json:"kind"`
	Value interface{} `json:"value"`
}

// RowsetResult is the async result of the "query" method. The
// result-returning branch of "exec" uses ExecResult instead.
type RowsetResult struct {
	Columns   []ColumnResult  `json:"columns"`
	Rows      [][]CellResult  `json:"rows"`
	Total     int64           `json:"total_rows"`
	Approx    bool            `json:"approximate,omitempty"`
	Truncated bool            `json:"truncated,omitempty"`
}

// CountResult is the result of the synchronous "count" call.
type CountResult struct {
	Count       int64 `json:"count"`
	Approximate bool  `json:"approximate"`
}

// ExecResult is the async result of the "exec" method. Type is "select" when
// the statement returns rows, "exec" otherwise.
type ExecResult struct {
	Type      string         `json:"type"`
	Columns   []ColumnResult `json:"columns,omitempty"`
	Rows      [][]CellResult `json:"rows,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
	Affected  int64          `json:"affected,omitempty"`
}

// CancelResult is the result of the "cancel" method: true when a running
// query was found and signalled, false otherwise.
type CancelResult struct {
	Cancelled bool `json:"cancelled"`
}
