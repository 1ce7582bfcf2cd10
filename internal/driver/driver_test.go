package driver

import (
	"context"
	"database/sql"
	"testing"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	mock := &mockDriver{driverName: "test"}
	reg.Register(mock)

	d, err := reg.Get("test")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if d.Name() != "test" {
		t.Errorf("Name() = %q, want %q", d.Name(), "test")
	}
}

func TestRegistry_GetNotFound(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get("nonexistent")
	if err == nil {
		t.Error("Get should return error for nonexistent driver")
	}
}

func TestRegistry_Has(t *testing.T) {
	reg := NewRegistry()

	if reg.Has("test") {
		t.Error("Has should return false for nonexistent driver")
	}

	reg.Register(&mockDriver{driverName: "test"})

	if !reg.Has("test") {
		t.Error("Has should return true after registration")
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()

	reg.Register(&mockDriver{driverName: "driver1"})
	reg.Register(&mockDriver{driverName: "driver2"})

	names := reg.Names()
	if len(names) != 2 {
		t.Errorf("len(Names()) = %d, want 2", len(names))
	}

	hasDriver1, hasDriver2 := false, false
	for _, name := range names {
		if name == "driver1" {
			hasDriver1 = true
		}
		if name == "driver2" {
			hasDriver2 = true
		}
	}
	if !hasDriver1 || !hasDriver2 {
		t.Errorf("Names() = %v, want [driver1, driver2]", names)
	}
}

func TestRegistry_Replace(t *testing.T) {
	reg := NewRegistry()

	mock1 := &mockDriver{driverName: "test", version: 1}
	mock2 := &mockDriver{driverName: "test", version: 2}

	reg.Register(mock1)
	reg.Register(mock2)

	d, err := reg.Get("test")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}

	md := d.(*mockDriver)
	if md.version != 2 {
		t.Errorf("version = %d, want 2", md.version)
	}
}

func TestDefaultRegistry(t *testing.T) {
	DefaultRegistry = NewRegistry()

	if Has("testdefault") {
		t.Error("Has should return false before registration")
	}

	Register(&mockDriver{driverName: "testdefault"})

	if !Has("testdefault") {
		t.Error("Has should return true after registration")
	}

	d, err := Get("testdefault")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if d.Name() != "testdefault" {
		t.Errorf("Name() = %q, want %q", d.Name(), "testdefault")
	}
}

func TestSanitize_TruncatesRows(t *testing.T) {
	rs := &ResultSet{
		Rows: [][]Cell{
			{{Kind: KindInteger, Value: int64(1)}},
			{{Kind: KindInteger, Value: int64(2)}},
			{{Kind: KindInteger, Value: int64(3)}},
		},
	}

	Sanitize(rs, MaxFieldSize, 2)

	if len(rs.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(rs.Rows))
	}
	if !rs.Truncated {
		t.Error("Truncated = false, want true")
	}
}

func TestSanitize_PlaceholdersOversizedText(t *testing.T) {
	big := make([]byte, 100)
	for i := range big {
		big[i] = 'x'
	}
	rs := &ResultSet{
		Rows: [][]Cell{
			{
				{Kind: KindText, Value: string(big)},
				{Kind: KindInteger, Value: int64(42)},
			},
		},
	}

	Sanitize(rs, 10, MaxResultRows)

	want := "[TEXT: 100 bytes]"
	if rs.Rows[0][0].Value != want {
		t.Errorf("Rows[0][0].Value = %v, want %q", rs.Rows[0][0].Value, want)
	}
	// Unrelated cell in the same row is unchanged.
	if rs.Rows[0][1].Value != int64(42) {
		t.Errorf("Rows[0][1].Value = %v, want 42", rs.Rows[0][1].Value)
	}
}

func TestSanitize_PlaceholdersOversizedBlob(t *testing.T) {
	big := make([]byte, 2_000_000)
	rs := &ResultSet{
		Rows: [][]Cell{
			{{Kind: KindBlob, Value: big}},
		},
	}

	Sanitize(rs, MaxFieldSize, MaxResultRows)

	want := "[DATA: 2000000 bytes]"
	if rs.Rows[0][0].Value != want {
		t.Errorf("Rows[0][0].Value = %v, want %q", rs.Rows[0][0].Value, want)
	}
}

func TestConvertValue(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		kind CellKind
	}{
		{"nil", nil, KindNull},
		{"int64", int64(5), KindInteger},
		{"float64", float64(1.5), KindFloating},
		{"bool", true, KindBoolean},
		{"bytes", []byte("x"), KindBlob},
		{"string", "x", KindText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertValue(tt.in)
			if got.Kind != tt.kind {
				t.Errorf("ConvertValue(%v).Kind = %v, want %v", tt.in, got.Kind, tt.kind)
			}
		})
	}
}

// mockDriver is a minimal implementation for registry tests.
type mockDriver struct {
	driverName string
	version    int
}

func (m *mockDriver) Name() string                       { return m.driverName }
func (m *mockDriver) QuoteIdentifier(name string) string { return `"` + name + `"` }
func (m *mockDriver) Connect(ctx context.Context, connStr, password string) (*sql.DB, ConnectionInfo, error) {
	return nil, ConnectionInfo{}, nil
}
func (m *mockDriver) Query(ctx context.Context, db *sql.DB, stmt string, args []interface{}) (*ResultSet, error) {
	return nil, nil
}
func (m *mockDriver) Exec(ctx context.Context, db *sql.DB, stmt string, args []interface{}) (int64, error) {
	return 0, nil
}
func (m *mockDriver) PaginatedQuery(ctx context.Context, db *sql.DB, table string, offset, limit int, orderBy string) (*ResultSet, error) {
	return nil, nil
}
func (m *mockDriver) ListTables(ctx context.Context, db *sql.DB) ([]string, error) { return nil, nil }
func (m *mockDriver) GetTableSchema(ctx context.Context, db *sql.DB, table string) (*Schema, error) {
	return nil, nil
}
func (m *mockDriver) EstimateRowCount(ctx context.Context, db *sql.DB, table string) (int64, error) {
	return -1, nil
}
func (m *mockDriver) ExactRowCount(ctx context.Context, db *sql.DB, table string) (int64, error) {
	return 0, nil
}
func (m *mockDriver) UpdateCell(ctx context.Context, db *sql.DB, table, column string, value interface{}, pk map[string]interface{}) error {
	return nil
}
func (m *mockDriver) DeleteRow(ctx context.Context, db *sql.DB, table string, pk map[string]interface{}) error {
	return nil
}
func (m *mockDriver) InsertRow(ctx context.Context, db *sql.DB, table string, values map[string]interface{}) error {
	return nil
}
func (m *mockDriver) PrepareCancel(ctx context.Context, db *sql.DB) (CancelHandle, error) {
	return nil, ErrNotSupported
}
func (m *mockDriver) CancelQuery(handle CancelHandle) error { return nil }
func (m *mockDriver) FreeCancelHandle(handle CancelHandle)  {}
func (m *mockDriver) Close() error                          { return nil }
