package protocol

import (
	"encoding/json"
	"testing"
)

func TestRequest_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantID  string
		wantMet string
	}{
		{
			name:    "basic request",
			input:   `{"jsonrpc":"2.0","id":1,"method":"connect"}`,
			wantID:  "1",
			wantMet: "connect",
		},
		{
			name:    "request with params",
			input:   `{"jsonrpc":"2.0","id":"req-2","method":"schema","params":{"conn_id":1,"table":"orders"}}`,
			wantID:  `"req-2"`,
			wantMet: "schema",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			if err := json.Unmarshal([]byte(tt.input), &req); err != nil {
				t.Fatalf("Unmarshal error: %v", err)
			}
			if string(req.ID) != tt.wantID {
				t.Errorf("ID = %s, want %s", req.ID, tt.wantID)
			}
			if req.Method != tt.wantMet {
				t.Errorf("Method = %q, want %q", req.Method, tt.wantMet)
			}
		})
	}
}

func TestRequest_IsNotification(t *testing.T) {
	withID := Request{ID: json.RawMessage("1"), Method: "ping"}
	if withID.IsNotification() {
		t.Error("request with id should not be a notification")
	}

	notification := Request{Method: "ping"}
	if !notification.IsNotification() {
		t.Error("request with no id should be a notification")
	}
}

func TestRequest_ParseParams(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"query","params":{"conn_id":7,"table":"users","limit":50}}`

	var req Request
	if err := json.Unmarshal([]byte(input), &req); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	var params QueryParams
	if err := req.ParseParams(&params); err != nil {
		t.Fatalf("ParseParams error: %v", err)
	}

	if params.ConnID != 7 {
		t.Errorf("ConnID = %d, want 7", params.ConnID)
	}
	if params.Table != "users" {
		t.Errorf("Table = %q, want %q", params.Table, "users")
	}
	if params.Limit != 50 {
		t.Errorf("Limit = %d, want 50", params.Limit)
	}
}

func TestRequest_ParseParams_Empty(t *testing.T) {
	req := Request{Method: "connections"}
	var params struct{}
	if err := req.ParseParams(&params); err != nil {
		t.Errorf("ParseParams on request with no params should succeed, got %v", err)
	}
}

func TestNewSuccess(t *testing.T) {
	id := json.RawMessage("1")
	resp, err := NewSuccess(id, ConnectResult{ConnID: 42})
	if err != nil {
		t.Fatalf("NewSuccess error: %v", err)
	}

	if resp.JSONRPC != Version {
		t.Errorf("JSONRPC = %q, want %q", resp.JSONRPC, Version)
	}
	if resp.Error != nil {
		t.Errorf("Error = %v, want nil", resp.Error)
	}

	var result ConnectResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Unmarshal result: %v", err)
	}
	if result.ConnID != 42 {
		t.Errorf("ConnID = %d, want 42", result.ConnID)
	}
}

func TestNewError(t *testing.T) {
	id := json.RawMessage("1")
	resp := NewError(id, CodeInvalidParams, "missing table")

	if resp.Result != nil {
		t.Errorf("Result = %s, want empty", resp.Result)
	}
	if resp.Error == nil {
		t.Fatal("Error = nil, want non-nil")
	}
	if resp.Error.Code != CodeInvalidParams {
		t.Errorf("Error.Code = %d, want %d", resp.Error.Code, CodeInvalidParams)
	}
	if resp.Error.Message != "missing table" {
		t.Errorf("Error.Message = %q, want %q", resp.Error.Message, "missing table")
	}
}

func TestResponse_MarshalShape(t *testing.T) {
	resp := NewError(json.RawMessage("5"), CodeMethodNotFound, "unknown method")

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	want := `{"jsonrpc":"2.0","id":5,"error":{"code":-32601,"message":"unknown method"}}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

func TestResponse_NoResultOmittedOnError(t *testing.T) {
	resp := NewError(json.RawMessage("1"), CodeInternalError, "boom")
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if _, ok := decoded["result"]; ok {
		t.Error("error response should not carry a result member")
	}
}

func TestQueryParams_JSON(t *testing.T) {
	input := `{"conn_id":3,"table":"events","offset":20,"limit":100,"order_by":"created_at"}`

	var params QueryParams
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if params.ConnID != 3 {
		t.Errorf("ConnID = %d, want 3", params.ConnID)
	}
	if params.Offset != 20 {
		t.Errorf("Offset = %d, want 20", params.Offset)
	}
	if params.OrderBy != "created_at" {
		t.Errorf("OrderBy = %q, want %q", params.OrderBy, "created_at")
	}
}

func TestUpdateParams_JSON(t *testing.T) {
	input := `{"conn_id":1,"table":"users","column":"email","value":"a@b.com","pk":{"id":7}}`

	var params UpdateParams
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if params.Column != "email" {
		t.Errorf("Column = %q, want %q", params.Column, "email")
	}
	if params.Value != "a@b.com" {
		t.Errorf("Value = %v, want %q", params.Value, "a@b.com")
	}
	if id, ok := params.PK["id"].(float64); !ok || id != 7 {
		t.Errorf("PK[id] = %v, want 7", params.PK["id"])
	}
}

func TestCellResult_JSON(t *testing.T) {
	rowset := RowsetResult{
		Columns: []ColumnResult{{Name: "id", DataType: "INTEGER"}},
		Rows: [][]CellResult{
			{{Kind: "integer", Value: float64(1)}},
		},
		Total: 1,
	}

	data, err := json.Marshal(rowset)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded RowsetResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if len(decoded.Rows) != 1 || decoded.Rows[0][0].Kind != "integer" {
		t.Errorf("decoded rowset = %+v", decoded)
	}
}

func TestFullRoundTrip_ConnectThenQuery(t *testing.T) {
	connectReq := `{"jsonrpc":"2.0","id":1,"method":"connect","params":{"connstr":"sqlite:///tmp/db.sqlite"}}`
	var req Request
	if err := json.Unmarshal([]byte(connectReq), &req); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	resp, err := NewSuccess(req.ID, ConnectResult{ConnID: 1})
	if err != nil {
		t.Fatalf("NewSuccess error: %v", err)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if string(decoded.ID) != "1" {
		t.Errorf("ID = %s, want 1", decoded.ID)
	}
	if decoded.Error != nil {
		t.Errorf("Error = %v, want nil", decoded.Error)
	}
}

func TestNotification_NoIDMember(t *testing.T) {
	data, err := json.Marshal(Request{JSONRPC: Version, Method: "ping"})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if _, ok := decoded["id"]; ok {
		t.Error("notification request should omit the id member")
	}
}
