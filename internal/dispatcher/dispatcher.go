// Package dispatcher resolves JSON-RPC method names against the session
// manager and the async worker/queue, generalizing the driver-registry
// dispatch of a one-shot request/response handler into a method table that
// also knows how to defer a call's response to the completion queue.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mantis/gatewayd/internal/async"
	"github.com/mantis/gatewayd/internal/driver"
	"github.com/mantis/gatewayd/internal/protocol"
	"github.com/mantis/gatewayd/internal/session"
)

// MaxQueryLimit is the hard cap "query" clamps its limit parameter to.
const MaxQueryLimit = 10000

// Dispatcher routes one parsed request to its handler. Sync handlers return
// a response to write immediately; the two deferred methods (query, exec)
// launch an async.Worker run and return nil, signalling the caller to write
// nothing now.
type Dispatcher struct {
	Sessions *session.Manager
	Queue    *async.Queue
	Worker   *async.Worker

	DaemonVersion   string
	ProtocolVersion string
	DriverNames     []string

	shutdownRequested bool
}

// New creates a Dispatcher wired to the given session pool and async
// subsystem.
func New(sessions *session.Manager, queue *async.Queue, worker *async.Worker, daemonVersion, protocolVersion string, driverNames []string) *Dispatcher {
	return &Dispatcher{
		Sessions:        sessions,
		Queue:           queue,
		Worker:          worker,
		DaemonVersion:   daemonVersion,
		ProtocolVersion: protocolVersion,
		DriverNames:     driverNames,
	}
}

// ShutdownRequested reports whether a "shutdown" call has been handled.
func (d *Dispatcher) ShutdownRequested() bool {
	return d.shutdownRequested
}

// Dispatch runs req's method. It returns a response to write now, or nil
// when the call was a notification (no response ever) or was handed off to
// an async worker (response arrives later through the completion queue).
func (d *Dispatcher) Dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	notification := req.IsNotification()

	switch req.Method {
	case "connect":
		return d.handleConnect(req, notification)
	case "disconnect":
		return d.handleDisconnect(req, notification)
	case "connections":
		return d.handleConnections(req, notification)
	case "tables":
		return d.handleTables(ctx, req, notification)
	case "schema":
		return d.handleSchema(ctx, req, notification)
	case "query":
		return d.handleQuery(ctx, req, notification)
	case "count":
		return d.handleCount(ctx, req, notification)
	case "exec":
		return d.handleExec(ctx, req, notification)
	case "update":
		return d.handleUpdate(ctx, req, notification)
	case "delete":
		return d.handleDelete(ctx, req, notification)
	case "cancel":
		return d.handleCancel(req, notification)
	case "ping":
		return d.handlePing(req, notification)
	case "version":
		return d.handleVersion(req, notification)
	case "shutdown":
		return d.handleShutdown(req, notification)
	default:
		if notification {
			return nil
		}
		return protocol.NewError(req.ID, protocol.CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (d *Dispatcher) handleConnect(req *protocol.Request, notification bool) *protocol.Response {
	var params protocol.ConnectParams
	if err := req.ParseParams(&params); err != nil {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "invalid params: "+err.Error())
	}

	id, err := d.Sessions.Connect(context.Background(), params.ConnStr, params.Password)
	if err != nil {
		return errOrNil(req, notification, mapConnectError(err), sanitizeError(err.Error()))
	}
	if notification {
		return nil
	}
	return successOrError(req, protocol.ConnectResult{ConnID: id})
}

func (d *Dispatcher) handleDisconnect(req *protocol.Request, notification bool) *protocol.Response {
	var params protocol.DisconnectParams
	if err := req.ParseParams(&params); err != nil {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "invalid params: "+err.Error())
	}

	if err := d.Sessions.Disconnect(params.ConnID); err != nil {
		return errOrNil(req, notification, protocol.CodeInvalidParams, err.Error())
	}
	if notification {
		return nil
	}
	return successOrError(req, struct{}{})
}

func (d *Dispatcher) handleConnections(req *protocol.Request, notification bool) *protocol.Response {
	if notification {
		return nil
	}
	records := d.Sessions.List()
	out := make([]protocol.ConnectionRecord, len(records))
	for i, r := range records {
		out[i] = protocol.ConnectionRecord{
			ID: r.ID, Driver: r.Driver, Database: r.Database,
			Host: r.Host, Port: r.Port, User: r.User,
		}
	}
	return successOrError(req, out)
}

func (d *Dispatcher) handleTables(ctx context.Context, req *protocol.Request, notification bool) *protocol.Response {
	var params protocol.TablesParams
	if err := req.ParseParams(&params); err != nil {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "invalid params: "+err.Error())
	}

	handle, ok := d.Sessions.Get(params.ConnID)
	if !ok {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "Invalid connection ID")
	}
	names, err := handle.Driver.ListTables(ctx, handle.DB)
	if err != nil {
		return errOrNil(req, notification, protocol.CodeInternalError, err.Error())
	}
	if notification {
		return nil
	}
	return successOrError(req, names)
}

func (d *Dispatcher) handleSchema(ctx context.Context, req *protocol.Request, notification bool) *protocol.Response {
	var params protocol.SchemaParams
	if err := req.ParseParams(&params); err != nil {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "invalid params: "+err.Error())
	}

	handle, ok := d.Sessions.Get(params.ConnID)
	if !ok {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "Invalid connection ID")
	}
	schema, err := handle.Driver.GetTableSchema(ctx, handle.DB, params.Table)
	if err != nil {
		return errOrNil(req, notification, protocol.CodeInternalError, err.Error())
	}
	if notification {
		return nil
	}
	return successOrError(req, protocol.SchemaResult{
		Columns:     columnSchemaToResult(schema.Columns),
		Indexes:     indexSchemaToResult(schema.Indexes),
		ForeignKeys: fkSchemaToResult(schema.ForeignKeys),
	})
}

// handleQuery launches a deferred paginated read. It never returns a
// response itself except on a synchronous validation failure (unknown
// connection, bad params) where there is nothing to defer.
func (d *Dispatcher) handleQuery(ctx context.Context, req *protocol.Request, notification bool) *protocol.Response {
	var params protocol.QueryParams
	if err := req.ParseParams(&params); err != nil {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "invalid params: "+err.Error())
	}
	if params.Limit <= 0 || params.Limit > MaxQueryLimit {
		params.Limit = MaxQueryLimit
	}

	if _, ok := d.Sessions.Get(params.ConnID); !ok {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "Invalid connection ID")
	}

	query := async.NewQuery(params.ConnID, requestID(req, notification), async.KindPaginatedRead)
	query.Paginated = async.PaginatedInput{Table: params.Table, Offset: params.Offset, Limit: params.Limit, OrderBy: params.OrderBy}
	d.Worker.Launch(ctx, query)
	return nil
}

func (d *Dispatcher) handleCount(ctx context.Context, req *protocol.Request, notification bool) *protocol.Response {
	var params protocol.CountParams
	if err := req.ParseParams(&params); err != nil {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "invalid params: "+err.Error())
	}

	handle, ok := d.Sessions.Get(params.ConnID)
	if !ok {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "Invalid connection ID")
	}

	if estimate, err := handle.Driver.EstimateRowCount(ctx, handle.DB, params.Table); err == nil && estimate >= 0 {
		if notification {
			return nil
		}
		return successOrError(req, protocol.CountResult{Count: estimate, Approximate: true})
	}

	exact, err := handle.Driver.ExactRowCount(ctx, handle.DB, params.Table)
	if err != nil {
		return errOrNil(req, notification, protocol.CodeInternalError, err.Error())
	}
	if notification {
		return nil
	}
	return successOrError(req, protocol.CountResult{Count: exact, Approximate: false})
}

// handleExec launches a deferred raw statement, mirroring handleQuery.
func (d *Dispatcher) handleExec(ctx context.Context, req *protocol.Request, notification bool) *protocol.Response {
	var params protocol.ExecParams
	if err := req.ParseParams(&params); err != nil {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "invalid params: "+err.Error())
	}

	if _, ok := d.Sessions.Get(params.ConnID); !ok {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "Invalid connection ID")
	}

	query := async.NewQuery(params.ConnID, requestID(req, notification), async.KindRawStatement)
	query.Raw = async.RawInput{SQL: params.SQL, Args: params.Args}
	d.Worker.Launch(ctx, query)
	return nil
}

func (d *Dispatcher) handleUpdate(ctx context.Context, req *protocol.Request, notification bool) *protocol.Response {
	var params protocol.UpdateParams
	if err := req.ParseParams(&params); err != nil {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "invalid params: "+err.Error())
	}

	handle, ok := d.Sessions.Get(params.ConnID)
	if !ok {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "Invalid connection ID")
	}
	if err := handle.Driver.UpdateCell(ctx, handle.DB, params.Table, params.Column, params.Value, params.PK); err != nil {
		return errOrNil(req, notification, protocol.CodeInternalError, err.Error())
	}
	if notification {
		return nil
	}
	return successOrError(req, struct{}{})
}

func (d *Dispatcher) handleDelete(ctx context.Context, req *protocol.Request, notification bool) *protocol.Response {
	var params protocol.DeleteParams
	if err := req.ParseParams(&params); err != nil {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "invalid params: "+err.Error())
	}

	handle, ok := d.Sessions.Get(params.ConnID)
	if !ok {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "Invalid connection ID")
	}
	if err := handle.Driver.DeleteRow(ctx, handle.DB, params.Table, params.PK); err != nil {
		return errOrNil(req, notification, protocol.CodeInternalError, err.Error())
	}
	if notification {
		return nil
	}
	return successOrError(req, struct{}{})
}

// handleCancel looks up the active query on conn_id and requests its
// cancellation through both the queue (to flag the Query record) and the
// session manager (to invoke the driver's best-effort interrupt).
func (d *Dispatcher) handleCancel(req *protocol.Request, notification bool) *protocol.Response {
	var params protocol.CancelParams
	if err := req.ParseParams(&params); err != nil {
		return errOrNil(req, notification, protocol.CodeInvalidParams, "invalid params: "+err.Error())
	}

	found := d.Queue.CancelBySlot(params.ConnID)
	if found {
		if err := d.Sessions.CancelQuery(params.ConnID); err != nil {
			return errOrNil(req, notification, protocol.CodeInternalError, err.Error())
		}
	}
	if notification {
		return nil
	}
	return successOrError(req, protocol.CancelResult{Cancelled: found})
}

func (d *Dispatcher) handlePing(req *protocol.Request, notification bool) *protocol.Response {
	if notification {
		return nil
	}
	return successOrError(req, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

func (d *Dispatcher) handleVersion(req *protocol.Request, notification bool) *protocol.Response {
	if notification {
		return nil
	}
	return successOrError(req, struct {
		DaemonVersion   string   `json:"daemon_version"`
		ProtocolVersion string   `json:"protocol_version"`
		Drivers         []string `json:"drivers"`
	}{DaemonVersion: d.DaemonVersion, ProtocolVersion: d.ProtocolVersion, Drivers: d.DriverNames})
}

func (d *Dispatcher) handleShutdown(req *protocol.Request, notification bool) *protocol.Response {
	d.shutdownRequested = true
	if notification {
		return nil
	}
	return successOrError(req, struct{}{})
}

// requestID returns a defensive copy of req.ID for a deferred record, or
// nil for a notification (the worker still runs but its result is
// discarded by the writer since there is no id to respond to).
func requestID(req *protocol.Request, notification bool) json.RawMessage {
	if notification {
		return nil
	}
	id := make(json.RawMessage, len(req.ID))
	copy(id, req.ID)
	return id
}

func successOrError(req *protocol.Request, result interface{}) *protocol.Response {
	resp, err := protocol.NewSuccess(req.ID, result)
	if err != nil {
		return protocol.NewError(req.ID, protocol.CodeInternalError, err.Error())
	}
	return resp
}

func errOrNil(req *protocol.Request, notification bool, code int, message string) *protocol.Response {
	if notification {
		return nil
	}
	return protocol.NewError(req.ID, code, message)
}

func mapConnectError(err error) int {
	if err == session.ErrCapacity {
		return protocol.CodeInternalError
	}
	return protocol.CodeInvalidParams
}

func columnSchemaToResult(cols []driver.ColumnSchema) []protocol.ColumnResult {
	out := make([]protocol.ColumnResult, len(cols))
	for i, c := range cols {
		out[i] = protocol.ColumnResult{Name: c.Name, DataType: c.DataType, Nullable: c.Nullable, PrimaryKey: c.PrimaryKey}
	}
	return out
}

func indexSchemaToResult(idxs []driver.IndexSchema) []protocol.IndexResult {
	out := make([]protocol.IndexResult, len(idxs))
	for i, idx := range idxs {
		out[i] = protocol.IndexResult{Name: idx.Name, Columns: idx.Columns, Unique: idx.Unique}
	}
	return out
}

func fkSchemaToResult(fks []driver.ForeignKeySchema) []protocol.ForeignKeyResult {
	out := make([]protocol.ForeignKeyResult, len(fks))
	for i, fk := range fks {
		out[i] = protocol.ForeignKeyResult{Column: fk.Column, ReferencedTable: fk.ReferencedTable, ReferencedColumn: fk.ReferencedColumn}
	}
	return out
}
