package async

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mantis/gatewayd/internal/driver"
	"github.com/mantis/gatewayd/internal/protocol"
	"github.com/mantis/gatewayd/internal/session"
)

// selectLikeKeywords are the leading keywords that route a raw statement
// through the result-returning path rather than the affected-rows path.
var selectLikeKeywords = []string{"SELECT", "PRAGMA", "SHOW", "DESCRIBE", "EXPLAIN"}

// Worker launches and runs async queries against a session pool, bounding
// result sets per the sanitization caps.
type Worker struct {
	Sessions      *session.Manager
	Queue         *Queue
	MaxFieldSize  int
	MaxResultRows int
}

// NewWorker creates a Worker with the given caps. A zero value for either
// cap falls back to driver.MaxFieldSize / driver.MaxResultRows.
func NewWorker(sessions *session.Manager, queue *Queue, maxFieldSize, maxResultRows int) *Worker {
	return &Worker{Sessions: sessions, Queue: queue, MaxFieldSize: maxFieldSize, MaxResultRows: maxResultRows}
}

// Launch registers query as active and starts its worker goroutine detached
// from the caller. If the slot is missing, the query is failed and pushed
// immediately so the failure path reuses the success response channel, per
// the launch-failure contract workers share with the protocol loop. An error
// from PrepareCancel does not fail the query.
func (w *Worker) Launch(ctx context.Context, query *Query) {
	w.Queue.Launch(query)

	if _, ok := w.Sessions.Get(query.SlotID); !ok {
		query.Fail(protocol.CodeInvalidParams, "Invalid connection ID")
		w.Queue.Push(query)
		return
	}

	// Best-effort: PrepareCancel failing with anything other than
	// ErrNotSupported still lets the query proceed uncancellable rather than
	// failing the whole request over a missing cancellation capability.
	w.Sessions.PrepareCancel(ctx, query.SlotID)

	query.setStatus(StatusRunning)
	slog.Info("query launched", "query_id", query.CorrelationID, "conn_id", query.SlotID, "kind", query.Kind)
	go w.run(ctx, query)
}

func (w *Worker) run(ctx context.Context, query *Query) {
	defer w.Queue.Push(query)
	defer w.Sessions.FinishQuery(query.SlotID)
	defer func() {
		slog.Info("query finished", "query_id", query.CorrelationID, "conn_id", query.SlotID, "status", query.Status())
	}()

	handle, ok := w.Sessions.Get(query.SlotID)
	if !ok {
		query.Fail(protocol.CodeInvalidParams, "Invalid connection ID")
		return
	}

	var result json.RawMessage
	var failCode int
	var failMsg string

	switch query.Kind {
	case KindPaginatedRead:
		result, failCode, failMsg = w.runPaginated(ctx, handle, query.Paginated)
	case KindRawStatement:
		result, failCode, failMsg = w.runRaw(ctx, handle, query.Raw)
	}

	if query.CancelRequested() {
		query.Cancel()
		return
	}
	if failMsg != "" {
		query.Fail(failCode, failMsg)
		return
	}
	query.Complete(result)
}

func (w *Worker) runPaginated(ctx context.Context, handle session.Handle, in PaginatedInput) (json.RawMessage, int, string) {
	rs, err := handle.Driver.PaginatedQuery(ctx, handle.DB, in.Table, in.Offset, in.Limit, in.OrderBy)
	if err != nil {
		return nil, protocol.CodeInternalError, err.Error()
	}
	driver.Sanitize(rs, w.fieldCap(), w.rowCap())

	total, approx := w.rowCount(ctx, handle, in.Table)

	out := protocol.RowsetResult{
		Columns:   columnsToResult(rs.Columns),
		Rows:      rowsToResult(rs.Rows),
		Total:     total,
		Approx:    approx,
		Truncated: rs.Truncated,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, protocol.CodeInternalError, err.Error()
	}
	return data, 0, ""
}

func (w *Worker) rowCount(ctx context.Context, handle session.Handle, table string) (int64, bool) {
	if estimate, err := handle.Driver.EstimateRowCount(ctx, handle.DB, table); err == nil && estimate >= 0 {
		return estimate, true
	}
	exact, err := handle.Driver.ExactRowCount(ctx, handle.DB, table)
	if err != nil {
		return 0, false
	}
	return exact, false
}

func (w *Worker) runRaw(ctx context.Context, handle session.Handle, in RawInput) (json.RawMessage, int, string) {
	if isSelectLike(in.SQL) {
		rs, err := handle.Driver.Query(ctx, handle.DB, in.SQL, in.Args)
		if err != nil {
			return nil, protocol.CodeInternalError, err.Error()
		}
		driver.Sanitize(rs, w.fieldCap(), w.rowCap())

		out := protocol.ExecResult{
			Type:      "select",
			Columns:   columnsToResult(rs.Columns),
			Rows:      rowsToResult(rs.Rows),
			Truncated: rs.Truncated,
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, protocol.CodeInternalError, err.Error()
		}
		return data, 0, ""
	}

	affected, err := handle.Driver.Exec(ctx, handle.DB, in.SQL, in.Args)
	if err != nil {
		return nil, protocol.CodeInternalError, err.Error()
	}
	out := protocol.ExecResult{Type: "exec", Affected: affected}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, protocol.CodeInternalError, err.Error()
	}
	return data, 0, ""
}

func (w *Worker) fieldCap() int {
	if w.MaxFieldSize > 0 {
		return w.MaxFieldSize
	}
	return driver.MaxFieldSize
}

func (w *Worker) rowCap() int {
	if w.MaxResultRows > 0 {
		return w.MaxResultRows
	}
	return driver.MaxResultRows
}

// isSelectLike reports whether stmt's leading keyword routes it through the
// result-returning path rather than the affected-rows path.
func isSelectLike(stmt string) bool {
	trimmed := strings.TrimSpace(stmt)
	for _, kw := range selectLikeKeywords {
		if len(trimmed) >= len(kw) && strings.EqualFold(trimmed[:len(kw)], kw) {
			return true
		}
	}
	return false
}

func columnsToResult(cols []driver.Column) []protocol.ColumnResult {
	out := make([]protocol.ColumnResult, len(cols))
	for i, c := range cols {
		out[i] = protocol.ColumnResult{Name: c.Name, DataType: c.DataType}
	}
	return out
}

func rowsToResult(rows [][]driver.Cell) [][]protocol.CellResult {
	out := make([][]protocol.CellResult, len(rows))
	for i, row := range rows {
		cells := make([]protocol.CellResult, len(row))
		for j, c := range row {
			cells[j] = protocol.CellResult{Kind: string(c.Kind), Value: c.Value}
		}
		out[i] = cells
	}
	return out
}
