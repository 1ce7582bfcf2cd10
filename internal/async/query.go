// Package async runs blocking driver calls off the protocol loop and
// delivers their outcomes back through a completion queue, so a single
// goroutine can multiplex request reads, response writes, and deferred
// results without ever blocking inside a driver call. It is the Go
// rendering of the self-pipe pattern: a goroutine-per-query plays the
// worker thread, and a buffered channel plays the self-pipe's wake byte.
package async

import (
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mantis/gatewayd/internal/protocol"
)

// Kind identifies the shape of work an async Query performs.
type Kind int

const (
	// KindPaginatedRead reads a page of a table plus its row count.
	KindPaginatedRead Kind = iota
	// KindRawStatement runs a client-supplied SQL statement.
	KindRawStatement
)

// Status is a Query's lifecycle state. Once a Query reaches one of the
// terminal states (Completed, Cancelled, Error) it never transitions again.
type Status int32

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusCancelled
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// PaginatedInput carries the parameters of a KindPaginatedRead query.
type PaginatedInput struct {
	Table   string
	Offset  int
	Limit   int
	OrderBy string
}

// RawInput carries the parameters of a KindRawStatement query.
type RawInput struct {
	SQL  string
	Args []interface{}
}

// Query is one async request record: created when the dispatcher decides to
// run a call off the protocol thread, observed by its worker, and destroyed
// by the response writer once it serializes the terminal state.
type Query struct {
	// SlotID is the session slot the query runs against.
	SlotID int64
	// RequestID is a deep copy of the client's JSON-RPC id, preserved across
	// the deferred gap so the response writer can correlate.
	RequestID json.RawMessage
	// CorrelationID identifies this query in structured logs independent of
	// SlotID, since a slot is reused by many queries over its lifetime.
	CorrelationID string

	Kind    Kind
	Paginated PaginatedInput
	Raw     RawInput

	status int32 // atomic, holds a Status value

	// cancelRequested is set by the protocol thread and observed by the
	// worker only after the driver call returns; it never interrupts the
	// call itself, it only overrides how the outcome is reported.
	cancelRequested atomic.Bool

	// Result and Err are mutually exclusive in a terminal state. Result is
	// already-marshaled JSON so the response writer never re-marshals driver
	// output.
	Result json.RawMessage
	Err    *protocol.Error
}

// NewQuery creates a pending query record.
func NewQuery(slotID int64, requestID json.RawMessage, kind Kind) *Query {
	return &Query{
		SlotID:        slotID,
		RequestID:     requestID,
		CorrelationID: uuid.NewString(),
		Kind:          kind,
		status:        int32(StatusPending),
	}
}

// Status returns the query's current lifecycle state.
func (q *Query) Status() Status {
	return Status(atomic.LoadInt32(&q.status))
}

// setStatus transitions to s. Callers only ever move pending->running or
// running->one of the terminal states; nothing enforces that here because
// the worker is the sole writer after launch.
func (q *Query) setStatus(s Status) {
	atomic.StoreInt32(&q.status, int32(s))
}

// RequestCancel marks the query as cancel-requested. Safe to call from any
// goroutine; observed by the worker after its driver call returns.
func (q *Query) RequestCancel() {
	q.cancelRequested.Store(true)
}

// CancelRequested reports whether RequestCancel was called.
func (q *Query) CancelRequested() bool {
	return q.cancelRequested.Load()
}

// Complete marks the query completed with a JSON result.
func (q *Query) Complete(result json.RawMessage) {
	q.Result = result
	q.setStatus(StatusCompleted)
}

// Fail marks the query as errored with code/message.
func (q *Query) Fail(code int, message string) {
	q.Err = &protocol.Error{Code: code, Message: message}
	q.setStatus(StatusError)
}

// Cancel marks the query cancelled, overriding whatever outcome the driver
// call produced.
func (q *Query) Cancel() {
	q.Err = &protocol.Error{Code: protocol.CodeCancelled, Message: "Query cancelled"}
	q.setStatus(StatusCancelled)
}
