package transport

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/mantis/gatewayd/internal/async"
	"github.com/mantis/gatewayd/internal/protocol"
)

// Dispatcher is the subset of the dispatcher the loop needs: route one
// parsed frame, and report whether "shutdown" has fired.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *protocol.Request) *protocol.Response
	ShutdownRequested() bool
}

// DefaultPollInterval bounds how long the loop can block between samples of
// the shutdown flag when neither input nor a completion is ready, standing
// in for the readiness wait's bounded timeout.
const DefaultPollInterval = 100 * time.Millisecond

// Loop owns the single protocol goroutine: it reads frames from a
// StdioTransport, dispatches them, and drains the async completion queue,
// writing every response through the transport's single writer.
type Loop struct {
	Transport    *StdioTransport
	Dispatcher   Dispatcher
	Queue        *async.Queue
	PollInterval time.Duration
}

// NewLoop creates a Loop with DefaultPollInterval.
func NewLoop(t *StdioTransport, d Dispatcher, q *async.Queue) *Loop {
	return &Loop{Transport: t, Dispatcher: d, Queue: q, PollInterval: DefaultPollInterval}
}

// Run reads and dispatches frames until EOF, a shutdown call, or ctx is
// canceled. Frame reading happens on a separate goroutine so the select
// below can also wake on completions and the poll ticker without blocking
// inside a read.
func (l *Loop) Run(ctx context.Context) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go l.readLoop(lines, readErr)

	ticker := time.NewTicker(l.pollInterval())
	defer ticker.Stop()

	for {
		l.drainCompletions()
		if l.Dispatcher.ShutdownRequested() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				l.drainCompletions()
				err := <-readErr
				if err == io.EOF {
					return nil
				}
				return err
			}
			l.handleLine(ctx, line)

		case <-l.Queue.Wake:
			// Drained at the top of the next iteration.

		case <-ticker.C:
			// Bounded wake to re-sample the shutdown flag.
		}
	}
}

func (l *Loop) pollInterval() time.Duration {
	if l.PollInterval > 0 {
		return l.PollInterval
	}
	return DefaultPollInterval
}

// readLoop feeds complete lines to lines until EOF or a read error, then
// closes lines and reports the terminal error on readErr.
func (l *Loop) readLoop(lines chan<- []byte, readErr chan<- error) {
	defer close(lines)
	for {
		line, err := l.Transport.ReadLine()
		if err != nil {
			readErr <- err
			return
		}
		lines <- line
	}
}

func (l *Loop) handleLine(ctx context.Context, line []byte) {
	var req protocol.Request
	if err := json.Unmarshal(line, &req); err != nil {
		l.Transport.WriteResponse(protocol.NewError(nil, protocol.CodeParseError, "Parse error"))
		return
	}
	if req.JSONRPC != protocol.Version || req.Method == "" {
		l.Transport.WriteResponse(protocol.NewError(req.ID, protocol.CodeInvalidRequest, "invalid request"))
		return
	}

	resp := l.Dispatcher.Dispatch(ctx, &req)
	if resp == nil {
		return
	}
	l.Transport.WriteResponse(resp)
}

// drainCompletions writes one response per terminal async query currently
// queued, skipping those launched for a notification (no id to respond to).
func (l *Loop) drainCompletions() {
	for _, q := range l.Queue.PopAll() {
		if q.RequestID == nil {
			continue
		}
		l.Transport.WriteResponse(responseFromQuery(q))
	}
}

func responseFromQuery(q *async.Query) *protocol.Response {
	if q.Err != nil {
		return protocol.NewError(q.RequestID, q.Err.Code, q.Err.Message)
	}
	return &protocol.Response{JSONRPC: protocol.Version, ID: q.RequestID, Result: q.Result}
}
