package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantis/gatewayd/internal/async"
	"github.com/mantis/gatewayd/internal/protocol"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	shutdown bool
	handle   func(req *protocol.Request) *protocol.Response
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	return f.handle(req)
}

func (f *fakeDispatcher) ShutdownRequested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdown
}

func (f *fakeDispatcher) setShutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
}

func TestLoop_Run_WritesResponsePerRequest(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"ping"}
{"jsonrpc":"2.0","id":2,"method":"ping"}
`
	var out bytes.Buffer
	trans := NewStdioTransport(strings.NewReader(input), &out)
	disp := &fakeDispatcher{handle: func(req *protocol.Request) *protocol.Response {
		resp, _ := protocol.NewSuccess(req.ID, struct{}{})
		return resp
	}}
	loop := NewLoop(trans, disp, async.NewQueue())
	loop.PollInterval = 10 * time.Millisecond

	require.NoError(t, loop.Run(context.Background()))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
}

func TestLoop_Run_NotificationGetsNoResponse(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"ping"}
`
	var out bytes.Buffer
	trans := NewStdioTransport(strings.NewReader(input), &out)
	called := false
	disp := &fakeDispatcher{handle: func(req *protocol.Request) *protocol.Response {
		called = true
		assert.True(t, req.IsNotification())
		return nil
	}}
	loop := NewLoop(trans, disp, async.NewQueue())
	loop.PollInterval = 10 * time.Millisecond

	require.NoError(t, loop.Run(context.Background()))
	assert.True(t, called, "dispatcher should still have been invoked for the notification")
	assert.Zero(t, out.Len())
}

func TestLoop_Run_InvalidJSON_ParseError(t *testing.T) {
	input := "{not valid json}\n"
	var out bytes.Buffer
	trans := NewStdioTransport(strings.NewReader(input), &out)
	disp := &fakeDispatcher{handle: func(req *protocol.Request) *protocol.Response {
		t.Fatal("dispatcher should not be invoked for unparsable input")
		return nil
	}}
	loop := NewLoop(trans, disp, async.NewQueue())
	loop.PollInterval = 10 * time.Millisecond

	require.NoError(t, loop.Run(context.Background()))

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(bytes.TrimSuffix(out.Bytes(), []byte("\n")), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeParseError, resp.Error.Code)
}

func TestLoop_Run_MissingMethod_InvalidRequest(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1}` + "\n"
	var out bytes.Buffer
	trans := NewStdioTransport(strings.NewReader(input), &out)
	disp := &fakeDispatcher{handle: func(req *protocol.Request) *protocol.Response {
		t.Fatal("dispatcher should not be invoked for a malformed request")
		return nil
	}}
	loop := NewLoop(trans, disp, async.NewQueue())
	loop.PollInterval = 10 * time.Millisecond

	require.NoError(t, loop.Run(context.Background()))

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(bytes.TrimSuffix(out.Bytes(), []byte("\n")), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Error.Code)
}

func TestLoop_Run_StopsAtShutdownFlag(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"shutdown"}
{"jsonrpc":"2.0","id":2,"method":"ping"}
`
	var out bytes.Buffer
	trans := NewStdioTransport(strings.NewReader(input), &out)
	disp := &fakeDispatcher{}
	disp.handle = func(req *protocol.Request) *protocol.Response {
		if req.Method == "shutdown" {
			disp.setShutdown()
		}
		resp, _ := protocol.NewSuccess(req.ID, struct{}{})
		return resp
	}
	loop := NewLoop(trans, disp, async.NewQueue())
	loop.PollInterval = 10 * time.Millisecond

	require.NoError(t, loop.Run(context.Background()))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	assert.Len(t, lines, 1, "loop should stop after shutdown, before the second line")
}

func TestLoop_Run_DrainsCompletionQueue(t *testing.T) {
	var out bytes.Buffer
	pr, pw := io.Pipe()
	defer pw.Close()
	trans := NewStdioTransport(pr, &out)
	disp := &fakeDispatcher{handle: func(req *protocol.Request) *protocol.Response { return nil }}
	queue := async.NewQueue()
	loop := NewLoop(trans, disp, queue)
	loop.PollInterval = 10 * time.Millisecond

	q := async.NewQuery(1, json.RawMessage("7"), async.KindRawStatement)
	q.Complete(json.RawMessage(`{"ok":true}`))
	queue.Launch(q)
	queue.Push(q)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := loop.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(bytes.TrimSuffix(out.Bytes(), []byte("\n")), &resp))
	assert.Equal(t, "7", string(resp.ID))
}

func TestLoop_Run_SkipsCompletionForNotification(t *testing.T) {
	var out bytes.Buffer
	pr, pw := io.Pipe()
	defer pw.Close()
	trans := NewStdioTransport(pr, &out)
	disp := &fakeDispatcher{handle: func(req *protocol.Request) *protocol.Response { return nil }}
	queue := async.NewQueue()
	loop := NewLoop(trans, disp, queue)
	loop.PollInterval = 10 * time.Millisecond

	q := async.NewQuery(1, nil, async.KindRawStatement)
	q.Complete(json.RawMessage(`{"ok":true}`))
	queue.Launch(q)
	queue.Push(q)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_ = loop.Run(ctx)

	assert.Zero(t, out.Len(), "notification-launched query has no id to respond to")
}
