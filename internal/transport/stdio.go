// Package transport owns the byte streams: framing newline-delimited JSON
// off stdin, and serializing responses back to stdout through a single
// writer so synchronous and deferred response paths never interleave their
// bytes.
package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/mantis/gatewayd/internal/protocol"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// StdioTransport reads NDJSON frames from reader and writes NDJSON
// responses to writer. Write is safe for concurrent use; Read is not meant
// to be called concurrently with itself (the read loop owns it alone).
type StdioTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex
}

// NewStdioTransport wraps reader/writer in NDJSON framing.
func NewStdioTransport(reader io.Reader, writer io.Writer) *StdioTransport {
	return &StdioTransport{
		reader: bufio.NewReader(reader),
		writer: writer,
	}
}

// ReadLine returns the next non-empty line with its trailing newline and any
// BOM stripped. Empty lines are skipped silently, per the framing rule that
// a zero-length line carries no message. Returns io.EOF once the stream is
// exhausted, possibly after returning one final unterminated line.
func (t *StdioTransport) ReadLine() ([]byte, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		if len(line) > 0 {
			line = stripBOM(line)
			trimmed := trimEOL(line)
			if len(trimmed) > 0 {
				if err != nil && err != io.EOF {
					return nil, fmt.Errorf("read line: %w", err)
				}
				return trimmed, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func stripBOM(line []byte) []byte {
	if len(line) >= 3 && line[0] == utf8BOM[0] && line[1] == utf8BOM[1] && line[2] == utf8BOM[2] {
		return line[3:]
	}
	return line
}

func trimEOL(line []byte) []byte {
	n := len(line)
	for n > 0 && (line[n-1] == '\n' || line[n-1] == '\r') {
		n--
	}
	return line[:n]
}

// WriteResponse marshals resp and writes it as one NDJSON line. Guarded by
// a mutex so synchronous responses and completions drained from the async
// queue never interleave their bytes, even though in practice only the
// protocol loop goroutine calls it.
func (t *StdioTransport) WriteResponse(resp *protocol.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.writer.Write(data)
	return err
}
