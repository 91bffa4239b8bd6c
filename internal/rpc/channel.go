package rpc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"aer/internal/logging"
)

// MaxLineBytes bounds a single buffered line. Longer lines are discarded up
// to the next newline.
const MaxLineBytes = 16 << 20

// Handlers receives decoded messages. Nil handlers drop their messages.
type Handlers struct {
	OnResponse func(*Response)
	OnEvent    func(*Event)
}

// Channel frames newline-delimited JSON over one duplex stream. Writes are
// serialized; reads are fed through OnData or Consume by a single goroutine.
type Channel struct {
	writeMu sync.Mutex
	w       io.Writer

	readMu     sync.Mutex
	buf        []byte
	discarding bool

	handlers Handlers
	logger   *slog.Logger
}

// NewChannel returns a channel writing requests to w.
func NewChannel(w io.Writer, handlers Handlers, logger *slog.Logger) *Channel {
	return &Channel{
		w:        w,
		handlers: handlers,
		logger:   logging.NewComponentLogger(logger, "rpc"),
	}
}

// Send writes req as a single line.
func (c *Channel) Send(req Request) error {
	data, err := Encode(req)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.w == nil {
		return errors.New("rpc channel has no writer")
	}
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("write request %d (%s): %w", req.ID, req.Method, err)
	}
	return nil
}

// OnData appends chunk to the line buffer and dispatches every complete line.
// Chunks may split lines, and UTF-8 sequences, at any byte.
func (c *Channel) OnData(chunk []byte) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			c.buffer(chunk)
			return
		}
		if c.discarding {
			c.discarding = false
		} else {
			c.buffer(chunk[:idx])
			if !c.discarding {
				c.handleLine(c.buf)
			}
			c.discarding = false
		}
		c.buf = c.buf[:0]
		chunk = chunk[idx+1:]
	}
}

func (c *Channel) buffer(part []byte) {
	if c.discarding {
		return
	}
	if len(c.buf)+len(part) > MaxLineBytes {
		c.logger.Warn("rpc line exceeds limit; discarding",
			logging.Int("limit_bytes", MaxLineBytes),
			logging.String(logging.FieldEventType, "rpc_line_too_long"),
		)
		c.buf = c.buf[:0]
		c.discarding = true
		return
	}
	c.buf = append(c.buf, part...)
}

// Consume pumps r through OnData until EOF or a read error. A trailing line
// without a newline is discarded.
func (c *Channel) Consume(r io.Reader) error {
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			c.OnData(chunk[:n])
		}
		if err != nil {
			c.dropPartial()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (c *Channel) dropPartial() {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if len(bytes.TrimSpace(c.buf)) > 0 {
		c.logger.Debug("discarding unterminated rpc line", logging.Int("bytes", len(c.buf)))
	}
	c.buf = c.buf[:0]
	c.discarding = false
}

func (c *Channel) handleLine(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	msg, err := Decode(line)
	if err != nil {
		c.logger.Warn("dropping undecodable rpc line",
			logging.Error(err),
			logging.String("line", truncate(line, 200)),
			logging.String(logging.FieldEventType, "rpc_decode_failed"),
		)
		return
	}
	switch m := msg.(type) {
	case *Response:
		if c.handlers.OnResponse != nil {
			c.handlers.OnResponse(m)
		}
	case *Event:
		if c.handlers.OnEvent != nil {
			c.handlers.OnEvent(m)
		}
	case *Request:
		c.logger.Debug("ignoring request from peer",
			logging.Int64(logging.FieldRequestID, m.ID),
			logging.String(logging.FieldMethod, m.Method),
		)
	}
}

func truncate(line []byte, limit int) string {
	if len(line) <= limit {
		return string(line)
	}
	return string(line[:limit]) + "..."
}
