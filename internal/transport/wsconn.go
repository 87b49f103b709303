// Package transport implements the WebSocket-SSH transport (spec.md §4.6):
// an SSH byte stream tunneled through a single WebSocket connection, with
// exec and SFTP exposed on top. Both the client dial side and the daemon's
// accept side live here since they share the framing adapter.
package transport

import (
	"context"
	"io"
	"sync"

	"github.com/coder/websocket"
)

// wsConn adapts a *websocket.Conn into an io.ReadWriteCloser carrying raw
// bytes in binary frames only, as required by §4.6 ("no text frames are
// produced; text frames on input are undefined behavior").
type wsConn struct {
	ctx context.Context
	ws  *websocket.Conn

	mu     sync.Mutex
	reader io.Reader

	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ctx context.Context, ws *websocket.Conn) *wsConn {
	return &wsConn{ctx: ctx, ws: ws}
}

// Read implements io.Reader by concatenating successive binary message
// frames, per §4.6's framing rule.
func (c *wsConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.reader != nil {
			n, err := c.reader.Read(p)
			if err == io.EOF {
				c.reader = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}

		typ, r, err := c.ws.Reader(c.ctx)
		if err != nil {
			return 0, err
		}
		if typ != websocket.MessageBinary {
			// Undefined behavior per §4.6: reject text frames.
			return 0, io.ErrUnexpectedEOF
		}
		c.reader = r
	}
}

// Write implements io.Writer by sending one binary frame per call.
func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.Write(c.ctx, websocket.MessageBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the underlying WebSocket. Idempotent.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close(websocket.StatusNormalClosure, "closed")
	})
	return c.closeErr
}
