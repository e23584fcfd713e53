package live

import (
	"math"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// WSConn adapts a websocket connection to Conn. Frames are text messages.
type WSConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewWSConn wraps ws. A positive writeTimeout bounds every Send. Deadlines
// inherited from the HTTP server are cleared; idle connections stay open.
// Message content has no length limit, so inbound frames are not capped.
func NewWSConn(ws *websocket.Conn, writeTimeout time.Duration) *WSConn {
	_ = ws.SetDeadline(time.Time{})
	ws.MaxPayloadBytes = math.MaxInt
	ws.PayloadType = websocket.TextFrame
	return &WSConn{ws: ws, writeTimeout: writeTimeout}
}

// Receive blocks until the next frame arrives.
func (c *WSConn) Receive() (string, error) {
	var frame string
	if err := websocket.Message.Receive(c.ws, &frame); err != nil {
		return "", err
	}
	return frame, nil
}

// Send writes one text frame.
func (c *WSConn) Send(frame string) error {
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return websocket.Message.Send(c.ws, frame)
}

// Close closes the socket once; later calls return the first result.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
