package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsCloseTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn exposes a WebSocket connection as a byte stream. Every Write is
// sent as one binary message; Read consumes messages back to back, so
// message boundaries carry no meaning to the framing layered on top.
type wsConn struct {
	conn *websocket.Conn

	r io.Reader // reader for the current inbound message

	wmu       sync.Mutex
	closeSent bool
}

// DialWebSocket connects to a replication WebSocket endpoint.
func DialWebSocket(ctx context.Context, url string) (Duplex, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return Duplex{}, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return NewWebSocketDuplex(conn), nil
}

// NewWebSocketDuplex wraps an established WebSocket connection. A received
// close frame ends the inbound direction only; the reply is sent by
// CloseWrite once this side has flushed its own frames.
func NewWebSocketDuplex(conn *websocket.Conn) Duplex {
	conn.SetCloseHandler(func(int, string) error { return nil })
	c := &wsConn{conn: conn}
	return Duplex{Reader: c, Writer: c}
}

// WebSocketHandler upgrades each request and hands the resulting Duplex to
// serve, which runs on the request goroutine. The connection is closed
// when serve returns.
func WebSocketHandler(serve func(r *http.Request, d Duplex)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d := NewWebSocketDuplex(conn)
		defer d.Close()
		serve(r, d)
	})
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			typ, r, err := c.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			c.r = r
		}

		n, err := c.r.Read(p)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closeSent {
		return 0, ErrWriteClosed
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// CloseWrite sends a normal-closure close frame. The peer reads io.EOF;
// this side keeps reading until the peer's own close frame arrives.
func (c *wsConn) CloseWrite() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closeSent {
		return nil
	}
	c.closeSent = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseTimeout))
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
