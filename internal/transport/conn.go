package transport

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/gorilla/websocket"
)

// dialHandshakeTimeout bounds the WebSocket upgrade itself, distinct
// from the 10s auth-frame handshake timeout enforced by the
// Supervisor once the socket is open.
const dialHandshakeTimeout = 15 * time.Second

// dial opens the WebSocket connection to the Inference Engine. TLS
// verification is controlled by sslVerify; the dialer otherwise
// behaves like websocket.DefaultDialer.
func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = dialHandshakeTimeout
	if !t.sslVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// writeFrame serializes f and writes it as a single text frame. A
// mutex guards the socket so concurrent callers never interleave
// bytes of two outbound frames.
func (t *Transport) writeFrame(f Frame) error {
	payload, err := encodeFrame(f)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn := t.currentConn()
	if conn == nil {
		return newError(KindEngineUnavailable, "no active connection")
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *Transport) setConn(conn *websocket.Conn) {
	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
}

func (t *Transport) currentConn() *websocket.Conn {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.conn
}

func (t *Transport) closeConn(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	_ = conn.Close()
	t.connMu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.connMu.Unlock()
}
