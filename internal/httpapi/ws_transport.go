package httpapi

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lukasbauer/coach/internal/observability"
	"github.com/lukasbauer/coach/internal/protocol"
)

var errTransportClosed = errors.New("transport closed")

// wsTransport serializes writes to one websocket. gorilla connections allow
// a single concurrent writer, and the synthesizer's drain goroutine writes
// alongside the protocol loop.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	metrics      *observability.Metrics

	mu     sync.Mutex
	closed bool
}

func newWSTransport(conn *websocket.Conn, writeTimeout time.Duration, m *observability.Metrics) *wsTransport {
	return &wsTransport{conn: conn, writeTimeout: writeTimeout, metrics: m}
}

// Send writes v as one JSON text frame.
func (t *wsTransport) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	if t.metrics != nil {
		t.metrics.Outbound(messageTypeOf(data))
	}
	return nil
}

// Close sends a close frame with code and reason, then closes the socket.
// Only the first call has any effect.
func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if len(reason) > 120 {
		reason = reason[:120]
	}
	_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	return t.conn.Close()
}

func (t *wsTransport) ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

func messageTypeOf(data []byte) string {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		return "unknown"
	}
	return string(env.Type)
}
