package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"wearlink/internal/core/ports"
	apperrors "wearlink/pkg/errors"
)

// defaultWriteTimeout bounds a single socket write when the caller's
// context has no deadline.
const defaultWriteTimeout = 10 * time.Second

// WebSocketDialer opens gateway connections over secure WebSocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
}

// NewWebSocketDialer creates a dialer with the given handshake timeout.
func NewWebSocketDialer(handshakeTimeout time.Duration) *WebSocketDialer {
	return &WebSocketDialer{
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
}

// Dial opens the socket and wraps it as a ports.Transport.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (ports.Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   d.ReadBufferSize,
		WriteBufferSize:  d.WriteBufferSize,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeHandshake, "gateway dial failed").WithContext("url", url)
	}

	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

// WriteMessage writes one text message, bounded by the context deadline.
func (t *wsTransport) WriteMessage(ctx context.Context, data []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage blocks until the next message or connection close.
func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

// Close closes the underlying connection.
func (t *wsTransport) Close() error {
	// Best effort close frame; the peer may already be gone.
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}

// IsExpectedClose reports whether a read error is a normal close rather
// than a failure worth surfacing.
func IsExpectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
