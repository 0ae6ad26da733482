package preview

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// ErrClosed is returned by a Sender after Close
var ErrClosed = errors.New("preview sender closed")

// Sender owns all writes to the preview socket. Frames and pings are
// serialized and nothing is written once the session has closed.
type Sender struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewSender wraps conn
func NewSender(conn *websocket.Conn) *Sender {
	return &Sender{conn: conn}
}

// SendJSON writes v as one text frame
func (s *Sender) SendJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// Ping writes a ping control frame
func (s *Sender) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a best-effort close frame and closes the socket. Only the
// first call has any effect.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}

// Closed reports whether Close has been called
func (s *Sender) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
