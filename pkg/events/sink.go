package events

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HTTPSink streams frames to an http.ResponseWriter. The handler that owns
// the writer must stay running until the subscriber's Done channel closes.
type HTTPSink struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
}

// NewHTTPSink wraps w. A positive writeTimeout puts a deadline on every
// frame so a stalled client fails instead of blocking the hub.
func NewHTTPSink(w http.ResponseWriter, writeTimeout time.Duration) *HTTPSink {
	return &HTTPSink{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
	}
}

// WriteHeaders sends the event-stream response headers.
func (s *HTTPSink) WriteHeaders() error {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

// WriteFrame implements Sink.
func (s *HTTPSink) WriteFrame(frame []byte) error {
	if s.writeTimeout > 0 {
		err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	return s.flush()
}

func (s *HTTPSink) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// WebSocketSink sends each frame as one text message.
type WebSocketSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	closeOnce sync.Once
}

// NewWebSocketSink wraps an upgraded connection. The hub closes it on removal.
func NewWebSocketSink(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketSink {
	return &WebSocketSink{conn: conn, writeTimeout: writeTimeout}
}

// WriteFrame implements Sink.
func (s *WebSocketSink) WriteFrame(frame []byte) error {
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a normal closure and closes the connection.
func (s *WebSocketSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		err = s.conn.Close()
	})
	return err
}
