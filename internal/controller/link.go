package controller

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// link wraps one open connection with a single writer goroutine.
// ARCHITECTURAL DISCOVERY: gorilla connections allow one concurrent writer;
// every frame goes through writeCh so heartbeats and tracker sends never
// interleave.
type link struct {
	conn         Conn
	writeCh      chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newLink(conn Conn, writeTimeout time.Duration) *link {
	l := &link{
		conn:         conn,
		writeCh:      make(chan []byte, 100),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	go l.writeLoop()
	return l
}

func (l *link) writeLoop() {
	for {
		select {
		case data := <-l.writeCh:
			if err := l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout)); err != nil {
				l.shutdown(0, "")
				return
			}
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// The read side observes the failure and reports the close.
				l.shutdown(0, "")
				return
			}
		case <-l.done:
			return
		}
	}
}

func (l *link) enqueue(data []byte) error {
	select {
	case <-l.done:
		return ErrNotConnected
	default:
	}
	select {
	case l.writeCh <- data:
		return nil
	case <-time.After(l.writeTimeout):
		return ErrWriteTimeout
	case <-l.done:
		return ErrNotConnected
	}
}

// shutdown closes the connection, first sending a close frame when code is
// non-zero.
func (l *link) shutdown(code int, reason string) {
	l.closeOnce.Do(func() {
		close(l.done)
		if code != 0 {
			msg := websocket.FormatCloseMessage(code, reason)
			_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		_ = l.conn.Close()
	})
}
