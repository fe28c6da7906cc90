package server

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"redskord/protocol"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Session is one websocket connection. It implements presence.Conn.
//
// Outbound frames go through a bounded queue drained by a single writer
// goroutine, so Send never blocks on the network and frames reach the peer
// in the order they were queued.
type Session struct {
	id         string
	conn       *websocket.Conn
	remoteAddr string
	log        *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	userID   string
	username string
}

func newSession(conn *websocket.Conn, buffer int, log *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:         id,
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		log:        log.With("conn", id),
		send:       make(chan []byte, buffer),
		done:       make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Send queues pkt for delivery. A peer too slow to drain its queue is disconnected.
func (s *Session) Send(pkt *protocol.Packet) error {
	frame, err := protocol.FormatPacket(pkt)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		s.log.Warn("send buffer full, dropping connection", "type", pkt.Type)
		s.Close()
		return ErrSendBufferFull
	}
}

// Close stops the writer after it flushes what is already queued.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) User() (id, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.username
}

func (s *Session) setUser(id, username string) {
	s.mu.Lock()
	s.userID, s.username = id, username
	s.mu.Unlock()
}

// writePump owns all writes to the websocket.
func (s *Session) writePump(writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			if err := s.write(websocket.TextMessage, frame, writeTimeout); err != nil {
				s.log.Debug("write failed", "error", err)
				s.Close()
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil, writeTimeout); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			s.flush(writeTimeout)
			s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), writeTimeout)
			return
		}
	}
}

// flush writes frames that were queued before the session was closed, such as a bye.
func (s *Session) flush(writeTimeout time.Duration) {
	for {
		select {
		case frame := <-s.send:
			if err := s.write(websocket.TextMessage, frame, writeTimeout); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(messageType int, data []byte, writeTimeout time.Duration) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(messageType, data)
}
