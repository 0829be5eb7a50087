package registry

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
)

// WSSession adapts a websocket connection to Session. gorilla connections
// allow one concurrent writer, hence the write lock.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWSSession(conn *websocket.Conn) *WSSession {
	return &WSSession{conn: conn}
}

func (s *WSSession) Send(ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

func (s *WSSession) Close() error {
	return s.conn.Close()
}
