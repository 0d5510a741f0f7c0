package host

import (
	"sync"

	"github.com/rexliu/biosdk/pkg/bio"
	"github.com/rexliu/biosdk/pkg/ipc"
)

// Session is one connected miniapp.
type Session struct {
	id     string
	origin string
	conn   ipc.Conn
	server *Server

	mu    sync.Mutex
	appID string
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Origin() string { return s.origin }

// AppID returns the app slot this session occupies, if any.
func (s *Session) AppID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appID
}

func (s *Session) setAppID(id string) (prev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, s.appID = s.appID, id
	return prev
}

// Emit pushes a bio_event to this session.
func (s *Session) Emit(name string, args ...any) error {
	data, err := bio.Encode(&bio.Event{Event: name, Args: args})
	if err != nil {
		return err
	}
	if err := s.conn.WriteMessage(data); err != nil {
		return err
	}
	s.server.metrics.EventSent(name)
	return nil
}
