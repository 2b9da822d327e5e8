package chat

import (
	"encoding/json"
	"sync"

	"community-chat/internal/models"
	"community-chat/pkg/logger"

	"github.com/google/uuid"
)

// Sink is the outbound side of a connection. Enqueue must never block; it
// reports false when the connection's buffer is full or closed.
type Sink interface {
	Enqueue(data []byte) bool
	Close()
}

// Session ties one network connection to exactly one authenticated user and
// the set of rooms it has joined. Never persisted.
type Session struct {
	ID   string
	User *models.User

	sink Sink

	mu     sync.Mutex
	rooms  map[int64]bool
	closed bool
}

func newSession(user *models.User, sink Sink) *Session {
	return &Session{
		ID:    uuid.New().String(),
		User:  user,
		sink:  sink,
		rooms: make(map[int64]bool),
	}
}

func (s *Session) joined(roomID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[roomID]
}

func (s *Session) registerRoom(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = true
}

func (s *Session) unregisterRoom(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// roomIDs snapshots the joined set for disconnect cleanup.
func (s *Session) roomIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

// close marks the session dead and closes the sink exactly once. Safe to
// call repeatedly.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.sink.Close()
}

// send marshals one event frame to this session. Best-effort: a full buffer
// means the client is too far behind and the write pump will notice.
func (s *Session) send(event models.EventType, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Error marshaling %s payload: %v", event, err)
		return
	}

	frame, err := json.Marshal(models.Frame{Type: string(event), Payload: raw})
	if err != nil {
		logger.Error("Error marshaling %s frame: %v", event, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.sink.Enqueue(frame) {
		logger.Debug("Dropping %s event for slow session %s", event, s.ID)
	}
}

// enqueueFrame hands a pre-marshaled frame to the sink. Used by room
// fan-out so the frame is marshaled once per broadcast, not per session.
func (s *Session) enqueueFrame(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.sink.Enqueue(frame) {
		logger.Debug("Dropping broadcast frame for slow session %s", s.ID)
	}
}

func (s *Session) sendError(err error) {
	ce := asClientError(err)
	s.send(models.EventError, models.ErrorPayload{
		Code:       string(ce.Code),
		Message:    ce.Message,
		RetryAfter: ce.RetryAfter,
	})
}
