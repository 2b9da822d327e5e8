package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"community-chat/internal/config"
	"community-chat/internal/database"
	"community-chat/internal/models"
	"community-chat/pkg/logger"
)

// Authenticator turns connection credentials into a verified user snapshot.
type Authenticator interface {
	UserFromToken(token string) (*models.User, error)
}

type handlerFunc func(ctx context.Context, sess *Session, payload json.RawMessage) error

// Service is the chat core: session registry, room state and the dispatch
// table for inbound requests. Collaborators are constructor-injected so
// tests can run isolated instances.
type Service struct {
	store database.Store
	auth  Authenticator

	typingWindow time.Duration
	historyLimit int
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	rooms    map[int64]*roomState
	stopped  bool

	handlers map[string]handlerFunc
}

func New(store database.Store, auth Authenticator, cfg config.ChatConfig) *Service {
	s := &Service{
		store:        store,
		auth:         auth,
		typingWindow: cfg.TypingWindow,
		historyLimit: cfg.HistoryLimit,
		now:          time.Now,
		sessions:     make(map[string]*Session),
		rooms:        make(map[int64]*roomState),
	}

	s.handlers = map[string]handlerFunc{
		models.RequestJoinGroup:         s.handleJoinGroup,
		models.RequestLeaveGroup:        s.handleLeaveGroup,
		models.RequestSendMessage:       s.handleSendMessage,
		models.RequestEditMessage:       s.handleEditMessage,
		models.RequestDeleteMessage:     s.handleDeleteMessage,
		models.RequestAddReaction:       s.handleAddReaction,
		models.RequestRemoveReaction:    s.handleRemoveReaction,
		models.RequestCreateThread:      s.handleCreateThread,
		models.RequestGetThreadMessages: s.handleGetThreadMessages,
		models.RequestStartTyping:       s.handleStartTyping,
		models.RequestStopTyping:        s.handleStopTyping,
		models.RequestAdminAction:       s.handleAdminAction,
		models.RequestStartCountdown:    s.handleStartCountdown,
		models.RequestSendQuoteMacro:    s.handleSendQuoteMacro,
	}

	return s
}

// Connect authenticates a connection and registers its session.
func (s *Service) Connect(sink Sink, token string) (*Session, error) {
	user, err := s.auth.UserFromToken(token)
	if err != nil {
		return nil, errAuth("invalid token")
	}

	sess := newSession(user, sink)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, errAuth("service stopped")
	}
	s.sessions[sess.ID] = sess

	logger.Debug("Session %s connected for user %d", sess.ID, user.ID)
	return sess, nil
}

// Disconnect releases all room registrations for a session and triggers the
// presence/typing cleanup for each. Idempotent: a second call is a no-op.
func (s *Service) Disconnect(sess *Session) {
	s.mu.Lock()
	if _, ok := s.sessions[sess.ID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sess.ID)
	s.mu.Unlock()

	for _, roomID := range sess.roomIDs() {
		s.leaveRoom(sess, roomID)
	}
	sess.close()

	logger.Debug("Session %s disconnected", sess.ID)
}

// Dispatch routes one inbound frame. Validation errors go back to the
// originating session only; they never broadcast.
func (s *Service) Dispatch(ctx context.Context, sess *Session, data []byte) {
	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		sess.sendError(&Error{Code: CodeNotFound, Message: "malformed frame"})
		return
	}

	handler, ok := s.handlers[frame.Type]
	if !ok {
		sess.sendError(&Error{Code: CodeNotFound, Message: fmt.Sprintf("unknown request %q", frame.Type)})
		return
	}

	if err := handler(ctx, sess, frame.Payload); err != nil {
		if ce := asClientError(err); ce.Code == CodeStore {
			logger.Error("Request %s from user %d failed: %v", frame.Type, sess.User.ID, err)
		}
		sess.sendError(err)
	}
}

// SessionsInRoom returns the session ids currently present in a room.
func (s *Service) SessionsInRoom(roomID int64) []string {
	r := s.room(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, sess := range r.sessionsLocked() {
		ids = append(ids, sess.ID)
	}
	return ids
}

// Stop cancels all timers and closes every session. The service cannot be
// restarted.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	rooms := make([]*roomState, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		r.stopTimersLocked()
		r.mu.Unlock()
	}
	for _, sess := range sessions {
		s.Disconnect(sess)
	}
}

// room returns the state for a room, creating it lazily. The sequence
// counter is initialized separately (ensureSeq) because it needs store I/O.
func (s *Service) room(roomID int64) *roomState {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		r = newRoomState(roomID)
		s.rooms[roomID] = r
	}
	return r
}

// ensureSeq loads the room's last persisted message id once and seeds both
// the allocator and the broadcast sequencer from it.
func (s *Service) ensureSeq(ctx context.Context, r *roomState) error {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	if r.seqLoaded {
		return nil
	}

	last, err := s.store.LastMessageID(ctx, r.id)
	if err != nil {
		return fmt.Errorf("failed to load last message id for room %d: %w", r.id, err)
	}

	r.mu.Lock()
	r.nextSeq = last + 1
	r.nextDeliver = r.nextSeq
	r.mu.Unlock()
	r.seqLoaded = true
	return nil
}
