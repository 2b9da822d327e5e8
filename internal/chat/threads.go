package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"community-chat/internal/database"
	"community-chat/internal/models"
)

func (s *Service) handleCreateThread(ctx context.Context, sess *Session, payload json.RawMessage) error {
	var req models.CreateThreadRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errNotFound("malformed createThread payload")
	}
	_, err := s.CreateThread(ctx, sess, &req)
	return err
}

// CreateThread is idempotent: the first call creates the thread, every later
// call — including a concurrent race — returns the existing id. The
// check-then-insert runs under the room lock so two racing calls cannot both
// create; the duplicate resolves to the same id rather than a Conflict error.
func (s *Service) CreateThread(ctx context.Context, sess *Session, req *models.CreateThreadRequest) (int64, error) {
	if err := s.canAct(ctx, sess, req.RoomID); err != nil {
		return 0, err
	}

	r := s.room(req.RoomID)
	r.mu.Lock()
	err := s.gateReactLocked(r, sess.User.ID)
	r.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if _, err := s.store.GetMessage(ctx, req.RoomID, req.ParentMessageID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return 0, errNotFound("parent message not found")
		}
		return 0, fmt.Errorf("parent lookup failed: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.threads[req.ParentMessageID]; ok {
		sess.send(models.EventThreadCreated, models.ThreadCreatedPayload{
			RoomID:          req.RoomID,
			ThreadID:        id,
			ParentMessageID: req.ParentMessageID,
		})
		return id, nil
	}

	// Store I/O under the room lock is tolerated here: thread creation is
	// rare and the lock is exactly what makes check-then-insert safe.
	thread, err := s.store.GetThreadByParent(ctx, req.RoomID, req.ParentMessageID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return 0, fmt.Errorf("thread lookup failed: %w", err)
	}
	if thread != nil {
		r.threads[req.ParentMessageID] = thread.ID
		sess.send(models.EventThreadCreated, models.ThreadCreatedPayload{
			RoomID:          req.RoomID,
			ThreadID:        thread.ID,
			ParentMessageID: req.ParentMessageID,
		})
		return thread.ID, nil
	}

	thread, err = s.store.CreateThread(ctx, req.RoomID, req.ParentMessageID)
	if err != nil {
		return 0, fmt.Errorf("failed to create thread: %w", err)
	}
	r.threads[req.ParentMessageID] = thread.ID

	r.broadcastLocked(models.EventThreadCreated, models.ThreadCreatedPayload{
		RoomID:          req.RoomID,
		ThreadID:        thread.ID,
		ParentMessageID: req.ParentMessageID,
	})
	return thread.ID, nil
}

func (s *Service) handleGetThreadMessages(ctx context.Context, sess *Session, payload json.RawMessage) error {
	var req models.GetThreadMessagesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errNotFound("malformed getThreadMessages payload")
	}
	return s.ThreadMessages(ctx, sess, &req)
}

// ThreadMessages serves the finite, store-backed reply sequence to the
// requesting session only. Live updates arrive via the normal newMessage
// broadcast filtered by threadId on the consumer side.
func (s *Service) ThreadMessages(ctx context.Context, sess *Session, req *models.GetThreadMessagesRequest) error {
	thread, err := s.store.GetThread(ctx, req.ThreadID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errNotFound("thread not found")
		}
		return fmt.Errorf("thread lookup failed: %w", err)
	}
	if err := s.canAct(ctx, sess, thread.RoomID); err != nil {
		return err
	}

	messages, err := s.store.LoadThreadMessages(ctx, req.ThreadID)
	if err != nil {
		return fmt.Errorf("failed to load thread messages: %w", err)
	}

	sess.send(models.EventThreadMessages, models.ThreadMessagesPayload{
		ThreadID: req.ThreadID,
		Messages: messages,
	})
	return nil
}
