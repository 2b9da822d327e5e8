package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"community-chat/internal/database"
	"community-chat/internal/models"
	"community-chat/pkg/logger"
)

func (s *Service) handleSendMessage(ctx context.Context, sess *Session, payload json.RawMessage) error {
	var req models.SendMessageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errNotFound("malformed sendMessage payload")
	}
	_, err := s.SendMessage(ctx, sess, &req)
	return err
}

// SendMessage runs the full pipeline: authorization, moderation gate and
// sequence allocation under the room lock, persistence outside it, then
// fan-out in strict id order. Every session present in the room receives the
// broadcast, including the sender's other connections.
func (s *Service) SendMessage(ctx context.Context, sess *Session, req *models.SendMessageRequest) (*models.Message, error) {
	if err := s.canAct(ctx, sess, req.RoomID); err != nil {
		return nil, err
	}

	r := s.room(req.RoomID)
	if err := s.ensureSeq(ctx, r); err != nil {
		return nil, err
	}

	// Thread replies are normal messages with threadId set; resolve the
	// parent before touching the room lock.
	var thread *models.Thread
	if req.ThreadID != 0 {
		var err error
		thread, err = s.store.GetThread(ctx, req.ThreadID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, errNotFound("thread not found")
			}
			return nil, fmt.Errorf("thread lookup failed: %w", err)
		}
		if thread.RoomID != req.RoomID {
			return nil, errNotFound("thread not found in this room")
		}
	}

	now := s.now()
	userID := sess.User.ID

	r.mu.Lock()
	if err := s.gateSendLocked(r, userID); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	seq := r.allocSeqLocked()
	prevSent, hadSent := r.lastSent[userID]
	r.lastSent[userID] = now
	// Sending a message ends the typing state.
	r.stopTypingLocked(userID, true)
	r.mu.Unlock()

	msg := &models.Message{
		ID:        seq,
		RoomID:    req.RoomID,
		SenderID:  userID,
		Sender:    sess.User.Username,
		Body:      req.Body,
		Media:     req.Media,
		Audio:     req.Audio,
		ReplyTo:   req.ReplyTo,
		ThreadID:  req.ThreadID,
		Spoiler:   req.Spoiler,
		Mentions:  req.Mentions,
		CreatedAt: now,
	}

	if _, err := s.store.PersistMessage(ctx, msg); err != nil {
		r.mu.Lock()
		r.releaseSeqLocked(seq)
		// The slow-mode window measures from the last message actually
		// created; a failed send must not charge it. Skip the restore if a
		// later send already stamped a newer time.
		if t, ok := r.lastSent[userID]; ok && t.Equal(now) {
			if hadSent {
				r.lastSent[userID] = prevSent
			} else {
				delete(r.lastSent, userID)
			}
		}
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	if thread != nil {
		if err := s.store.IncrementReplyCount(ctx, req.RoomID, thread.ParentMessageID); err != nil {
			logger.Error("Error incrementing reply count for message %d: %v", thread.ParentMessageID, err)
		}
	}

	frame, ok := marshalFrame(models.EventNewMessage, msg)
	r.mu.Lock()
	if ok {
		r.deliverLocked(seq, frame)
	} else {
		r.abandoned[seq] = true
		r.flushLocked()
	}
	r.mu.Unlock()

	return msg, nil
}

func (s *Service) handleEditMessage(ctx context.Context, sess *Session, payload json.RawMessage) error {
	var req models.EditMessageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errNotFound("malformed editMessage payload")
	}
	return s.EditMessage(ctx, sess, &req)
}

// EditMessage replaces a message body. Only the original sender may edit,
// and not while exiled: exile blocks every write, edits included.
func (s *Service) EditMessage(ctx context.Context, sess *Session, req *models.EditMessageRequest) error {
	if err := s.canAct(ctx, sess, req.RoomID); err != nil {
		return err
	}

	r := s.room(req.RoomID)
	r.mu.Lock()
	gateErr := s.gateReactLocked(r, sess.User.ID)
	r.mu.Unlock()
	if gateErr != nil {
		return gateErr
	}

	msg, err := s.store.GetMessage(ctx, req.RoomID, req.MessageID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errNotFound("message not found")
		}
		return fmt.Errorf("message lookup failed: %w", err)
	}
	if msg.SenderID != sess.User.ID {
		return errForbidden("only the sender can edit a message")
	}

	if err := s.store.UpdateMessageBody(ctx, req.RoomID, req.MessageID, req.Body); err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	msg.Body = req.Body

	r.mu.Lock()
	r.broadcastLocked(models.EventMessageEdited, msg)
	r.mu.Unlock()
	return nil
}

func (s *Service) handleDeleteMessage(ctx context.Context, sess *Session, payload json.RawMessage) error {
	var req models.DeleteMessageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errNotFound("malformed deleteMessage payload")
	}
	return s.DeleteMessage(ctx, sess, &req)
}

// DeleteMessage tombstones a message: reactions cascade, attached media is
// handed to the media collaborator best-effort. Sender or admin only, and
// exile blocks it like any other write.
func (s *Service) DeleteMessage(ctx context.Context, sess *Session, req *models.DeleteMessageRequest) error {
	if err := s.canAct(ctx, sess, req.RoomID); err != nil {
		return err
	}

	r := s.room(req.RoomID)
	r.mu.Lock()
	gateErr := s.gateReactLocked(r, sess.User.ID)
	r.mu.Unlock()
	if gateErr != nil {
		return gateErr
	}

	msg, err := s.store.GetMessage(ctx, req.RoomID, req.MessageID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errNotFound("message not found")
		}
		return fmt.Errorf("message lookup failed: %w", err)
	}
	if msg.SenderID != sess.User.ID {
		if err := s.requireAdmin(ctx, sess, req.RoomID); err != nil {
			return err
		}
	}

	if err := s.store.DeleteReactionsForMessage(ctx, req.RoomID, req.MessageID); err != nil {
		return fmt.Errorf("failed to delete reactions: %w", err)
	}
	if err := s.store.DeleteMessage(ctx, req.RoomID, req.MessageID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	// Media cleanup is fire-and-forget: errors are logged, never propagated.
	refs := msg.Media
	if msg.Audio != "" {
		refs = append(refs, msg.Audio)
	}
	for _, ref := range refs {
		if err := s.store.DeleteMedia(ctx, ref); err != nil {
			logger.Error("Error deleting media %q for message %d: %v", ref, req.MessageID, err)
		}
	}

	r.mu.Lock()
	r.broadcastLocked(models.EventMessageDeleted, models.MessageDeletedPayload{
		RoomID:    req.RoomID,
		MessageID: req.MessageID,
	})
	r.mu.Unlock()
	return nil
}

func (s *Service) handleAddReaction(ctx context.Context, sess *Session, payload json.RawMessage) error {
	var req models.ReactionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errNotFound("malformed addReaction payload")
	}
	return s.AddReaction(ctx, sess, &req)
}

// AddReaction is idempotent per (message, user, kind): a duplicate is a
// silent no-op, not an error and not a second broadcast.
func (s *Service) AddReaction(ctx context.Context, sess *Session, req *models.ReactionRequest) error {
	if err := s.canAct(ctx, sess, req.RoomID); err != nil {
		return err
	}

	r := s.room(req.RoomID)
	r.mu.Lock()
	err := s.gateReactLocked(r, sess.User.ID)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if _, err := s.store.GetMessage(ctx, req.RoomID, req.MessageID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errNotFound("message not found")
		}
		return fmt.Errorf("message lookup failed: %w", err)
	}

	reaction := &models.Reaction{
		RoomID:    req.RoomID,
		MessageID: req.MessageID,
		UserID:    sess.User.ID,
		Kind:      req.Kind,
	}
	added, err := s.store.AddReaction(ctx, reaction)
	if err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}
	if !added {
		return nil
	}

	r.mu.Lock()
	r.broadcastLocked(models.EventNewReaction, reaction)
	r.mu.Unlock()
	return nil
}

func (s *Service) handleRemoveReaction(ctx context.Context, sess *Session, payload json.RawMessage) error {
	var req models.ReactionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errNotFound("malformed removeReaction payload")
	}
	return s.RemoveReaction(ctx, sess, &req)
}

func (s *Service) RemoveReaction(ctx context.Context, sess *Session, req *models.ReactionRequest) error {
	if err := s.canAct(ctx, sess, req.RoomID); err != nil {
		return err
	}

	reaction := &models.Reaction{
		RoomID:    req.RoomID,
		MessageID: req.MessageID,
		UserID:    sess.User.ID,
		Kind:      req.Kind,
	}
	removed, err := s.store.RemoveReaction(ctx, reaction)
	if err != nil {
		return fmt.Errorf("failed to remove reaction: %w", err)
	}
	if !removed {
		return nil
	}

	r := s.room(req.RoomID)
	r.mu.Lock()
	r.broadcastLocked(models.EventReactionRemoved, reaction)
	r.mu.Unlock()
	return nil
}
