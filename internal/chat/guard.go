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

// canAct checks room membership for a send/react/reply action. The store is
// the sole source of truth; the result is never cached beyond this request.
func (s *Service) canAct(ctx context.Context, sess *Session, roomID int64) error {
	if !sess.joined(roomID) {
		return errForbidden("join the room first")
	}

	member, err := s.store.IsMember(ctx, sess.User.ID, roomID)
	if err != nil {
		return fmt.Errorf("membership lookup failed: %w", err)
	}
	if !member {
		return errForbidden("not a member of this room")
	}
	return nil
}

func (s *Service) handleJoinGroup(ctx context.Context, sess *Session, payload json.RawMessage) error {
	var req models.JoinGroupRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errNotFound("malformed joinGroup payload")
	}
	return s.JoinRoom(ctx, sess, req.RoomID)
}

// JoinRoom enforces the membership policy: a user who is not a community
// member cannot join any of its rooms; a community member not yet enrolled
// in this room is auto-enrolled on first join, unless a removal is on
// record — removal requires explicit external re-enrollment.
func (s *Service) JoinRoom(ctx context.Context, sess *Session, roomID int64) error {
	room, err := s.store.GetRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errNotFound("room not found")
		}
		return fmt.Errorf("room lookup failed: %w", err)
	}

	communityMember, err := s.store.IsCommunityMember(ctx, sess.User.ID, room.CommunityID)
	if err != nil {
		return fmt.Errorf("community membership lookup failed: %w", err)
	}
	if !communityMember {
		return errForbidden("not a member of this community")
	}

	r := s.room(roomID)

	member, err := s.store.IsMember(ctx, sess.User.ID, roomID)
	if err != nil {
		return fmt.Errorf("membership lookup failed: %w", err)
	}
	if !member {
		r.mu.Lock()
		removed := r.mod[sess.User.ID][ActionRemove] != nil
		r.mu.Unlock()
		if removed {
			return errForbidden("removed from this room")
		}
		if err := s.store.AddMembership(ctx, sess.User.ID, roomID); err != nil {
			return fmt.Errorf("auto-enroll failed: %w", err)
		}
	} else {
		// External re-enrollment clears a standing removal marker.
		r.mu.Lock()
		if records, ok := r.mod[sess.User.ID]; ok {
			delete(records, ActionRemove)
		}
		r.mu.Unlock()
	}

	if err := s.ensureSeq(ctx, r); err != nil {
		return err
	}

	sess.registerRoom(roomID)
	r.mu.Lock()
	r.presenceJoinLocked(sess)
	r.mu.Unlock()

	s.replayHistory(ctx, sess, roomID)
	return nil
}

// replayHistory sends the room's recent messages to the joining session
// only. Best-effort: a store failure here does not fail the join.
func (s *Service) replayHistory(ctx context.Context, sess *Session, roomID int64) {
	messages, err := s.store.LoadRecentMessages(ctx, roomID, 0, s.historyLimit)
	if err != nil {
		logger.Error("Error loading recent messages for room %d: %v", roomID, err)
		return
	}
	sess.send(models.EventRecentMessages, models.RecentMessagesPayload{
		RoomID:   roomID,
		Messages: messages,
	})
}

func (s *Service) handleLeaveGroup(ctx context.Context, sess *Session, payload json.RawMessage) error {
	var req models.LeaveGroupRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errNotFound("malformed leaveGroup payload")
	}
	if !sess.joined(req.RoomID) {
		return nil
	}
	s.leaveRoom(sess, req.RoomID)
	return nil
}

// leaveRoom drops one connection from a room and force-stops the user's
// typing indicator if this was their last connection. Shared by the explicit
// leave request and disconnect cleanup; must never leave orphaned
// presence/typing entries.
func (s *Service) leaveRoom(sess *Session, roomID int64) {
	r := s.room(roomID)

	r.mu.Lock()
	last := r.presenceLeaveLocked(sess)
	if last {
		r.stopTypingLocked(sess.User.ID, true)
	}
	r.mu.Unlock()

	sess.unregisterRoom(roomID)
}
