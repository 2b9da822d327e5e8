package chat

import (
	"context"
	"encoding/json"
	"time"

	"community-chat/internal/models"
	"community-chat/pkg/logger"
)

func (s *Service) handleStartTyping(ctx context.Context, sess *Session, payload json.RawMessage) error {
	var req models.TypingRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errNotFound("malformed startTyping payload")
	}
	return s.StartTyping(ctx, sess, req.RoomID)
}

func (s *Service) handleStopTyping(ctx context.Context, sess *Session, payload json.RawMessage) error {
	var req models.TypingRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errNotFound("malformed stopTyping payload")
	}
	return s.StopTyping(ctx, sess, req.RoomID)
}

// StartTyping sets or refreshes the typing state. The broadcast goes out on
// the 0→1 transition only, not on every keystroke; a server-side watchdog
// forces a stop if no refresh arrives within the debounce window, so a
// dropped connection can never leave a stale indicator.
func (s *Service) StartTyping(ctx context.Context, sess *Session, roomID int64) error {
	if !sess.joined(roomID) {
		return errForbidden("join the room first")
	}

	r := s.room(roomID)
	userID := sess.User.ID

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeRecordLocked(userID, ActionExile) != nil {
		return errExiled()
	}

	if entry, ok := r.typing[userID]; ok {
		// A refresh replaces the timer outright so the new callback carries
		// the new generation; a Reset would leave the old closure armed with
		// a generation the watchdog check then rejects. The bump makes an
		// already-fired, not-yet-run callback stale.
		entry.gen++
		entry.timer.Stop()
		entry.timer = s.typingTimer(roomID, userID, entry.gen)
		return nil
	}

	entry := &typingEntry{}
	entry.timer = s.typingTimer(roomID, userID, entry.gen)
	r.typing[userID] = entry

	r.broadcastLocked(models.EventUserTyping, models.TypingPayload{
		RoomID: roomID,
		UserID: userID,
		Typing: true,
	})
	return nil
}

// StopTyping broadcasts on the 1→0 transition only.
func (s *Service) StopTyping(ctx context.Context, sess *Session, roomID int64) error {
	if !sess.joined(roomID) {
		return errForbidden("join the room first")
	}

	r := s.room(roomID)
	r.mu.Lock()
	r.stopTypingLocked(sess.User.ID, true)
	r.mu.Unlock()
	return nil
}

// stopTypingLocked cancels the watchdog and, when the user was typing,
// broadcasts the stop.
func (r *roomState) stopTypingLocked(userID int64, broadcast bool) {
	entry, ok := r.typing[userID]
	if !ok {
		return
	}
	entry.timer.Stop()
	delete(r.typing, userID)

	if broadcast {
		r.broadcastLocked(models.EventUserTyping, models.TypingPayload{
			RoomID: r.id,
			UserID: userID,
			Typing: false,
		})
	}
}

func (s *Service) typingTimer(roomID, userID, gen int64) *time.Timer {
	return time.AfterFunc(s.typingWindow, func() {
		s.typingExpired(roomID, userID, gen)
	})
}

// typingExpired is the watchdog callback. Best-effort cleanup: it must not
// panic past its own boundary.
func (s *Service) typingExpired(roomID, userID, gen int64) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Typing watchdog for user %d in room %d panicked: %v", userID, roomID, rec)
		}
	}()

	r := s.room(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.typing[userID]
	if !ok || entry.gen != gen {
		return
	}
	delete(r.typing, userID)

	r.broadcastLocked(models.EventUserTyping, models.TypingPayload{
		RoomID: roomID,
		UserID: userID,
		Typing: false,
	})
}
