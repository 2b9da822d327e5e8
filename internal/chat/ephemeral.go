package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"community-chat/internal/models"
	"community-chat/pkg/logger"

	"github.com/google/uuid"
)

// Canned quote macros. A request may override the text.
var quoteMacros = map[string]string{
	"onMyWay": "On my way!",
	"brb":     "Be right back.",
	"welcome": "Welcome to the room!",
	"gg":      "Good game, everyone.",
}

func (s *Service) handleStartCountdown(ctx context.Context, sess *Session, payload json.RawMessage) error {
	var req models.StartCountdownRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errNotFound("malformed startCountdown payload")
	}
	return s.StartCountdown(ctx, sess, &req)
}

// StartCountdown schedules a one-shot timed broadcast. Moderators only.
// Countdowns are transient: nothing is persisted and the entry disappears
// when its timer fires.
func (s *Service) StartCountdown(ctx context.Context, sess *Session, req *models.StartCountdownRequest) error {
	if err := s.canAct(ctx, sess, req.RoomID); err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, sess, req.RoomID); err != nil {
		return err
	}
	if req.Duration <= 0 {
		return errNotFound("countdown requires a positive duration")
	}

	duration := time.Duration(req.Duration) * time.Second
	cd := &countdown{
		id:      uuid.New().String(),
		title:   req.Title,
		endTime: s.now().Add(duration),
	}

	r := s.room(req.RoomID)
	r.mu.Lock()
	cd.timer = time.AfterFunc(duration, func() {
		s.countdownFired(req.RoomID, cd.id)
	})
	r.countdowns[cd.id] = cd

	r.broadcastLocked(models.EventCountdownStarted, models.CountdownPayload{
		RoomID:      req.RoomID,
		CountdownID: cd.id,
		Title:       cd.title,
		EndTime:     cd.endTime,
	})
	r.mu.Unlock()
	return nil
}

// countdownFired announces the end and injects a synthetic system message
// into the room's visible stream. The message is tagged system and never
// persisted, so no client attributes it to a real user.
func (s *Service) countdownFired(roomID int64, countdownID string) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Countdown %s in room %d panicked: %v", countdownID, roomID, p)
		}
	}()

	r := s.room(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	cd, ok := r.countdowns[countdownID]
	if !ok {
		return
	}
	delete(r.countdowns, countdownID)

	r.broadcastLocked(models.EventCountdownEnded, models.CountdownPayload{
		RoomID:      roomID,
		CountdownID: cd.id,
		Title:       cd.title,
		EndTime:     cd.endTime,
	})
	r.broadcastLocked(models.EventNewMessage, &models.Message{
		RoomID:    roomID,
		Body:      fmt.Sprintf("Countdown %q has ended", cd.title),
		System:    true,
		CreatedAt: s.now(),
	})
}

func (s *Service) handleSendQuoteMacro(ctx context.Context, sess *Session, payload json.RawMessage) error {
	var req models.QuoteMacroRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errNotFound("malformed sendQuoteMacro payload")
	}
	return s.SendQuoteMacro(ctx, sess, &req)
}

// SendQuoteMacro is a pure broadcast: any member may trigger one, nothing is
// persisted and there is no ordering guarantee relative to real messages.
func (s *Service) SendQuoteMacro(ctx context.Context, sess *Session, req *models.QuoteMacroRequest) error {
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

	text := req.CustomText
	if text == "" {
		canned, ok := quoteMacros[req.MacroID]
		if !ok {
			return errNotFound(fmt.Sprintf("unknown macro %q", req.MacroID))
		}
		text = canned
	}

	r.mu.Lock()
	r.broadcastLocked(models.EventQuoteMacro, models.QuoteMacroPayload{
		RoomID:   req.RoomID,
		MacroID:  req.MacroID,
		Text:     text,
		SenderID: sess.User.ID,
	})
	r.mu.Unlock()
	return nil
}
