package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"community-chat/internal/models"
	"community-chat/pkg/logger"
)

// ActionKind is a moderation action. SlowMode, Mute and Exile are timed
// states; Remove is a terminal eviction, not a timed state.
type ActionKind string

const (
	ActionSlowMode ActionKind = "slowMode"
	ActionMute     ActionKind = "mute"
	ActionExile    ActionKind = "exile"
	ActionRemove   ActionKind = "remove"

	actionRevoke = "revoke"
)

// moderationRecord is one active restriction. At most one active record per
// (room, user, kind): a new action of the same kind replaces rather than
// stacks.
type moderationRecord struct {
	kind      ActionKind
	expiresAt time.Time // zero means permanent
	gap       time.Duration
	reason    string
	timer     *time.Timer
}

func (r *roomState) activeRecordLocked(userID int64, kind ActionKind) *moderationRecord {
	return r.mod[userID][kind]
}

// gateSendLocked is the enforcement gate for message sends and thread
// replies. Consulted under the room lock, in the same critical section as
// sequence allocation, so a slow-mode window cannot be bypassed by two
// concurrent sends.
func (s *Service) gateSendLocked(r *roomState, userID int64) error {
	if r.activeRecordLocked(userID, ActionExile) != nil {
		return errExiled()
	}
	if r.activeRecordLocked(userID, ActionMute) != nil {
		return errMuted()
	}
	if rec := r.activeRecordLocked(userID, ActionSlowMode); rec != nil {
		if last, ok := r.lastSent[userID]; ok {
			wait := rec.gap - s.now().Sub(last)
			if wait > 0 {
				return errRateLimited(int((wait + time.Second - 1) / time.Second))
			}
		}
	}
	return nil
}

// gateReactLocked guards every write other than a send: reactions, edits,
// deletes, threads and macros. Mute silences speech, not engagement, so
// exile is the only state enforced here.
func (s *Service) gateReactLocked(r *roomState, userID int64) error {
	if r.activeRecordLocked(userID, ActionExile) != nil {
		return errExiled()
	}
	return nil
}

func (s *Service) handleAdminAction(ctx context.Context, sess *Session, payload json.RawMessage) error {
	var req models.AdminActionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errNotFound("malformed adminAction payload")
	}
	return s.AdminAction(ctx, sess, &req)
}

// AdminAction applies, revokes or executes a moderation action. Only an
// actor with admin capability in the room may trigger it. All durations are
// seconds at this boundary regardless of action kind.
func (s *Service) AdminAction(ctx context.Context, sess *Session, req *models.AdminActionRequest) error {
	if err := s.canAct(ctx, sess, req.RoomID); err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, sess, req.RoomID); err != nil {
		return err
	}

	switch req.Action {
	case string(ActionSlowMode), string(ActionMute), string(ActionExile):
		return s.applyTimedAction(req.RoomID, sess.User.ID, req.TargetUserID,
			ActionKind(req.Action), time.Duration(req.Duration)*time.Second, req.Reason)
	case string(ActionRemove):
		return s.removeUser(ctx, req.RoomID, sess.User.ID, req.TargetUserID, req.Reason)
	case actionRevoke:
		return s.revokeAction(req.RoomID, req.TargetUserID, ActionKind(req.Kind))
	default:
		return errNotFound(fmt.Sprintf("unknown admin action %q", req.Action))
	}
}

func (s *Service) requireAdmin(ctx context.Context, sess *Session, roomID int64) error {
	if sess.User.Role == models.RoleAdmin {
		return nil
	}
	capable, err := s.store.HasAdminCapability(ctx, sess.User.ID, roomID)
	if err != nil {
		return fmt.Errorf("capability lookup failed: %w", err)
	}
	if !capable {
		return errForbidden("admin capability required")
	}
	return nil
}

// applyTimedAction installs or replaces a timed restriction and schedules
// its expiry. Applying the same kind again resets the timer, never stacks.
// Duration 0 means permanent for mute/exile; slow mode always needs a gap.
func (s *Service) applyTimedAction(roomID, actorID, targetID int64, kind ActionKind, duration time.Duration, reason string) error {
	if kind == ActionSlowMode && duration <= 0 {
		return errNotFound("slow mode requires a positive duration")
	}

	r := s.room(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	records, ok := r.mod[targetID]
	if !ok {
		records = make(map[ActionKind]*moderationRecord)
		r.mod[targetID] = records
	}
	if old := records[kind]; old != nil && old.timer != nil {
		old.timer.Stop()
	}

	rec := &moderationRecord{kind: kind, reason: reason}
	payload := models.AdminActionPayload{
		RoomID:       roomID,
		Action:       string(kind),
		TargetUserID: targetID,
		ActorID:      actorID,
		Reason:       reason,
	}

	if kind == ActionSlowMode {
		rec.gap = duration
	}
	if duration > 0 {
		expiresAt := s.now().Add(duration)
		rec.expiresAt = expiresAt
		payload.ExpiresAt = &expiresAt
		rec.timer = time.AfterFunc(duration, func() {
			s.actionExpired(roomID, targetID, kind, rec)
		})
	}
	records[kind] = rec

	r.broadcastLocked(models.EventAdminActionPerformed, payload)
	logger.Info("Applied %s to user %d in room %d (actor %d)", kind, targetID, roomID, actorID)
	return nil
}

// actionExpired transitions the target back to Normal and announces it.
// Best-effort: a failure here must not crash the room.
func (s *Service) actionExpired(roomID, userID int64, kind ActionKind, rec *moderationRecord) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Moderation expiry for user %d in room %d panicked: %v", userID, roomID, p)
		}
	}()

	r := s.room(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	// A replaced record means this fire is stale.
	if r.mod[userID][kind] != rec {
		return
	}
	delete(r.mod[userID], kind)

	r.broadcastLocked(models.EventAdminActionExpired, models.AdminActionExpiredPayload{
		RoomID: roomID,
		Action: string(kind),
		UserID: userID,
	})
}

// revokeAction cancels an active restriction early. Announced with the same
// adminActionExpired event clients already handle for timer expiry.
func (s *Service) revokeAction(roomID, targetID int64, kind ActionKind) error {
	r := s.room(roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.activeRecordLocked(targetID, kind)
	if rec == nil {
		return errNotFound(fmt.Sprintf("no active %s for user", kind))
	}
	if rec.timer != nil {
		rec.timer.Stop()
	}
	delete(r.mod[targetID], kind)

	r.broadcastLocked(models.EventAdminActionExpired, models.AdminActionExpiredPayload{
		RoomID: roomID,
		Action: string(kind),
		UserID: targetID,
	})
	return nil
}

// removeUser is the terminal transition: membership is revoked at the
// store, every session of the target is evicted and presence/typing state
// is destroyed. The target's clients treat the broadcast as a forced leave.
func (s *Service) removeUser(ctx context.Context, roomID, actorID, targetID int64, reason string) error {
	if err := s.store.RemoveMembership(ctx, targetID, roomID); err != nil {
		return fmt.Errorf("membership revocation failed: %w", err)
	}

	r := s.room(roomID)
	r.mu.Lock()

	records, ok := r.mod[targetID]
	if !ok {
		records = make(map[ActionKind]*moderationRecord)
		r.mod[targetID] = records
	}
	// Cancel any timed restrictions; the removal marker replaces them and
	// blocks auto re-enrollment on a later join.
	for kind, rec := range records {
		if rec.timer != nil {
			rec.timer.Stop()
		}
		delete(records, kind)
	}
	records[ActionRemove] = &moderationRecord{kind: ActionRemove, reason: reason}

	// Broadcast before eviction so the target's own connections see it.
	r.broadcastLocked(models.EventAdminActionPerformed, models.AdminActionPayload{
		RoomID:       roomID,
		Action:       string(ActionRemove),
		TargetUserID: targetID,
		ActorID:      actorID,
		Reason:       reason,
	})

	r.stopTypingLocked(targetID, true)
	targets := r.userSessionsLocked(targetID)
	for _, ts := range targets {
		r.presenceLeaveLocked(ts)
	}
	delete(r.lastSent, targetID)
	r.mu.Unlock()

	for _, ts := range targets {
		ts.unregisterRoom(roomID)
	}

	logger.Info("Removed user %d from room %d (actor %d)", targetID, roomID, actorID)
	return nil
}
