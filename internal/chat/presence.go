package chat

import (
	"community-chat/internal/models"
	"community-chat/pkg/logger"
)

// presenceJoinLocked admits a connection to the room. The first connection
// for a user broadcasts a joined delta carrying the full user snapshot; the
// new session always receives the complete presence snapshot so clients
// never need a secondary lookup.
func (r *roomState) presenceJoinLocked(sess *Session) {
	userID := sess.User.ID
	conns, ok := r.presence[userID]
	if !ok {
		conns = make(map[string]*Session)
		r.presence[userID] = conns
	}

	if _, dup := conns[sess.ID]; dup {
		return
	}
	conns[sess.ID] = sess
	r.users[userID] = sess.User

	if len(conns) == 1 {
		r.broadcastLocked(models.EventUserPresence, models.PresencePayload{
			RoomID: r.id,
			Action: models.PresenceJoined,
			User:   sess.User,
		})
		logger.Info("User %d joined room %d", userID, r.id)
	}

	sess.send(models.EventUserPresence, models.PresencePayload{
		RoomID: r.id,
		Action: models.PresenceSnapshot,
		Users:  r.presentUsersLocked(),
	})
}

// presenceLeaveLocked removes one connection. It reports whether this was
// the user's last connection in the room; if so a left delta is broadcast —
// one event per user, not per connection.
func (r *roomState) presenceLeaveLocked(sess *Session) bool {
	userID := sess.User.ID
	conns, ok := r.presence[userID]
	if !ok {
		return false
	}
	if _, ok := conns[sess.ID]; !ok {
		return false
	}

	delete(conns, sess.ID)
	if len(conns) > 0 {
		return false
	}

	delete(r.presence, userID)
	user := r.users[userID]
	delete(r.users, userID)

	r.broadcastLocked(models.EventUserPresence, models.PresencePayload{
		RoomID: r.id,
		Action: models.PresenceLeft,
		User:   user,
	})
	logger.Info("User %d left room %d", userID, r.id)
	return true
}

func (r *roomState) presentUsersLocked() []*models.User {
	users := make([]*models.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	return users
}
