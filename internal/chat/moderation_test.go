package chat

import (
	"context"
	"testing"
	"time"

	"community-chat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func moderatedRoom(t *testing.T) (*env, *Session, *Session, *fakeSink) {
	t.Helper()
	e := newEnv(t)
	e.addRoom(42, 7)
	e.addMember(1, 42)
	e.addMember(2, 42)
	e.addModerator(1, 42)

	mod, _ := e.connect(user(1, "mod"))
	e.join(mod, 42)
	target, targetSink := e.connect(user(2, "bob"))
	e.join(target, 42)
	return e, mod, target, targetSink
}

func TestAdminActionRequiresCapability(t *testing.T) {
	e := newEnv(t)
	e.addRoom(42, 7)
	e.addMember(1, 42)
	e.addMember(2, 42)

	plain, _ := e.connect(user(1, "plain"))
	e.join(plain, 42)

	err := e.svc.AdminAction(context.Background(), plain, &models.AdminActionRequest{
		RoomID:       42,
		Action:       "mute",
		TargetUserID: 2,
		Duration:     60,
	})
	require.Error(t, err)
	assert.Equal(t, CodeForbidden, asClientError(err).Code)
}

func TestGlobalAdminRoleHasCapability(t *testing.T) {
	e := newEnv(t)
	e.addRoom(42, 7)
	e.addMember(1, 42)
	e.addMember(2, 42)

	admin := &models.User{ID: 1, Username: "root", Role: models.RoleAdmin}
	sess, _ := e.connect(admin)
	e.join(sess, 42)

	err := e.svc.AdminAction(context.Background(), sess, &models.AdminActionRequest{
		RoomID:       42,
		Action:       "mute",
		TargetUserID: 2,
		Duration:     60,
	})
	require.NoError(t, err)
}

func TestSlowModeEnforcesGap(t *testing.T) {
	e, _, target, _ := moderatedRoom(t)
	ctx := context.Background()

	require.NoError(t, e.svc.applyTimedAction(42, 1, 2, ActionSlowMode, 10*time.Second, "calm down"))

	_, err := e.svc.SendMessage(ctx, target, sendReq(42, "first"))
	require.NoError(t, err)

	e.advance(3 * time.Second)
	_, err = e.svc.SendMessage(ctx, target, sendReq(42, "too soon"))
	require.Error(t, err)
	ce := asClientError(err)
	assert.Equal(t, CodeRateLimited, ce.Code)
	assert.Equal(t, 7, ce.RetryAfter, "error should carry the remaining wait")

	e.advance(8 * time.Second)
	_, err = e.svc.SendMessage(ctx, target, sendReq(42, "patient"))
	require.NoError(t, err, "sends at least the gap apart must succeed")
}

// The slow-mode gap measures from the last message actually created, so a
// send the store rejected must not charge the window.
func TestSlowModeNotChargedByFailedPersist(t *testing.T) {
	e, _, target, _ := moderatedRoom(t)
	ctx := context.Background()

	require.NoError(t, e.svc.applyTimedAction(42, 1, 2, ActionSlowMode, 10*time.Second, "calm down"))

	_, err := e.svc.SendMessage(ctx, target, sendReq(42, "first"))
	require.NoError(t, err)

	e.advance(11 * time.Second)
	e.store.mu.Lock()
	e.store.failNextPersist = true
	e.store.mu.Unlock()
	_, err = e.svc.SendMessage(ctx, target, sendReq(42, "doomed"))
	require.Error(t, err)

	// No clock advance: a retry right after the failure must not be rated
	// against the message that was never created.
	_, err = e.svc.SendMessage(ctx, target, sendReq(42, "retry"))
	require.NoError(t, err)
}

func TestSlowModeRequiresPositiveDuration(t *testing.T) {
	e, mod, _, _ := moderatedRoom(t)

	err := e.svc.AdminAction(context.Background(), mod, &models.AdminActionRequest{
		RoomID:       42,
		Action:       "slowMode",
		TargetUserID: 2,
	})
	require.Error(t, err)
}

func TestMuteBlocksSendsNotReactions(t *testing.T) {
	e, mod, target, targetSink := moderatedRoom(t)
	ctx := context.Background()

	// Seed a message to react to.
	msg, err := e.svc.SendMessage(ctx, mod, sendReq(42, "react to me"))
	require.NoError(t, err)

	require.NoError(t, e.svc.applyTimedAction(42, 1, 2, ActionMute, 60*time.Millisecond, "spam"))

	_, err = e.svc.SendMessage(ctx, target, sendReq(42, "silenced"))
	require.Error(t, err)
	assert.Equal(t, CodeMuted, asClientError(err).Code)

	// Mute silences speech, not engagement.
	err = e.svc.AddReaction(ctx, target, &models.ReactionRequest{RoomID: 42, MessageID: msg.ID, Kind: "thumbsup"})
	require.NoError(t, err)

	// Expiry transitions back to Normal and is announced to the room.
	raws := targetSink.waitFor(t, models.EventAdminActionExpired, 1)
	var expired models.AdminActionExpiredPayload
	decodePayload(t, raws[0], &expired)
	assert.Equal(t, "mute", expired.Action)
	assert.Equal(t, int64(2), expired.UserID)

	_, err = e.svc.SendMessage(ctx, target, sendReq(42, "free again"))
	require.NoError(t, err)
}

func TestExileBlocksAllInteractionsButKeepsPresence(t *testing.T) {
	e, mod, target, _ := moderatedRoom(t)
	ctx := context.Background()

	msg, err := e.svc.SendMessage(ctx, mod, sendReq(42, "hello"))
	require.NoError(t, err)
	own, err := e.svc.SendMessage(ctx, target, sendReq(42, "mine"))
	require.NoError(t, err)

	require.NoError(t, e.svc.applyTimedAction(42, 1, 2, ActionExile, time.Hour, "isolation"))

	_, err = e.svc.SendMessage(ctx, target, sendReq(42, "blocked"))
	assert.Equal(t, CodeExiled, asClientError(err).Code)

	// Exile is full isolation: the target cannot touch their own messages
	// either.
	err = e.svc.EditMessage(ctx, target, &models.EditMessageRequest{
		RoomID: 42, MessageID: own.ID, Body: "rewritten",
	})
	assert.Equal(t, CodeExiled, asClientError(err).Code)

	err = e.svc.DeleteMessage(ctx, target, &models.DeleteMessageRequest{
		RoomID: 42, MessageID: own.ID,
	})
	assert.Equal(t, CodeExiled, asClientError(err).Code)

	err = e.svc.AddReaction(ctx, target, &models.ReactionRequest{RoomID: 42, MessageID: msg.ID, Kind: "wave"})
	assert.Equal(t, CodeExiled, asClientError(err).Code)

	_, err = e.svc.CreateThread(ctx, target, &models.CreateThreadRequest{RoomID: 42, ParentMessageID: msg.ID})
	assert.Equal(t, CodeExiled, asClientError(err).Code)

	err = e.svc.SendQuoteMacro(ctx, target, &models.QuoteMacroRequest{RoomID: 42, MacroID: "gg"})
	assert.Equal(t, CodeExiled, asClientError(err).Code)

	// Presence stays visible for transparency.
	r := e.svc.room(42)
	r.mu.Lock()
	_, present := r.presence[2]
	r.mu.Unlock()
	assert.True(t, present, "exiled user remains present")
}

func TestSameKindActionReplacesTimer(t *testing.T) {
	e, _, target, targetSink := moderatedRoom(t)
	ctx := context.Background()

	// A long mute overwritten by a short one must expire on the short
	// schedule: reset, not stack.
	require.NoError(t, e.svc.applyTimedAction(42, 1, 2, ActionMute, time.Hour, "first"))
	require.NoError(t, e.svc.applyTimedAction(42, 1, 2, ActionMute, 60*time.Millisecond, "second"))

	targetSink.waitFor(t, models.EventAdminActionExpired, 1)

	_, err := e.svc.SendMessage(ctx, target, sendReq(42, "back"))
	require.NoError(t, err)
}

func TestRevokeCancelsActionEarly(t *testing.T) {
	e, mod, target, targetSink := moderatedRoom(t)
	ctx := context.Background()

	require.NoError(t, e.svc.applyTimedAction(42, 1, 2, ActionMute, time.Hour, "oops"))

	err := e.svc.AdminAction(ctx, mod, &models.AdminActionRequest{
		RoomID:       42,
		Action:       "revoke",
		Kind:         "mute",
		TargetUserID: 2,
	})
	require.NoError(t, err)

	raws := targetSink.waitFor(t, models.EventAdminActionExpired, 1)
	var expired models.AdminActionExpiredPayload
	decodePayload(t, raws[0], &expired)
	assert.Equal(t, "mute", expired.Action)

	_, err = e.svc.SendMessage(ctx, target, sendReq(42, "pardoned"))
	require.NoError(t, err)
}

func TestRevokeWithoutActiveRecordFails(t *testing.T) {
	e, mod, _, _ := moderatedRoom(t)

	err := e.svc.AdminAction(context.Background(), mod, &models.AdminActionRequest{
		RoomID:       42,
		Action:       "revoke",
		Kind:         "exile",
		TargetUserID: 2,
	})
	require.Error(t, err)
	assert.Equal(t, CodeNotFound, asClientError(err).Code)
}

func TestRemoveEvictsAndBlocksRejoin(t *testing.T) {
	e, mod, target, targetSink := moderatedRoom(t)
	ctx := context.Background()

	err := e.svc.AdminAction(ctx, mod, &models.AdminActionRequest{
		RoomID:       42,
		Action:       "remove",
		TargetUserID: 2,
		Reason:       "bye",
	})
	require.NoError(t, err)

	// The removed user's own client sees the forced leave.
	raws := targetSink.payloads(models.EventAdminActionPerformed)
	require.NotEmpty(t, raws)
	var performed models.AdminActionPayload
	decodePayload(t, raws[len(raws)-1], &performed)
	assert.Equal(t, "remove", performed.Action)
	assert.Equal(t, int64(2), performed.TargetUserID)

	// Sessions evicted, membership revoked.
	assert.False(t, target.joined(42))
	assert.Len(t, e.svc.SessionsInRoom(42), 1)
	member, _ := e.store.IsMember(ctx, 2, 42)
	assert.False(t, member)

	// No further interaction.
	_, err = e.svc.SendMessage(ctx, target, sendReq(42, "let me back"))
	assert.Equal(t, CodeForbidden, asClientError(err).Code)

	// Auto-enroll is blocked by the removal marker; re-join needs explicit
	// external re-enrollment.
	err = e.svc.JoinRoom(ctx, target, 42)
	require.Error(t, err)
	assert.Equal(t, CodeForbidden, asClientError(err).Code)

	e.addMember(2, 42)
	require.NoError(t, e.svc.JoinRoom(ctx, target, 42))
	_, err = e.svc.SendMessage(ctx, target, sendReq(42, "back for real"))
	require.NoError(t, err)
}

func TestRemoveCancelsOutstandingRestrictions(t *testing.T) {
	e, mod, _, _ := moderatedRoom(t)
	ctx := context.Background()

	require.NoError(t, e.svc.applyTimedAction(42, 1, 2, ActionMute, time.Hour, "first"))
	require.NoError(t, e.svc.AdminAction(ctx, mod, &models.AdminActionRequest{
		RoomID:       42,
		Action:       "remove",
		TargetUserID: 2,
	}))

	r := e.svc.room(42)
	r.mu.Lock()
	defer r.mu.Unlock()
	records := r.mod[2]
	assert.Nil(t, records[ActionMute], "timed records are destroyed on remove")
	assert.NotNil(t, records[ActionRemove], "removal marker remains")
}
