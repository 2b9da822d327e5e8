package models

import (
	"encoding/json"
	"time"
)

// EventType names are the wire contract shared with every client
// implementation; do not rename.
type EventType string

const (
	EventUserPresence         EventType = "userPresence"
	EventNewMessage           EventType = "newMessage"
	EventMessageEdited        EventType = "messageEdited"
	EventMessageDeleted       EventType = "messageDeleted"
	EventNewReaction          EventType = "newReaction"
	EventReactionRemoved      EventType = "reactionRemoved"
	EventThreadCreated        EventType = "threadCreated"
	EventThreadMessages       EventType = "threadMessages"
	EventRecentMessages       EventType = "recentMessages"
	EventAdminActionPerformed EventType = "adminActionPerformed"
	EventAdminActionExpired   EventType = "adminActionExpired"
	EventCountdownStarted     EventType = "countdownStarted"
	EventCountdownEnded       EventType = "countdownEnded"
	EventQuoteMacro           EventType = "quoteMacro"
	EventUserTyping           EventType = "userTyping"
	EventError                EventType = "error"
)

// Inbound request names.
const (
	RequestJoinGroup         = "joinGroup"
	RequestLeaveGroup        = "leaveGroup"
	RequestSendMessage       = "sendMessage"
	RequestEditMessage       = "editMessage"
	RequestDeleteMessage     = "deleteMessage"
	RequestAddReaction       = "addReaction"
	RequestRemoveReaction    = "removeReaction"
	RequestCreateThread      = "createThread"
	RequestGetThreadMessages = "getThreadMessages"
	RequestStartTyping       = "startTyping"
	RequestStopTyping        = "stopTyping"
	RequestAdminAction       = "adminAction"
	RequestStartCountdown    = "startCountdown"
	RequestSendQuoteMacro    = "sendQuoteMacro"
)

// Frame is the envelope for every websocket message in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Presence delta actions.
const (
	PresenceJoined   = "joined"
	PresenceLeft     = "left"
	PresenceSnapshot = "snapshot"
)

// PresencePayload carries full user snapshots, never bare ids, so clients
// need no secondary lookup.
type PresencePayload struct {
	RoomID int64   `json:"roomId"`
	Action string  `json:"action"`
	User   *User   `json:"user,omitempty"`
	Users  []*User `json:"users,omitempty"`
}

type TypingPayload struct {
	RoomID int64 `json:"roomId"`
	UserID int64 `json:"userId"`
	Typing bool  `json:"typing"`
}

type MessageDeletedPayload struct {
	RoomID    int64 `json:"roomId"`
	MessageID int64 `json:"messageId"`
}

type ThreadCreatedPayload struct {
	RoomID          int64 `json:"roomId"`
	ThreadID        int64 `json:"threadId"`
	ParentMessageID int64 `json:"parentMessageId"`
}

type ThreadMessagesPayload struct {
	ThreadID int64      `json:"threadId"`
	Messages []*Message `json:"messages"`
}

type RecentMessagesPayload struct {
	RoomID   int64      `json:"roomId"`
	Messages []*Message `json:"messages"`
}

type AdminActionPayload struct {
	RoomID       int64      `json:"roomId"`
	Action       string     `json:"action"`
	TargetUserID int64      `json:"targetUserId"`
	ActorID      int64      `json:"actorId"`
	Reason       string     `json:"reason,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

type AdminActionExpiredPayload struct {
	RoomID int64  `json:"roomId"`
	Action string `json:"action"`
	UserID int64  `json:"userId"`
}

type CountdownPayload struct {
	RoomID      int64     `json:"roomId"`
	CountdownID string    `json:"countdownId"`
	Title       string    `json:"title"`
	EndTime     time.Time `json:"endTime"`
}

type QuoteMacroPayload struct {
	RoomID   int64  `json:"roomId"`
	MacroID  string `json:"macroId"`
	Text     string `json:"text"`
	SenderID int64  `json:"senderId"`
}

type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Request payloads.

type JoinGroupRequest struct {
	RoomID int64 `json:"roomId"`
}

type LeaveGroupRequest struct {
	RoomID int64 `json:"roomId"`
}

type SendMessageRequest struct {
	RoomID   int64    `json:"roomId"`
	Body     string   `json:"body,omitempty"`
	Media    []string `json:"media,omitempty"`
	Audio    string   `json:"audio,omitempty"`
	ReplyTo  int64    `json:"replyTo,omitempty"`
	ThreadID int64    `json:"threadId,omitempty"`
	Spoiler  bool     `json:"spoiler,omitempty"`
	Mentions []int64  `json:"mentions,omitempty"`
}

type EditMessageRequest struct {
	RoomID    int64  `json:"roomId"`
	MessageID int64  `json:"messageId"`
	Body      string `json:"body"`
}

type DeleteMessageRequest struct {
	RoomID    int64 `json:"roomId"`
	MessageID int64 `json:"messageId"`
}

type ReactionRequest struct {
	RoomID    int64  `json:"roomId"`
	MessageID int64  `json:"messageId"`
	Kind      string `json:"kind"`
}

type CreateThreadRequest struct {
	RoomID          int64 `json:"roomId"`
	ParentMessageID int64 `json:"parentMessageId"`
}

type GetThreadMessagesRequest struct {
	RoomID   int64 `json:"roomId"`
	ThreadID int64 `json:"threadId"`
}

type TypingRequest struct {
	RoomID int64 `json:"roomId"`
}

// AdminActionRequest durations are always seconds at the server boundary,
// regardless of the action kind. Action "revoke" cancels an active record of
// the given Kind early.
type AdminActionRequest struct {
	RoomID       int64  `json:"roomId"`
	Action       string `json:"action"`
	Kind         string `json:"kind,omitempty"`
	TargetUserID int64  `json:"targetUserId"`
	Duration     int64  `json:"duration,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type StartCountdownRequest struct {
	RoomID   int64  `json:"roomId"`
	Duration int64  `json:"duration"`
	Title    string `json:"title"`
}

type QuoteMacroRequest struct {
	RoomID     int64  `json:"roomId"`
	MacroID    string `json:"macroId"`
	CustomText string `json:"customText,omitempty"`
}
