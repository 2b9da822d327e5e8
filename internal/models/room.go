package models

import "time"

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

type RoomKind string

const (
	RoomKindText         RoomKind = "text"
	RoomKindAnnouncement RoomKind = "announcement"
)

// User is a read-only snapshot of an externally owned identity. One snapshot
// is bound to each connection at authentication time.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Role     Role   `json:"role"`
}

// Room is a chat group scoped to one community. Created and edited by
// external community management; the chat core only reads it.
type Room struct {
	ID          int64     `json:"id"`
	CommunityID int64     `json:"communityId"`
	Name        string    `json:"name"`
	Kind        RoomKind  `json:"kind"`
	Default     bool      `json:"default"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Message ids are monotonically increasing within a room and double as the
// room's total order.
type Message struct {
	ID         int64     `json:"id"`
	RoomID     int64     `json:"roomId"`
	SenderID   int64     `json:"senderId"`
	Sender     string    `json:"sender,omitempty"`
	Body       string    `json:"body,omitempty"`
	Media      []string  `json:"media,omitempty"`
	Audio      string    `json:"audio,omitempty"`
	ReplyTo    int64     `json:"replyTo,omitempty"`
	ThreadID   int64     `json:"threadId,omitempty"`
	Spoiler    bool      `json:"spoiler,omitempty"`
	Mentions   []int64   `json:"mentions,omitempty"`
	ReplyCount int       `json:"replyCount,omitempty"`
	System     bool      `json:"system,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Reaction is unique per (message, user, kind); adding the same reaction
// twice is a no-op.
type Reaction struct {
	RoomID    int64  `json:"roomId"`
	MessageID int64  `json:"messageId"`
	UserID    int64  `json:"userId"`
	Kind      string `json:"kind"`
}

// Thread is a sub-conversation anchored to one parent message. A message has
// at most one thread.
type Thread struct {
	ID              int64 `json:"id"`
	ParentMessageID int64 `json:"parentMessageId"`
	RoomID          int64 `json:"roomId"`
}
