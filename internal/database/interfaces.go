package database

import (
	"context"
	"errors"

	"community-chat/internal/models"
)

// ErrNotFound is returned by lookups for absent rows; the chat core maps it
// to its own NotFound code.
var ErrNotFound = errors.New("not found")

type RoomRepository interface {
	GetRoomByID(ctx context.Context, id int64) (*models.Room, error)
}

type MembershipRepository interface {
	IsMember(ctx context.Context, userID, roomID int64) (bool, error)
	IsCommunityMember(ctx context.Context, userID, communityID int64) (bool, error)
	AddMembership(ctx context.Context, userID, roomID int64) error
	RemoveMembership(ctx context.Context, userID, roomID int64) error
	HasAdminCapability(ctx context.Context, userID, roomID int64) (bool, error)
}

type MessageRepository interface {
	// PersistMessage stores msg under its pre-assigned room-scoped id and
	// returns that id.
	PersistMessage(ctx context.Context, msg *models.Message) (int64, error)
	GetMessage(ctx context.Context, roomID, messageID int64) (*models.Message, error)
	UpdateMessageBody(ctx context.Context, roomID, messageID int64, body string) error
	DeleteMessage(ctx context.Context, roomID, messageID int64) error
	// LoadRecentMessages returns up to limit messages with id < beforeID
	// (beforeID 0 means newest), ascending by id.
	LoadRecentMessages(ctx context.Context, roomID, beforeID int64, limit int) ([]*models.Message, error)
	LastMessageID(ctx context.Context, roomID int64) (int64, error)
	IncrementReplyCount(ctx context.Context, roomID, messageID int64) error
}

type ReactionRepository interface {
	// AddReaction reports false when the (message, user, kind) reaction
	// already existed.
	AddReaction(ctx context.Context, r *models.Reaction) (bool, error)
	RemoveReaction(ctx context.Context, r *models.Reaction) (bool, error)
	DeleteReactionsForMessage(ctx context.Context, roomID, messageID int64) error
}

type ThreadRepository interface {
	GetThread(ctx context.Context, threadID int64) (*models.Thread, error)
	GetThreadByParent(ctx context.Context, roomID, parentMessageID int64) (*models.Thread, error)
	CreateThread(ctx context.Context, roomID, parentMessageID int64) (*models.Thread, error)
	LoadThreadMessages(ctx context.Context, threadID int64) ([]*models.Message, error)
}

// MediaStore deletes uploaded media by opaque reference. Best-effort: callers
// log failures instead of propagating them.
type MediaStore interface {
	DeleteMedia(ctx context.Context, ref string) error
}

type Store interface {
	RoomRepository
	MembershipRepository
	MessageRepository
	ReactionRepository
	ThreadRepository
	MediaStore
	Close() error
}
