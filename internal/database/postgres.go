package database

import (
	"context"
	"errors"
	"fmt"

	"community-chat/internal/models"
	"community-chat/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresStore{pool: pool}, nil
}

func (db *PostgresStore) Close() error {
	db.pool.Close()
	return nil
}

// Room Repository Implementation
func (db *PostgresStore) GetRoomByID(ctx context.Context, id int64) (*models.Room, error) {
	query := `SELECT id, community_id, name, kind, is_default, created_at FROM rooms WHERE id = $1`

	room := &models.Room{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&room.ID, &room.CommunityID, &room.Name, &room.Kind, &room.Default, &room.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return room, nil
}

// Membership Repository Implementation
func (db *PostgresStore) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM room_members WHERE user_id = $1 AND room_id = $2)`

	var exists bool
	if err := db.pool.QueryRow(ctx, query, userID, roomID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (db *PostgresStore) IsCommunityMember(ctx context.Context, userID, communityID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM community_members WHERE user_id = $1 AND community_id = $2)`

	var exists bool
	if err := db.pool.QueryRow(ctx, query, userID, communityID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (db *PostgresStore) AddMembership(ctx context.Context, userID, roomID int64) error {
	query := `
		INSERT INTO room_members (user_id, room_id, joined_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, room_id) DO NOTHING`

	_, err := db.pool.Exec(ctx, query, userID, roomID)
	return err
}

func (db *PostgresStore) RemoveMembership(ctx context.Context, userID, roomID int64) error {
	query := `DELETE FROM room_members WHERE user_id = $1 AND room_id = $2`

	_, err := db.pool.Exec(ctx, query, userID, roomID)
	return err
}

func (db *PostgresStore) HasAdminCapability(ctx context.Context, userID, roomID int64) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM room_members
			WHERE user_id = $1 AND room_id = $2 AND room_role IN ('admin', 'moderator')
		)`

	var exists bool
	if err := db.pool.QueryRow(ctx, query, userID, roomID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Message Repository Implementation
func (db *PostgresStore) PersistMessage(ctx context.Context, msg *models.Message) (int64, error) {
	query := `
		INSERT INTO messages (room_id, id, sender_id, sender_name, body, media, audio,
			reply_to, thread_id, spoiler, mentions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, 0), NULLIF($9, 0), $10, $11, $12)`

	_, err := db.pool.Exec(ctx, query,
		msg.RoomID, msg.ID, msg.SenderID, msg.Sender, msg.Body, msg.Media, msg.Audio,
		msg.ReplyTo, msg.ThreadID, msg.Spoiler, msg.Mentions, msg.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to persist message: %w", err)
	}

	return msg.ID, nil
}

func (db *PostgresStore) GetMessage(ctx context.Context, roomID, messageID int64) (*models.Message, error) {
	query := `
		SELECT room_id, id, sender_id, sender_name, body, media, audio,
			COALESCE(reply_to, 0), COALESCE(thread_id, 0), spoiler, mentions, reply_count, created_at
		FROM messages WHERE room_id = $1 AND id = $2`

	msg := &models.Message{}
	err := db.pool.QueryRow(ctx, query, roomID, messageID).Scan(
		&msg.RoomID, &msg.ID, &msg.SenderID, &msg.Sender, &msg.Body, &msg.Media, &msg.Audio,
		&msg.ReplyTo, &msg.ThreadID, &msg.Spoiler, &msg.Mentions, &msg.ReplyCount, &msg.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return msg, nil
}

func (db *PostgresStore) UpdateMessageBody(ctx context.Context, roomID, messageID int64, body string) error {
	query := `UPDATE messages SET body = $3, edited_at = NOW() WHERE room_id = $1 AND id = $2`

	tag, err := db.pool.Exec(ctx, query, roomID, messageID, body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PostgresStore) DeleteMessage(ctx context.Context, roomID, messageID int64) error {
	query := `DELETE FROM messages WHERE room_id = $1 AND id = $2`

	_, err := db.pool.Exec(ctx, query, roomID, messageID)
	return err
}

func (db *PostgresStore) LoadRecentMessages(ctx context.Context, roomID, beforeID int64, limit int) ([]*models.Message, error) {
	query := `
		SELECT room_id, id, sender_id, sender_name, body, media, audio,
			COALESCE(reply_to, 0), COALESCE(thread_id, 0), spoiler, mentions, reply_count, created_at
		FROM (
			SELECT * FROM messages
			WHERE room_id = $1 AND ($2 = 0 OR id < $2)
			ORDER BY id DESC
			LIMIT $3
		) recent
		ORDER BY id ASC`

	rows, err := db.pool.Query(ctx, query, roomID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(
			&msg.RoomID, &msg.ID, &msg.SenderID, &msg.Sender, &msg.Body, &msg.Media, &msg.Audio,
			&msg.ReplyTo, &msg.ThreadID, &msg.Spoiler, &msg.Mentions, &msg.ReplyCount, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PostgresStore) LastMessageID(ctx context.Context, roomID int64) (int64, error) {
	query := `SELECT COALESCE(MAX(id), 0) FROM messages WHERE room_id = $1`

	var id int64
	if err := db.pool.QueryRow(ctx, query, roomID).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (db *PostgresStore) IncrementReplyCount(ctx context.Context, roomID, messageID int64) error {
	query := `UPDATE messages SET reply_count = reply_count + 1 WHERE room_id = $1 AND id = $2`

	_, err := db.pool.Exec(ctx, query, roomID, messageID)
	return err
}

// Reaction Repository Implementation
func (db *PostgresStore) AddReaction(ctx context.Context, r *models.Reaction) (bool, error) {
	query := `
		INSERT INTO reactions (room_id, message_id, user_id, kind, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (room_id, message_id, user_id, kind) DO NOTHING`

	tag, err := db.pool.Exec(ctx, query, r.RoomID, r.MessageID, r.UserID, r.Kind)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (db *PostgresStore) RemoveReaction(ctx context.Context, r *models.Reaction) (bool, error) {
	query := `DELETE FROM reactions WHERE room_id = $1 AND message_id = $2 AND user_id = $3 AND kind = $4`

	tag, err := db.pool.Exec(ctx, query, r.RoomID, r.MessageID, r.UserID, r.Kind)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (db *PostgresStore) DeleteReactionsForMessage(ctx context.Context, roomID, messageID int64) error {
	query := `DELETE FROM reactions WHERE room_id = $1 AND message_id = $2`

	_, err := db.pool.Exec(ctx, query, roomID, messageID)
	return err
}

// Thread Repository Implementation
func (db *PostgresStore) GetThread(ctx context.Context, threadID int64) (*models.Thread, error) {
	query := `SELECT id, parent_message_id, room_id FROM threads WHERE id = $1`

	thread := &models.Thread{}
	err := db.pool.QueryRow(ctx, query, threadID).Scan(
		&thread.ID, &thread.ParentMessageID, &thread.RoomID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return thread, nil
}

func (db *PostgresStore) GetThreadByParent(ctx context.Context, roomID, parentMessageID int64) (*models.Thread, error) {
	query := `SELECT id, parent_message_id, room_id FROM threads WHERE room_id = $1 AND parent_message_id = $2`

	thread := &models.Thread{}
	err := db.pool.QueryRow(ctx, query, roomID, parentMessageID).Scan(
		&thread.ID, &thread.ParentMessageID, &thread.RoomID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return thread, nil
}

func (db *PostgresStore) CreateThread(ctx context.Context, roomID, parentMessageID int64) (*models.Thread, error) {
	// ON CONFLICT returns the existing row so a lost race still yields the
	// same thread id.
	query := `
		INSERT INTO threads (room_id, parent_message_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (room_id, parent_message_id) DO UPDATE SET room_id = EXCLUDED.room_id
		RETURNING id, parent_message_id, room_id`

	thread := &models.Thread{}
	err := db.pool.QueryRow(ctx, query, roomID, parentMessageID).Scan(
		&thread.ID, &thread.ParentMessageID, &thread.RoomID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	return thread, nil
}

func (db *PostgresStore) LoadThreadMessages(ctx context.Context, threadID int64) ([]*models.Message, error) {
	query := `
		SELECT room_id, id, sender_id, sender_name, body, media, audio,
			COALESCE(reply_to, 0), COALESCE(thread_id, 0), spoiler, mentions, reply_count, created_at
		FROM messages WHERE thread_id = $1
		ORDER BY id ASC`

	rows, err := db.pool.Query(ctx, query, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(
			&msg.RoomID, &msg.ID, &msg.SenderID, &msg.Sender, &msg.Body, &msg.Media, &msg.Audio,
			&msg.ReplyTo, &msg.ThreadID, &msg.Spoiler, &msg.Mentions, &msg.ReplyCount, &msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// Media Store Implementation. Uploads live in object storage owned by the
// media service; this only unlinks the reference row, the blob reaper picks
// the rest up asynchronously.
func (db *PostgresStore) DeleteMedia(ctx context.Context, ref string) error {
	query := `DELETE FROM media_refs WHERE ref = $1`

	_, err := db.pool.Exec(ctx, query, ref)
	return err
}
