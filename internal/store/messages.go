package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/hazelchat/hazelsync/internal/db"
	"github.com/hazelchat/hazelsync/internal/models"
)

// ErrActorMismatch is returned when a non-system actor writes a message it
// does not author.
var ErrActorMismatch = errors.New("store: actor does not match message author")

const messageColumns = `id, channel_id, author_id, content, reply_to_message_id, thread_id, created_at, updated_at, deleted_at`

// MessageStore reads and writes Hazel messages. Writes carry an actor so
// mirrored content is attributed to the resolved author while the engine
// itself writes as the system actor.
type MessageStore struct {
	db db.DBTX
}

func NewMessageStore(dbtx db.DBTX) *MessageStore {
	return &MessageStore{db: dbtx}
}

func scanMessage(row pgx.Row) (models.Message, error) {
	var (
		id        pgtype.UUID
		channelID pgtype.UUID
		authorID  pgtype.UUID
		content   string
		replyTo   pgtype.UUID
		threadID  pgtype.UUID
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
		deletedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &channelID, &authorID, &content, &replyTo, &threadID, &createdAt, &updatedAt, &deletedAt); err != nil {
		return models.Message{}, err
	}
	return models.Message{
		ID:               db.UUIDToString(id),
		ChannelID:        db.UUIDToString(channelID),
		AuthorID:         db.UUIDToString(authorID),
		Content:          content,
		ReplyToMessageID: db.UUIDToString(replyTo),
		ThreadID:         db.UUIDToString(threadID),
		CreatedAt:        db.TimeOrZero(createdAt),
		UpdatedAt:        db.TimeOrZero(updatedAt),
		DeletedAt:        db.TimeToPtr(deletedAt),
	}, nil
}

// FindByID returns a message including soft-deleted rows. Deletion fan-out
// runs after the Hazel row is already gone, so callers inspect DeletedAt
// themselves.
func (s *MessageStore) FindByID(ctx context.Context, id string) (models.Message, error) {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return models.Message{}, err
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	msg, err := scanMessage(s.db.QueryRow(ctx, query, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Message{}, ErrNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("find message: %w", err)
	}
	return msg, nil
}

// InsertMessageParams carries the fields of a new message.
type InsertMessageParams struct {
	ChannelID        string
	AuthorID         string
	Content          string
	ReplyToMessageID string
	ThreadID         string
}

// Insert creates a message on behalf of the actor.
func (s *MessageStore) Insert(ctx context.Context, actor models.Actor, params InsertMessageParams) (models.Message, error) {
	if !actor.System && actor.UserID != params.AuthorID {
		return models.Message{}, ErrActorMismatch
	}
	id, err := db.ParseUUID(uuid.NewString())
	if err != nil {
		return models.Message{}, err
	}
	channelID, err := db.ParseUUID(params.ChannelID)
	if err != nil {
		return models.Message{}, err
	}
	authorID, err := db.ParseUUID(params.AuthorID)
	if err != nil {
		return models.Message{}, err
	}
	replyTo, err := db.ParseOptionalUUID(params.ReplyToMessageID)
	if err != nil {
		return models.Message{}, err
	}
	threadID, err := db.ParseOptionalUUID(params.ThreadID)
	if err != nil {
		return models.Message{}, err
	}
	query := `INSERT INTO messages
		(id, channel_id, author_id, content, reply_to_message_id, thread_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING ` + messageColumns
	msg, err := scanMessage(s.db.QueryRow(ctx, query, id, channelID, authorID, params.Content, replyTo, threadID))
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// UpdateContent replaces a live message's content on behalf of the actor.
func (s *MessageStore) UpdateContent(ctx context.Context, actor models.Actor, id, content string) (models.Message, error) {
	current, err := s.FindByID(ctx, id)
	if err != nil {
		return models.Message{}, err
	}
	if !actor.System && actor.UserID != current.AuthorID {
		return models.Message{}, ErrActorMismatch
	}
	uid, err := db.ParseUUID(id)
	if err != nil {
		return models.Message{}, err
	}
	query := `UPDATE messages
		SET content = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + messageColumns
	msg, err := scanMessage(s.db.QueryRow(ctx, query, uid, content))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Message{}, ErrNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("update message: %w", err)
	}
	return msg, nil
}

// SoftDelete retires a live message on behalf of the actor.
func (s *MessageStore) SoftDelete(ctx context.Context, actor models.Actor, id string) error {
	current, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.System && actor.UserID != current.AuthorID {
		return ErrActorMismatch
	}
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	query := `UPDATE messages
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`
	if _, err := s.db.Exec(ctx, query, uid); err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	return nil
}

// FindUnsyncedByChannel lists live messages in a channel that carry no live
// message link under the given channel link, oldest first with id as the
// tiebreaker so repeated backfills walk a stable order.
func (s *MessageStore) FindUnsyncedByChannel(ctx context.Context, hazelChannelID, channelLinkID string, limit int) ([]models.Message, error) {
	channelID, err := db.ParseUUID(hazelChannelID)
	if err != nil {
		return nil, err
	}
	linkID, err := db.ParseUUID(channelLinkID)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + messageColumns + `
		FROM messages m
		WHERE m.channel_id = $1 AND m.deleted_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM chat_sync_message_links ml
			WHERE ml.channel_link_id = $2
			  AND ml.hazel_message_id = m.id
			  AND ml.deleted_at IS NULL
		  )
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT $3`
	rows, err := s.db.Query(ctx, query, channelID, linkID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsynced messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
