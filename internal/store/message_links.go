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

const messageLinkColumns = `id, channel_link_id, hazel_message_id, external_message_id, source, external_thread_id, external_root_message_id, last_synced_at, created_at, deleted_at`

// MessageLinkStore maintains the per-message identity map.
type MessageLinkStore struct {
	db db.DBTX
}

func NewMessageLinkStore(dbtx db.DBTX) *MessageLinkStore {
	return &MessageLinkStore{db: dbtx}
}

func scanMessageLink(row pgx.Row) (models.SyncMessageLink, error) {
	var (
		id            pgtype.UUID
		channelLinkID pgtype.UUID
		hazelMsgID    pgtype.UUID
		externalMsgID string
		source        string
		threadID      pgtype.Text
		rootMsgID     pgtype.Text
		lastSyncedAt  pgtype.Timestamptz
		createdAt     pgtype.Timestamptz
		deletedAt     pgtype.Timestamptz
	)
	if err := row.Scan(&id, &channelLinkID, &hazelMsgID, &externalMsgID, &source, &threadID, &rootMsgID, &lastSyncedAt, &createdAt, &deletedAt); err != nil {
		return models.SyncMessageLink{}, err
	}
	return models.SyncMessageLink{
		ID:                    db.UUIDToString(id),
		ChannelLinkID:         db.UUIDToString(channelLinkID),
		HazelMessageID:        db.UUIDToString(hazelMsgID),
		ExternalMessageID:     externalMsgID,
		Source:                models.EventSource(source),
		ExternalThreadID:      db.TextToString(threadID),
		ExternalRootMessageID: db.TextToString(rootMsgID),
		LastSyncedAt:          db.TimeToPtr(lastSyncedAt),
		CreatedAt:             db.TimeOrZero(createdAt),
		DeletedAt:             db.TimeToPtr(deletedAt),
	}, nil
}

// FindByHazelMessage returns the live link for a Hazel message within one
// channel link.
func (s *MessageLinkStore) FindByHazelMessage(ctx context.Context, channelLinkID, hazelMessageID string) (models.SyncMessageLink, error) {
	linkID, err := db.ParseUUID(channelLinkID)
	if err != nil {
		return models.SyncMessageLink{}, err
	}
	msgID, err := db.ParseUUID(hazelMessageID)
	if err != nil {
		return models.SyncMessageLink{}, err
	}
	query := `SELECT ` + messageLinkColumns + `
		FROM chat_sync_message_links
		WHERE channel_link_id = $1 AND hazel_message_id = $2 AND deleted_at IS NULL`
	link, err := scanMessageLink(s.db.QueryRow(ctx, query, linkID, msgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SyncMessageLink{}, ErrNotFound
	}
	if err != nil {
		return models.SyncMessageLink{}, fmt.Errorf("find message link by hazel message: %w", err)
	}
	return link, nil
}

// FindByExternalMessage returns the live link for an external message within
// one channel link.
func (s *MessageLinkStore) FindByExternalMessage(ctx context.Context, channelLinkID, externalMessageID string) (models.SyncMessageLink, error) {
	linkID, err := db.ParseUUID(channelLinkID)
	if err != nil {
		return models.SyncMessageLink{}, err
	}
	query := `SELECT ` + messageLinkColumns + `
		FROM chat_sync_message_links
		WHERE channel_link_id = $1 AND external_message_id = $2 AND deleted_at IS NULL`
	link, err := scanMessageLink(s.db.QueryRow(ctx, query, linkID, externalMessageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SyncMessageLink{}, ErrNotFound
	}
	if err != nil {
		return models.SyncMessageLink{}, fmt.Errorf("find message link by external message: %w", err)
	}
	return link, nil
}

// InsertMessageLinkParams carries the fields of a new message link.
type InsertMessageLinkParams struct {
	ChannelLinkID         string
	HazelMessageID        string
	ExternalMessageID     string
	Source                models.EventSource
	ExternalThreadID      string
	ExternalRootMessageID string
}

// Insert records a freshly mirrored pair. The row is born synced.
func (s *MessageLinkStore) Insert(ctx context.Context, params InsertMessageLinkParams) (models.SyncMessageLink, error) {
	id, err := db.ParseUUID(uuid.NewString())
	if err != nil {
		return models.SyncMessageLink{}, err
	}
	linkID, err := db.ParseUUID(params.ChannelLinkID)
	if err != nil {
		return models.SyncMessageLink{}, err
	}
	msgID, err := db.ParseUUID(params.HazelMessageID)
	if err != nil {
		return models.SyncMessageLink{}, err
	}
	query := `INSERT INTO chat_sync_message_links
		(id, channel_link_id, hazel_message_id, external_message_id, source, external_thread_id, external_root_message_id, last_synced_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING ` + messageLinkColumns
	link, err := scanMessageLink(s.db.QueryRow(ctx, query,
		id, linkID, msgID, params.ExternalMessageID, string(params.Source),
		db.ToText(params.ExternalThreadID), db.ToText(params.ExternalRootMessageID)))
	if err != nil {
		return models.SyncMessageLink{}, fmt.Errorf("insert message link: %w", err)
	}
	return link, nil
}

// SetExternalThread records the provider-side thread spawned from the
// linked message.
func (s *MessageLinkStore) SetExternalThread(ctx context.Context, id, externalThreadID string) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	query := `UPDATE chat_sync_message_links
		SET external_thread_id = $2, last_synced_at = now()
		WHERE id = $1 AND deleted_at IS NULL`
	if _, err := s.db.Exec(ctx, query, uid, db.ToText(externalThreadID)); err != nil {
		return fmt.Errorf("set message link thread: %w", err)
	}
	return nil
}

// UpdateLastSyncedAt stamps the message link heartbeat.
func (s *MessageLinkStore) UpdateLastSyncedAt(ctx context.Context, id string) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	query := `UPDATE chat_sync_message_links
		SET last_synced_at = now()
		WHERE id = $1 AND deleted_at IS NULL`
	if _, err := s.db.Exec(ctx, query, uid); err != nil {
		return fmt.Errorf("update message link last_synced_at: %w", err)
	}
	return nil
}

// SoftDelete retires a link after either side of the pair is deleted.
func (s *MessageLinkStore) SoftDelete(ctx context.Context, id string) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	query := `UPDATE chat_sync_message_links
		SET deleted_at = now()
		WHERE id = $1 AND deleted_at IS NULL`
	if _, err := s.db.Exec(ctx, query, uid); err != nil {
		return fmt.Errorf("soft delete message link: %w", err)
	}
	return nil
}
