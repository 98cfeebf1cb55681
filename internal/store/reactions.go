package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hazelchat/hazelsync/internal/db"
)

// ReactionStore writes mirrored emoji reactions on Hazel messages.
type ReactionStore struct {
	db db.DBTX
}

func NewReactionStore(dbtx db.DBTX) *ReactionStore {
	return &ReactionStore{db: dbtx}
}

// Upsert records a reaction. Re-adding an existing live reaction is a no-op.
func (s *ReactionStore) Upsert(ctx context.Context, messageID, userID, emoji string) error {
	id, err := db.ParseUUID(uuid.NewString())
	if err != nil {
		return err
	}
	msgID, err := db.ParseUUID(messageID)
	if err != nil {
		return err
	}
	uid, err := db.ParseUUID(userID)
	if err != nil {
		return err
	}
	query := `INSERT INTO message_reactions
		(id, message_id, user_id, emoji, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (message_id, user_id, emoji) WHERE deleted_at IS NULL DO NOTHING`
	if _, err := s.db.Exec(ctx, query, id, msgID, uid, emoji); err != nil {
		return fmt.Errorf("upsert reaction: %w", err)
	}
	return nil
}

// SoftDelete retires a live reaction. Removing an absent reaction is a no-op.
func (s *ReactionStore) SoftDelete(ctx context.Context, messageID, userID, emoji string) error {
	msgID, err := db.ParseUUID(messageID)
	if err != nil {
		return err
	}
	uid, err := db.ParseUUID(userID)
	if err != nil {
		return err
	}
	query := `UPDATE message_reactions
		SET deleted_at = now()
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3 AND deleted_at IS NULL`
	if _, err := s.db.Exec(ctx, query, msgID, uid, emoji); err != nil {
		return fmt.Errorf("soft delete reaction: %w", err)
	}
	return nil
}
