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

const receiptColumns = `id, sync_connection_id, channel_link_id, source, dedupe_key, payload_hash, status, error_message, processed_at, created_at, updated_at`

// ReceiptStore is the event receipt ledger. The unique key on
// (sync_connection_id, source, dedupe_key) is what makes claims atomic.
type ReceiptStore struct {
	db db.DBTX
}

func NewReceiptStore(dbtx db.DBTX) *ReceiptStore {
	return &ReceiptStore{db: dbtx}
}

func scanReceipt(row pgx.Row) (models.EventReceipt, error) {
	var (
		id           pgtype.UUID
		connID       pgtype.UUID
		linkID       pgtype.UUID
		source       string
		dedupeKey    string
		payloadHash  pgtype.Text
		status       string
		errorMessage pgtype.Text
		processedAt  pgtype.Timestamptz
		createdAt    pgtype.Timestamptz
		updatedAt    pgtype.Timestamptz
	)
	if err := row.Scan(&id, &connID, &linkID, &source, &dedupeKey, &payloadHash, &status, &errorMessage, &processedAt, &createdAt, &updatedAt); err != nil {
		return models.EventReceipt{}, err
	}
	return models.EventReceipt{
		ID:               db.UUIDToString(id),
		SyncConnectionID: db.UUIDToString(connID),
		ChannelLinkID:    db.UUIDToString(linkID),
		Source:           models.EventSource(source),
		DedupeKey:        dedupeKey,
		PayloadHash:      db.TextToString(payloadHash),
		Status:           models.ReceiptStatus(status),
		ErrorMessage:     db.TextToString(errorMessage),
		ProcessedAt:      db.TimeToPtr(processedAt),
		CreatedAt:        db.TimeOrZero(createdAt),
		UpdatedAt:        db.TimeOrZero(updatedAt),
	}, nil
}

// ClaimReceiptParams identifies the event being claimed.
type ClaimReceiptParams struct {
	SyncConnectionID string
	ChannelLinkID    string
	Source           models.EventSource
	DedupeKey        string
}

// Claim inserts a claimed receipt and reports whether this caller won.
// A conflicting row, whatever its status, means the event was already
// claimed and the caller must stand down.
func (s *ReceiptStore) Claim(ctx context.Context, params ClaimReceiptParams) (bool, error) {
	id, err := db.ParseUUID(uuid.NewString())
	if err != nil {
		return false, err
	}
	connID, err := db.ParseUUID(params.SyncConnectionID)
	if err != nil {
		return false, err
	}
	linkID, err := db.ParseOptionalUUID(params.ChannelLinkID)
	if err != nil {
		return false, err
	}
	query := `INSERT INTO chat_sync_event_receipts
		(id, sync_connection_id, channel_link_id, source, dedupe_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (sync_connection_id, source, dedupe_key) DO NOTHING`
	tag, err := s.db.Exec(ctx, query,
		id, connID, linkID, string(params.Source), params.DedupeKey,
		string(models.ReceiptStatusClaimed))
	if err != nil {
		return false, fmt.Errorf("claim event receipt: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateReceiptParams carries the terminal outcome of a claimed event.
// ChannelLinkID is only written when set; claims taken before the link
// was resolved keep whatever the commit supplies.
type UpdateReceiptParams struct {
	SyncConnectionID string
	ChannelLinkID    string
	Source           models.EventSource
	DedupeKey        string
	Status           models.ReceiptStatus
	PayloadHash      string
	ErrorMessage     string
}

// Update commits the outcome of a claimed receipt, stamping processed_at.
func (s *ReceiptStore) Update(ctx context.Context, params UpdateReceiptParams) error {
	connID, err := db.ParseUUID(params.SyncConnectionID)
	if err != nil {
		return err
	}
	linkID, err := db.ParseOptionalUUID(params.ChannelLinkID)
	if err != nil {
		return err
	}
	query := `UPDATE chat_sync_event_receipts
		SET status = $4, payload_hash = $5, error_message = $6,
			channel_link_id = COALESCE($7, channel_link_id),
			processed_at = now(), updated_at = now()
		WHERE sync_connection_id = $1 AND source = $2 AND dedupe_key = $3`
	if _, err := s.db.Exec(ctx, query,
		connID, string(params.Source), params.DedupeKey,
		string(params.Status), db.ToText(params.PayloadHash),
		db.ToText(params.ErrorMessage), linkID); err != nil {
		return fmt.Errorf("update event receipt: %w", err)
	}
	return nil
}

// FindByDedupeKey returns the receipt for one event, for diagnostics.
func (s *ReceiptStore) FindByDedupeKey(ctx context.Context, syncConnectionID string, source models.EventSource, dedupeKey string) (models.EventReceipt, error) {
	connID, err := db.ParseUUID(syncConnectionID)
	if err != nil {
		return models.EventReceipt{}, err
	}
	query := `SELECT ` + receiptColumns + `
		FROM chat_sync_event_receipts
		WHERE sync_connection_id = $1 AND source = $2 AND dedupe_key = $3`
	receipt, err := scanReceipt(s.db.QueryRow(ctx, query, connID, string(source), dedupeKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EventReceipt{}, ErrNotFound
	}
	if err != nil {
		return models.EventReceipt{}, fmt.Errorf("find event receipt: %w", err)
	}
	return receipt, nil
}
