package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/hazelchat/hazelsync/internal/db"
	"github.com/hazelchat/hazelsync/internal/models"
)

const channelLinkColumns = `id, sync_connection_id, hazel_channel_id, external_channel_id, direction, is_active, last_synced_at, created_at, updated_at`

// ChannelLinkStore reads and heartbeats channel links.
type ChannelLinkStore struct {
	db db.DBTX
}

func NewChannelLinkStore(dbtx db.DBTX) *ChannelLinkStore {
	return &ChannelLinkStore{db: dbtx}
}

func scanChannelLink(row pgx.Row) (models.SyncChannelLink, error) {
	var (
		id             pgtype.UUID
		connID         pgtype.UUID
		hazelChannelID pgtype.UUID
		externalID     string
		direction      string
		isActive       bool
		lastSyncedAt   pgtype.Timestamptz
		createdAt      pgtype.Timestamptz
		updatedAt      pgtype.Timestamptz
	)
	if err := row.Scan(&id, &connID, &hazelChannelID, &externalID, &direction, &isActive, &lastSyncedAt, &createdAt, &updatedAt); err != nil {
		return models.SyncChannelLink{}, err
	}
	return models.SyncChannelLink{
		ID:                db.UUIDToString(id),
		SyncConnectionID:  db.UUIDToString(connID),
		HazelChannelID:    db.UUIDToString(hazelChannelID),
		ExternalChannelID: externalID,
		Direction:         models.LinkDirection(direction),
		IsActive:          isActive,
		LastSyncedAt:      db.TimeToPtr(lastSyncedAt),
		CreatedAt:         db.TimeOrZero(createdAt),
		UpdatedAt:         db.TimeOrZero(updatedAt),
	}, nil
}

// FindByID returns a live channel link.
func (s *ChannelLinkStore) FindByID(ctx context.Context, id string) (models.SyncChannelLink, error) {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return models.SyncChannelLink{}, err
	}
	query := `SELECT ` + channelLinkColumns + `
		FROM chat_sync_channel_links
		WHERE id = $1 AND deleted_at IS NULL`
	link, err := scanChannelLink(s.db.QueryRow(ctx, query, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SyncChannelLink{}, ErrNotFound
	}
	if err != nil {
		return models.SyncChannelLink{}, fmt.Errorf("find channel link: %w", err)
	}
	return link, nil
}

// FindByHazelChannel returns the live link for a Hazel channel within one
// connection.
func (s *ChannelLinkStore) FindByHazelChannel(ctx context.Context, syncConnectionID, hazelChannelID string) (models.SyncChannelLink, error) {
	connID, err := db.ParseUUID(syncConnectionID)
	if err != nil {
		return models.SyncChannelLink{}, err
	}
	channelID, err := db.ParseUUID(hazelChannelID)
	if err != nil {
		return models.SyncChannelLink{}, err
	}
	query := `SELECT ` + channelLinkColumns + `
		FROM chat_sync_channel_links
		WHERE sync_connection_id = $1 AND hazel_channel_id = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1`
	link, err := scanChannelLink(s.db.QueryRow(ctx, query, connID, channelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SyncChannelLink{}, ErrNotFound
	}
	if err != nil {
		return models.SyncChannelLink{}, fmt.Errorf("find channel link by hazel channel: %w", err)
	}
	return link, nil
}

// FindByExternalChannel returns the live link for an external channel within
// one connection.
func (s *ChannelLinkStore) FindByExternalChannel(ctx context.Context, syncConnectionID, externalChannelID string) (models.SyncChannelLink, error) {
	connID, err := db.ParseUUID(syncConnectionID)
	if err != nil {
		return models.SyncChannelLink{}, err
	}
	query := `SELECT ` + channelLinkColumns + `
		FROM chat_sync_channel_links
		WHERE sync_connection_id = $1 AND external_channel_id = $2 AND deleted_at IS NULL`
	link, err := scanChannelLink(s.db.QueryRow(ctx, query, connID, externalChannelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SyncChannelLink{}, ErrNotFound
	}
	if err != nil {
		return models.SyncChannelLink{}, fmt.Errorf("find channel link by external channel: %w", err)
	}
	return link, nil
}

// FindActiveByExternalChannel lists every active link for an external
// channel id. Gateway events carry no connection id, so the lookup spans
// connections; one external channel may feed several workspaces.
func (s *ChannelLinkStore) FindActiveByExternalChannel(ctx context.Context, externalChannelID string) ([]models.SyncChannelLink, error) {
	query := `SELECT ` + channelLinkColumns + `
		FROM chat_sync_channel_links
		WHERE external_channel_id = $1 AND is_active AND deleted_at IS NULL
		ORDER BY created_at`
	rows, err := s.db.Query(ctx, query, externalChannelID)
	if err != nil {
		return nil, fmt.Errorf("find active channel links by external channel: %w", err)
	}
	defer rows.Close()
	return collectChannelLinks(rows)
}

// FindActiveBySyncConnection lists active links of one connection, for
// backfill sweeps.
func (s *ChannelLinkStore) FindActiveBySyncConnection(ctx context.Context, syncConnectionID string) ([]models.SyncChannelLink, error) {
	connID, err := db.ParseUUID(syncConnectionID)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + channelLinkColumns + `
		FROM chat_sync_channel_links
		WHERE sync_connection_id = $1 AND is_active AND deleted_at IS NULL
		ORDER BY created_at`
	rows, err := s.db.Query(ctx, query, connID)
	if err != nil {
		return nil, fmt.Errorf("list channel links: %w", err)
	}
	defer rows.Close()
	return collectChannelLinks(rows)
}

// FindActiveOutboundTargets lists active links on active connections of one
// provider that mirror the given Hazel channel. Fan-out starts here.
func (s *ChannelLinkStore) FindActiveOutboundTargets(ctx context.Context, hazelChannelID string, provider models.Provider) ([]models.SyncChannelLink, error) {
	channelID, err := db.ParseUUID(hazelChannelID)
	if err != nil {
		return nil, err
	}
	query := `SELECT l.id, l.sync_connection_id, l.hazel_channel_id, l.external_channel_id, l.direction, l.is_active, l.last_synced_at, l.created_at, l.updated_at
		FROM chat_sync_channel_links l
		JOIN chat_sync_connections c ON c.id = l.sync_connection_id
		WHERE l.hazel_channel_id = $1
		  AND l.is_active AND l.deleted_at IS NULL
		  AND c.provider = $2 AND c.status = $3 AND c.deleted_at IS NULL
		ORDER BY l.created_at`
	rows, err := s.db.Query(ctx, query, channelID, string(provider), string(models.ConnectionStatusActive))
	if err != nil {
		return nil, fmt.Errorf("list outbound targets: %w", err)
	}
	defer rows.Close()
	return collectChannelLinks(rows)
}

func collectChannelLinks(rows pgx.Rows) ([]models.SyncChannelLink, error) {
	var links []models.SyncChannelLink
	for rows.Next() {
		link, err := scanChannelLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// UpdateLastSyncedAt stamps the link heartbeat.
func (s *ChannelLinkStore) UpdateLastSyncedAt(ctx context.Context, id string) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	query := `UPDATE chat_sync_channel_links
		SET last_synced_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`
	if _, err := s.db.Exec(ctx, query, uid); err != nil {
		return fmt.Errorf("update channel link last_synced_at: %w", err)
	}
	return nil
}
