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

const connectionColumns = `id, organization_id, provider, external_workspace_id, status, last_synced_at, created_by, created_at, updated_at`

// ConnectionStore reads and heartbeats sync connections.
type ConnectionStore struct {
	db db.DBTX
}

func NewConnectionStore(dbtx db.DBTX) *ConnectionStore {
	return &ConnectionStore{db: dbtx}
}

func scanConnection(row pgx.Row) (models.SyncConnection, error) {
	var (
		id           pgtype.UUID
		orgID        pgtype.UUID
		provider     string
		workspaceID  string
		status       string
		lastSyncedAt pgtype.Timestamptz
		createdBy    pgtype.UUID
		createdAt    pgtype.Timestamptz
		updatedAt    pgtype.Timestamptz
	)
	if err := row.Scan(&id, &orgID, &provider, &workspaceID, &status, &lastSyncedAt, &createdBy, &createdAt, &updatedAt); err != nil {
		return models.SyncConnection{}, err
	}
	return models.SyncConnection{
		ID:                  db.UUIDToString(id),
		OrganizationID:      db.UUIDToString(orgID),
		Provider:            models.Provider(provider),
		ExternalWorkspaceID: workspaceID,
		Status:              models.ConnectionStatus(status),
		LastSyncedAt:        db.TimeToPtr(lastSyncedAt),
		CreatedBy:           db.UUIDToString(createdBy),
		CreatedAt:           db.TimeOrZero(createdAt),
		UpdatedAt:           db.TimeOrZero(updatedAt),
	}, nil
}

// FindByID returns a live connection regardless of its status.
func (s *ConnectionStore) FindByID(ctx context.Context, id string) (models.SyncConnection, error) {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return models.SyncConnection{}, err
	}
	query := `SELECT ` + connectionColumns + `
		FROM chat_sync_connections
		WHERE id = $1 AND deleted_at IS NULL`
	conn, err := scanConnection(s.db.QueryRow(ctx, query, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SyncConnection{}, ErrNotFound
	}
	if err != nil {
		return models.SyncConnection{}, fmt.Errorf("find sync connection: %w", err)
	}
	return conn, nil
}

// FindActiveByProvider lists active connections for one provider, for sweeps.
func (s *ConnectionStore) FindActiveByProvider(ctx context.Context, provider models.Provider) ([]models.SyncConnection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM chat_sync_connections
		WHERE provider = $1 AND status = $2 AND deleted_at IS NULL
		ORDER BY created_at`
	rows, err := s.db.Query(ctx, query, string(provider), string(models.ConnectionStatusActive))
	if err != nil {
		return nil, fmt.Errorf("list sync connections: %w", err)
	}
	defer rows.Close()

	var conns []models.SyncConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync connection: %w", err)
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// UpdateLastSyncedAt stamps the connection heartbeat.
func (s *ConnectionStore) UpdateLastSyncedAt(ctx context.Context, id string) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	query := `UPDATE chat_sync_connections
		SET last_synced_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`
	if _, err := s.db.Exec(ctx, query, uid); err != nil {
		return fmt.Errorf("update connection last_synced_at: %w", err)
	}
	return nil
}

// UpdateStatus transitions a connection between active, inactive, and error.
func (s *ConnectionStore) UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return err
	}
	query := `UPDATE chat_sync_connections
		SET status = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`
	if _, err := s.db.Exec(ctx, query, uid, string(status)); err != nil {
		return fmt.Errorf("update connection status: %w", err)
	}
	return nil
}
