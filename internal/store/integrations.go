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

// IntegrationStore reads account integrations. A matching row lets ingress
// attribute an external event to a real Hazel user instead of a shadow one.
type IntegrationStore struct {
	db db.DBTX
}

func NewIntegrationStore(dbtx db.DBTX) *IntegrationStore {
	return &IntegrationStore{db: dbtx}
}

// FindActiveUserID maps an external account to the linked Hazel user id.
func (s *IntegrationStore) FindActiveUserID(ctx context.Context, organizationID string, provider models.Provider, externalAccountID string) (string, error) {
	orgID, err := db.ParseUUID(organizationID)
	if err != nil {
		return "", err
	}
	query := `SELECT user_id FROM integration_connections
		WHERE organization_id = $1 AND provider = $2 AND external_account_id = $3
		  AND status = 'active' AND deleted_at IS NULL
		LIMIT 1`
	var userID pgtype.UUID
	err = s.db.QueryRow(ctx, query, orgID, string(provider), externalAccountID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find integration user: %w", err)
	}
	return db.UUIDToString(userID), nil
}
