package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hazelchat/hazelsync/internal/db"
)

// OrgMemberStore maintains organization memberships for shadow users.
type OrgMemberStore struct {
	db db.DBTX
}

func NewOrgMemberStore(dbtx db.DBTX) *OrgMemberStore {
	return &OrgMemberStore{db: dbtx}
}

// Upsert ensures the user belongs to the organization. An existing
// membership keeps its original role and joined_at.
func (s *OrgMemberStore) Upsert(ctx context.Context, organizationID, userID, role string) error {
	id, err := db.ParseUUID(uuid.NewString())
	if err != nil {
		return err
	}
	orgID, err := db.ParseUUID(organizationID)
	if err != nil {
		return err
	}
	uid, err := db.ParseUUID(userID)
	if err != nil {
		return err
	}
	query := `INSERT INTO organization_members
		(id, organization_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (organization_id, user_id) DO NOTHING`
	if _, err := s.db.Exec(ctx, query, id, orgID, uid, role); err != nil {
		return fmt.Errorf("upsert organization member: %w", err)
	}
	return nil
}
