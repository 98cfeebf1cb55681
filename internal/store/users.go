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

const userColumns = `id, external_id, email, first_name, avatar_url, user_type, created_at, updated_at`

// UserStore reads and upserts Hazel users, including the machine-typed
// shadow rows that stand in for external authors.
type UserStore struct {
	db db.DBTX
}

func NewUserStore(dbtx db.DBTX) *UserStore {
	return &UserStore{db: dbtx}
}

func scanUser(row pgx.Row) (models.User, error) {
	var (
		id         pgtype.UUID
		externalID pgtype.Text
		email      string
		firstName  string
		avatarURL  string
		userType   string
		createdAt  pgtype.Timestamptz
		updatedAt  pgtype.Timestamptz
	)
	if err := row.Scan(&id, &externalID, &email, &firstName, &avatarURL, &userType, &createdAt, &updatedAt); err != nil {
		return models.User{}, err
	}
	return models.User{
		ID:         db.UUIDToString(id),
		ExternalID: db.TextToString(externalID),
		Email:      email,
		FirstName:  firstName,
		AvatarURL:  avatarURL,
		UserType:   models.UserType(userType),
		CreatedAt:  db.TimeOrZero(createdAt),
		UpdatedAt:  db.TimeOrZero(updatedAt),
	}, nil
}

// FindByID returns a live user.
func (s *UserStore) FindByID(ctx context.Context, id string) (models.User, error) {
	uid, err := db.ParseUUID(id)
	if err != nil {
		return models.User{}, err
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`
	user, err := scanUser(s.db.QueryRow(ctx, query, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

// UpsertUserParams carries the identity fields of an upserted user.
type UpsertUserParams struct {
	ExternalID string
	Email      string
	FirstName  string
	AvatarURL  string
	UserType   models.UserType
}

// UpsertByExternalID creates or refreshes a user keyed by external id.
// Display name and email are refreshed on every event; the avatar only when
// syncAvatarURL is set, so an event that omits avatar data does not blank a
// previously synced one.
func (s *UserStore) UpsertByExternalID(ctx context.Context, params UpsertUserParams, syncAvatarURL bool) (models.User, error) {
	if params.ExternalID == "" {
		return models.User{}, errors.New("external id is required")
	}
	id, err := db.ParseUUID(uuid.NewString())
	if err != nil {
		return models.User{}, err
	}
	query := `INSERT INTO users
		(id, external_id, email, first_name, avatar_url, user_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (external_id) WHERE external_id IS NOT NULL DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			avatar_url = CASE WHEN $7 THEN EXCLUDED.avatar_url ELSE users.avatar_url END,
			updated_at = now()
		RETURNING ` + userColumns
	user, err := scanUser(s.db.QueryRow(ctx, query,
		id, params.ExternalID, params.Email, params.FirstName, params.AvatarURL,
		string(params.UserType), syncAvatarURL))
	if err != nil {
		return models.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}
