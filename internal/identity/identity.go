// Package identity maps external chat accounts onto internal users. Linked
// accounts resolve through integration connections; everyone else gets a
// provider-scoped shadow user so mirrored messages always have an author.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazelchat/hazelsync/internal/models"
	"github.com/hazelchat/hazelsync/internal/store"
)

// ExternalAuthor is what a provider event tells us about its sender.
type ExternalAuthor struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// UserRepo is the slice of the user store the resolver needs.
type UserRepo interface {
	UpsertByExternalID(ctx context.Context, params store.UpsertUserParams, syncAvatarURL bool) (models.User, error)
}

// MemberRepo grants organization membership to resolved users.
type MemberRepo interface {
	Upsert(ctx context.Context, organizationID, userID, role string) error
}

// IntegrationRepo looks up explicitly linked accounts.
type IntegrationRepo interface {
	FindActiveUserID(ctx context.Context, organizationID string, provider models.Provider, externalAccountID string) (string, error)
}

// Resolver turns external authors into internal user ids.
type Resolver struct {
	log          *slog.Logger
	users        UserRepo
	members      MemberRepo
	integrations IntegrationRepo
}

func NewResolver(log *slog.Logger, users UserRepo, members MemberRepo, integrations IntegrationRepo) *Resolver {
	return &Resolver{
		log:          log.With(slog.String("component", "identity")),
		users:        users,
		members:      members,
		integrations: integrations,
	}
}

// ResolveAuthor returns the internal user id for an external author. An
// active integration connection wins; otherwise a shadow user is upserted
// and enrolled in the organization. The avatar only syncs when the event
// actually carried one, so absent avatars never erase a stored one.
func (r *Resolver) ResolveAuthor(ctx context.Context, provider models.Provider, organizationID string, author ExternalAuthor) (string, error) {
	userID, err := r.integrations.FindActiveUserID(ctx, organizationID, provider, author.ID)
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("look up integration connection: %w", err)
	}

	displayName := author.DisplayName
	if displayName == "" {
		displayName = models.ShadowUserFallbackName
	}
	user, err := r.users.UpsertByExternalID(ctx, store.UpsertUserParams{
		ExternalID: models.ShadowUserExternalID(provider, author.ID),
		Email:      models.ShadowUserEmail(provider, author.ID),
		FirstName:  displayName,
		AvatarURL:  author.AvatarURL,
		UserType:   models.UserTypeMachine,
	}, author.AvatarURL != "")
	if err != nil {
		return "", fmt.Errorf("upsert shadow user: %w", err)
	}
	if err := r.members.Upsert(ctx, organizationID, user.ID, models.MemberRoleMember); err != nil {
		return "", fmt.Errorf("enroll shadow user: %w", err)
	}

	r.log.Debug("resolved shadow author",
		slog.String("provider", string(provider)),
		slog.String("external_user_id", author.ID),
		slog.String("user_id", user.ID))
	return user.ID, nil
}

// BotProvisioner owns the per-provider bridge account used as the author of
// record when an external event has no attributable sender.
type BotProvisioner struct {
	log     *slog.Logger
	users   UserRepo
	members MemberRepo
}

func NewBotProvisioner(log *slog.Logger, users UserRepo, members MemberRepo) *BotProvisioner {
	return &BotProvisioner{
		log:     log.With(slog.String("component", "identity")),
		users:   users,
		members: members,
	}
}

// GetOrCreateBotUser upserts the provider's bridge account and enrolls it in
// the organization. The upsert keyed on external id makes repeat calls cheap
// and race-free.
func (b *BotProvisioner) GetOrCreateBotUser(ctx context.Context, provider models.Provider, organizationID string) (string, error) {
	user, err := b.users.UpsertByExternalID(ctx, store.UpsertUserParams{
		ExternalID: models.BotUserExternalID(provider),
		Email:      models.BotUserEmail(provider),
		FirstName:  models.BotDisplayName,
		UserType:   models.UserTypeMachine,
	}, false)
	if err != nil {
		return "", fmt.Errorf("upsert bot user: %w", err)
	}
	if err := b.members.Upsert(ctx, organizationID, user.ID, models.MemberRoleMember); err != nil {
		return "", fmt.Errorf("enroll bot user: %w", err)
	}
	return user.ID, nil
}
