package identity

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazelchat/hazelsync/internal/models"
	"github.com/hazelchat/hazelsync/internal/store"
)

const (
	testOrgID  = "3c9adbbb-11b2-4f52-b4a5-cf33c73b8844"
	testUserID = "7e14e86c-3996-479d-9c9d-389e2b174f7c"
)

type fakeUsers struct {
	gotParams     store.UpsertUserParams
	gotSyncAvatar bool
	user          models.User
	err           error
}

func (f *fakeUsers) UpsertByExternalID(ctx context.Context, params store.UpsertUserParams, syncAvatarURL bool) (models.User, error) {
	f.gotParams = params
	f.gotSyncAvatar = syncAvatarURL
	if f.err != nil {
		return models.User{}, f.err
	}
	return f.user, nil
}

type fakeMembers struct {
	gotOrgID  string
	gotUserID string
	gotRole   string
	calls     int
	err       error
}

func (f *fakeMembers) Upsert(ctx context.Context, organizationID, userID, role string) error {
	f.gotOrgID = organizationID
	f.gotUserID = userID
	f.gotRole = role
	f.calls++
	return f.err
}

type fakeIntegrations struct {
	userID string
	err    error
}

func (f *fakeIntegrations) FindActiveUserID(ctx context.Context, organizationID string, provider models.Provider, externalAccountID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.userID, nil
}

func TestResolveAuthorPrefersIntegration(t *testing.T) {
	users := &fakeUsers{}
	members := &fakeMembers{}
	resolver := NewResolver(slog.Default(), users, members,
		&fakeIntegrations{userID: testUserID})

	got, err := resolver.ResolveAuthor(context.Background(), models.ProviderDiscord, testOrgID,
		ExternalAuthor{ID: "discord-raw-123"})

	require.NoError(t, err)
	assert.Equal(t, testUserID, got)
	assert.Empty(t, users.gotParams.ExternalID, "no shadow upsert when the account is linked")
	assert.Zero(t, members.calls)
}

func TestResolveAuthorUpsertsShadowUser(t *testing.T) {
	users := &fakeUsers{user: models.User{ID: testUserID}}
	members := &fakeMembers{}
	resolver := NewResolver(slog.Default(), users, members,
		&fakeIntegrations{err: store.ErrNotFound})

	got, err := resolver.ResolveAuthor(context.Background(), models.ProviderDiscord, testOrgID,
		ExternalAuthor{ID: "555001", DisplayName: "Rin", AvatarURL: "https://cdn.discordapp.com/avatars/555001/a.png"})

	require.NoError(t, err)
	assert.Equal(t, testUserID, got)
	assert.Equal(t, "discord-user-555001", users.gotParams.ExternalID)
	assert.Equal(t, "555001@discord.internal", users.gotParams.Email)
	assert.Equal(t, "Rin", users.gotParams.FirstName)
	assert.Equal(t, models.UserTypeMachine, users.gotParams.UserType)
	assert.True(t, users.gotSyncAvatar)
	assert.Equal(t, testOrgID, members.gotOrgID)
	assert.Equal(t, models.MemberRoleMember, members.gotRole)
}

func TestResolveAuthorWithoutAvatarKeepsStoredOne(t *testing.T) {
	users := &fakeUsers{user: models.User{ID: testUserID}}
	resolver := NewResolver(slog.Default(), users, &fakeMembers{},
		&fakeIntegrations{err: store.ErrNotFound})

	_, err := resolver.ResolveAuthor(context.Background(), models.ProviderTelegram, testOrgID,
		ExternalAuthor{ID: "555001"})

	require.NoError(t, err)
	assert.False(t, users.gotSyncAvatar)
	assert.Equal(t, models.ShadowUserFallbackName, users.gotParams.FirstName)
}

func TestResolveAuthorPropagatesLookupError(t *testing.T) {
	boom := errors.New("connection refused")
	resolver := NewResolver(slog.Default(), &fakeUsers{}, &fakeMembers{},
		&fakeIntegrations{err: boom})

	_, err := resolver.ResolveAuthor(context.Background(), models.ProviderDiscord, testOrgID,
		ExternalAuthor{ID: "555001"})

	assert.ErrorIs(t, err, boom)
}

func TestGetOrCreateBotUser(t *testing.T) {
	users := &fakeUsers{user: models.User{ID: testUserID}}
	members := &fakeMembers{}
	bots := NewBotProvisioner(slog.Default(), users, members)

	got, err := bots.GetOrCreateBotUser(context.Background(), models.ProviderDiscord, testOrgID)

	require.NoError(t, err)
	assert.Equal(t, testUserID, got)
	assert.Equal(t, "discord-bot", users.gotParams.ExternalID)
	assert.Equal(t, "discord-bot@discord.internal", users.gotParams.Email)
	assert.Equal(t, models.BotDisplayName, users.gotParams.FirstName)
	assert.Equal(t, models.UserTypeMachine, users.gotParams.UserType)
	assert.False(t, users.gotSyncAvatar)
	assert.Equal(t, testUserID, members.gotUserID)
}

func TestGetOrCreateBotUserMembershipFailure(t *testing.T) {
	boom := errors.New("deadlock detected")
	bots := NewBotProvisioner(slog.Default(),
		&fakeUsers{user: models.User{ID: testUserID}},
		&fakeMembers{err: boom})

	_, err := bots.GetOrCreateBotUser(context.Background(), models.ProviderLark, testOrgID)

	assert.ErrorIs(t, err, boom)
}
