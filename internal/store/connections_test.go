package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazelchat/hazelsync/internal/models"
)

const (
	testConnID = "7b0ff400-97f7-4f49-a4f5-0771a2d01f86"
	testOrgID  = "3c9adbbb-11b2-4f52-b4a5-cf33c73b8844"
)

func TestFindByIDMapsNoRows(t *testing.T) {
	dbtx := &fakeDBTX{
		queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
			return makeNoRow()
		},
	}

	_, err := NewConnectionStore(dbtx).FindByID(context.Background(), testConnID)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByIDScansConnection(t *testing.T) {
	dbtx := &fakeDBTX{
		queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
			return fakeRow{scanFunc: func(dest ...any) error {
				*(dest[0].(*pgtype.UUID)) = mustParseUUID(t, testConnID)
				*(dest[1].(*pgtype.UUID)) = mustParseUUID(t, testOrgID)
				*(dest[2].(*string)) = "discord"
				*(dest[3].(*string)) = "guild-1"
				*(dest[4].(*string)) = "active"
				*(dest[5].(*pgtype.Timestamptz)) = pgtype.Timestamptz{}
				*(dest[6].(*pgtype.UUID)) = pgtype.UUID{}
				*(dest[7].(*pgtype.Timestamptz)) = pgtype.Timestamptz{Time: time.Unix(10, 0), Valid: true}
				*(dest[8].(*pgtype.Timestamptz)) = pgtype.Timestamptz{Time: time.Unix(20, 0), Valid: true}
				return nil
			}}
		},
	}

	conn, err := NewConnectionStore(dbtx).FindByID(context.Background(), testConnID)

	require.NoError(t, err)
	assert.Equal(t, testConnID, conn.ID)
	assert.Equal(t, testOrgID, conn.OrganizationID)
	assert.Equal(t, models.ProviderDiscord, conn.Provider)
	assert.Equal(t, "guild-1", conn.ExternalWorkspaceID)
	assert.Equal(t, models.ConnectionStatusActive, conn.Status)
	assert.Nil(t, conn.LastSyncedAt)
	assert.Empty(t, conn.CreatedBy)
}

func TestFindActiveByProviderFiltersStatus(t *testing.T) {
	var gotArgs []interface{}
	dbtx := &fakeDBTX{
		queryFunc: func(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
			gotArgs = args
			return &fakeRows{}, nil
		},
	}

	conns, err := NewConnectionStore(dbtx).FindActiveByProvider(context.Background(), models.ProviderDiscord)

	require.NoError(t, err)
	assert.Empty(t, conns)
	require.Len(t, gotArgs, 2)
	assert.Equal(t, "discord", gotArgs[0])
	assert.Equal(t, "active", gotArgs[1])
}

func TestUpdateLastSyncedAtRejectsBadID(t *testing.T) {
	dbtx := &fakeDBTX{}

	err := NewConnectionStore(dbtx).UpdateLastSyncedAt(context.Background(), "nope")

	require.Error(t, err)
}
